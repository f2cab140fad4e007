// Package kafkastats surfaces broker metadata for the dashboard: topic
// partition layout, latest offsets, and consumer group state. Results are
// cached briefly so the HTTP endpoint and the periodic stream push don't
// hammer the admin API.
package kafkastats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// CacheTTL is how long a fetched snapshot stays fresh.
const CacheTTL = 8 * time.Second

// PartitionStats describes one partition of a monitored topic.
type PartitionStats struct {
	PartitionID  int   `json:"partitionId"`
	Leader       int   `json:"leader"`
	Replicas     []int `json:"replicas"`
	ISR          []int `json:"isr"`
	LatestOffset int64 `json:"latestOffset"`
}

// TopicStats describes one monitored topic.
type TopicStats struct {
	Name       string           `json:"name"`
	Partitions []PartitionStats `json:"partitions"`
}

// GroupStats describes the engine's consumer group.
type GroupStats struct {
	GroupID string `json:"groupId"`
	State   string `json:"state"`
	Members int    `json:"members"`
}

// Stats is one snapshot of broker state.
type Stats struct {
	Topics        []TopicStats `json:"topics"`
	ConsumerGroup *GroupStats  `json:"consumerGroup"`
	FetchedAt     time.Time    `json:"fetchedAt"`
}

// Fetcher produces a fresh stats snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*Stats, error)
}

// ClientFetcher reads stats from the brokers via the kafka-go admin client.
type ClientFetcher struct {
	client  *kafka.Client
	topics  []string
	groupID string
}

// NewClientFetcher creates a broker-backed fetcher for the given topics and
// consumer group.
func NewClientFetcher(brokers []string, topics []string, groupID string) *ClientFetcher {
	return &ClientFetcher{
		client:  &kafka.Client{Addr: kafka.TCP(brokers...)},
		topics:  topics,
		groupID: groupID,
	}
}

func (f *ClientFetcher) Fetch(ctx context.Context) (*Stats, error) {
	meta, err := f.client.Metadata(ctx, &kafka.MetadataRequest{Topics: f.topics})
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	offsets, err := f.latestOffsets(ctx, meta)
	if err != nil {
		return nil, err
	}

	stats := &Stats{FetchedAt: time.Now().UTC()}
	for _, t := range meta.Topics {
		if t.Error != nil {
			continue
		}
		ts := TopicStats{Name: t.Name}
		for _, p := range t.Partitions {
			ts.Partitions = append(ts.Partitions, PartitionStats{
				PartitionID:  p.ID,
				Leader:       p.Leader.ID,
				Replicas:     brokerIDs(p.Replicas),
				ISR:          brokerIDs(p.Isr),
				LatestOffset: offsets[t.Name][p.ID],
			})
		}
		stats.Topics = append(stats.Topics, ts)
	}

	// Group description failures degrade to a nil group rather than failing
	// the whole snapshot.
	if groups, err := f.client.DescribeGroups(ctx, &kafka.DescribeGroupsRequest{
		GroupIDs: []string{f.groupID},
	}); err == nil {
		for _, g := range groups.Groups {
			if g.GroupID != f.groupID || g.Error != nil {
				continue
			}
			stats.ConsumerGroup = &GroupStats{
				GroupID: g.GroupID,
				State:   g.GroupState,
				Members: len(g.Members),
			}
		}
	}

	return stats, nil
}

func (f *ClientFetcher) latestOffsets(ctx context.Context, meta *kafka.MetadataResponse) (map[string]map[int]int64, error) {
	req := &kafka.ListOffsetsRequest{Topics: make(map[string][]kafka.OffsetRequest)}
	for _, t := range meta.Topics {
		if t.Error != nil {
			continue
		}
		for _, p := range t.Partitions {
			req.Topics[t.Name] = append(req.Topics[t.Name], kafka.LastOffsetOf(p.ID))
		}
	}

	out := make(map[string]map[int]int64)
	if len(req.Topics) == 0 {
		return out, nil
	}

	resp, err := f.client.ListOffsets(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list offsets: %w", err)
	}
	for topic, partitions := range resp.Topics {
		out[topic] = make(map[int]int64)
		for _, p := range partitions {
			if p.Error != nil {
				continue
			}
			out[topic][p.Partition] = p.LastOffset
		}
	}
	return out, nil
}

func brokerIDs(brokers []kafka.Broker) []int {
	ids := make([]int, 0, len(brokers))
	for _, b := range brokers {
		ids = append(ids, b.ID)
	}
	return ids
}

// Cache wraps a Fetcher with a TTL. A fetch error after a successful fetch
// serves the stale snapshot instead of failing.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration

	mu        sync.Mutex
	last      *Stats
	fetchedAt time.Time
}

// NewCache creates a stats cache with the default TTL.
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher, ttl: CacheTTL}
}

// WithTTL overrides the cache TTL.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// Get returns the cached snapshot, refreshing it when stale.
func (c *Cache) Get(ctx context.Context) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.last, nil
	}

	stats, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if c.last != nil {
			return c.last, nil
		}
		return nil, err
	}
	c.last = stats
	c.fetchedAt = time.Now()
	return stats, nil
}
