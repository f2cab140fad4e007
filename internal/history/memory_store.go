package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory history store for tests and demo mode.
type MemoryStore struct {
	mu      sync.Mutex
	ips     map[string]map[string]struct{}
	devices map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ips:     make(map[string]map[string]struct{}),
		devices: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) KnownFor(_ context.Context, customerID string) (*Known, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := &Known{}
	for ip := range s.ips[customerID] {
		known.IPs = append(known.IPs, ip)
	}
	for fp := range s.devices[customerID] {
		known.Devices = append(known.Devices, fp)
	}
	return known, nil
}

func (s *MemoryStore) Record(_ context.Context, obs Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs.IPAddress != "" {
		if s.ips[obs.CustomerID] == nil {
			s.ips[obs.CustomerID] = make(map[string]struct{})
		}
		s.ips[obs.CustomerID][obs.IPAddress] = struct{}{}
	}
	if obs.DeviceFP != "" {
		if s.devices[obs.CustomerID] == nil {
			s.devices[obs.CustomerID] = make(map[string]struct{})
		}
		s.devices[obs.CustomerID][obs.DeviceFP] = struct{}{}
	}
	return nil
}
