package correlation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory bundle store for tests and demo mode.
type MemoryStore struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
}

// NewMemoryStore creates an empty in-memory bundle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bundles: make(map[string]*Bundle)}
}

func (s *MemoryStore) upsert(correlationID string, apply func(*Bundle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[correlationID]
	if !ok {
		b = &Bundle{CorrelationID: correlationID, CreatedAt: time.Now()}
		s.bundles[correlationID] = b
	}
	apply(b)
	b.UpdatedAt = time.Now()
}

func (s *MemoryStore) UpsertOrderLeg(_ context.Context, correlationID string, leg OrderLeg) error {
	s.upsert(correlationID, func(b *Bundle) {
		b.OrderID = leg.OrderID
		b.MerchantID = leg.MerchantID
		b.CustomerID = leg.CustomerID
		b.OrderPayload = leg.Payload
		b.OrderReceivedAt = leg.ReceivedAt
	})
	return nil
}

func (s *MemoryStore) UpsertPaymentLeg(_ context.Context, correlationID string, leg PaymentLeg) error {
	s.upsert(correlationID, func(b *Bundle) {
		b.PaymentID = leg.PaymentID
		b.BinCountry = leg.BinCountry
		b.PaymentPayload = leg.Payload
		b.PaymentReceivedAt = leg.ReceivedAt
	})
	return nil
}

func (s *MemoryStore) UpsertDisputeLeg(_ context.Context, correlationID string, leg DisputeLeg) error {
	s.upsert(correlationID, func(b *Bundle) {
		b.DisputeID = leg.DisputeID
		b.DisputeReasonCode = leg.ReasonCode
		b.DisputePayload = leg.Payload
		b.DisputeReceivedAt = leg.ReceivedAt
	})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, correlationID string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[correlationID]
	if !ok {
		return nil, ErrBundleNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) GetByOrderID(_ context.Context, orderID string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Bundle
	for _, b := range s.bundles {
		if b.OrderID != orderID {
			continue
		}
		if found == nil || b.UpdatedAt.After(found.UpdatedAt) {
			found = b
		}
	}
	if found == nil {
		return nil, ErrBundleNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) GetOwned(_ context.Context, orderID, merchantID string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Bundle
	for _, b := range s.bundles {
		if b.OrderID != orderID || b.MerchantID != merchantID {
			continue
		}
		if found == nil || b.UpdatedAt.After(found.UpdatedAt) {
			found = b
		}
	}
	if found == nil {
		return nil, ErrBundleNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) ClaimForScoring(_ context.Context, correlationID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[correlationID]
	if !ok {
		return false, nil
	}
	if b.Scored() || !b.Complete() {
		return false, nil
	}
	b.ScoredAt = at
	b.UpdatedAt = time.Now()
	return true, nil
}
