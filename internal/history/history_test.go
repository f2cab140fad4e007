package history

import (
	"context"
	"testing"
)

func TestKnownForEmptyCustomer(t *testing.T) {
	s := NewMemoryStore()
	known, err := s.KnownFor(context.Background(), "cus_new")
	if err != nil {
		t.Fatalf("KnownFor: %v", err)
	}
	if len(known.IPs) != 0 || len(known.Devices) != 0 {
		t.Fatalf("expected empty history, got %+v", known)
	}
}

func TestRecordFirstSeen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	obs := Observation{CustomerID: "cus_1", IPAddress: "10.0.0.1", DeviceFP: "fp-abc"}

	for range 3 {
		if err := s.Record(ctx, obs); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	known, err := s.KnownFor(ctx, "cus_1")
	if err != nil {
		t.Fatalf("KnownFor: %v", err)
	}
	if len(known.IPs) != 1 || known.IPs[0] != "10.0.0.1" {
		t.Fatalf("ips = %v, want exactly [10.0.0.1]", known.IPs)
	}
	if len(known.Devices) != 1 || known.Devices[0] != "fp-abc" {
		t.Fatalf("devices = %v, want exactly [fp-abc]", known.Devices)
	}
}

func TestRecordSkipsEmptyIdentifiers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Record(ctx, Observation{CustomerID: "cus_2"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	known, _ := s.KnownFor(ctx, "cus_2")
	if len(known.IPs) != 0 || len(known.Devices) != 0 {
		t.Fatalf("empty identifiers must not be recorded: %+v", known)
	}
}

func TestHistoryIsolatedPerCustomer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Record(ctx, Observation{CustomerID: "cus_a", IPAddress: "10.0.0.1"})
	s.Record(ctx, Observation{CustomerID: "cus_b", IPAddress: "10.0.0.2"})

	known, _ := s.KnownFor(ctx, "cus_a")
	if len(known.IPs) != 1 || known.IPs[0] != "10.0.0.1" {
		t.Fatalf("cus_a ips = %v", known.IPs)
	}
}
