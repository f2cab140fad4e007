package signals

import "testing"

func TestIPVelocity(t *testing.T) {
	p := NewProvider()

	if got := p.IPVelocity("10.0.0.1", []string{"10.0.0.1", "10.0.0.2"}); got != 0 {
		t.Errorf("known ip = %d, want 0", got)
	}
	if got := p.IPVelocity("10.0.0.9", nil); got != 2 {
		t.Errorf("first ip = %d, want 2", got)
	}
	many := []string{"a", "b", "c", "d", "e", "f", "g"}
	if got := p.IPVelocity("10.0.0.9", many); got != 20 {
		t.Errorf("new ip with large history = %d, want 20", got)
	}
	if got := p.IPVelocity("", many); got != 0 {
		t.Errorf("missing ip = %d, want 0", got)
	}
}

func TestDeviceReuse(t *testing.T) {
	p := NewProvider()

	if got := p.DeviceReuse("fp-1", []string{"fp-1"}); got != 0 {
		t.Errorf("known device = %d, want 0", got)
	}
	if got := p.DeviceReuse("fp-new", []string{"fp-1"}); got != 12 {
		t.Errorf("new device = %d, want 12", got)
	}
	if got := p.DeviceReuse("", nil); got != 10 {
		t.Errorf("missing fingerprint = %d, want 10", got)
	}
}

func TestEmailDomainReputation(t *testing.T) {
	p := NewProvider()

	if got := p.EmailDomainReputation("a@mailinator.com"); got != 20 {
		t.Errorf("disposable domain = %d, want 20", got)
	}
	if got := p.EmailDomainReputation("a@gmail.com"); got != 0 {
		t.Errorf("ordinary domain = %d, want 0", got)
	}
	if got := p.EmailDomainReputation("not-an-email"); got != 10 {
		t.Errorf("malformed email = %d, want 10", got)
	}
	if got := p.EmailDomainReputation("a@MAILINATOR.COM"); got != 20 {
		t.Errorf("case-insensitive match = %d, want 20", got)
	}
}

func TestBINCountryMismatch(t *testing.T) {
	p := NewProvider()

	if got := p.BINCountryMismatch("US", "US"); got != 0 {
		t.Errorf("matching countries = %d, want 0", got)
	}
	if got := p.BINCountryMismatch("BR", "US"); got != 20 {
		t.Errorf("mismatched countries = %d, want 20", got)
	}
	if got := p.BINCountryMismatch("", "US"); got != 5 {
		t.Errorf("missing bin country = %d, want 5", got)
	}
	if got := p.BINCountryMismatch("us", "US"); got != 0 {
		t.Errorf("case-insensitive match = %d, want 0", got)
	}
}

func TestChargebackHistoryDeterministic(t *testing.T) {
	p := NewProvider()

	first := p.ChargebackHistory("mer_1", "cus_1")
	second := p.ChargebackHistory("mer_1", "cus_1")
	if first != second {
		t.Fatalf("not deterministic: %d vs %d", first, second)
	}
	if first < 0 || first > 20 {
		t.Fatalf("out of range: %d", first)
	}
	if got := p.ChargebackHistory("", "cus_1"); got != 0 {
		t.Errorf("missing merchant = %d, want 0", got)
	}
}
