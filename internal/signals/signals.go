// Package signals provides the built-in implementation of the five risk
// signal heuristics. Each function maps its inputs to an integer in [0,20];
// deployments with their own signal service swap this package out behind
// scoring.SignalProvider.
package signals

import "strings"

const maxSignal = 20

// Domains with a track record of throwaway accounts.
var riskyEmailDomains = map[string]int{
	"mailinator.com":    maxSignal,
	"guerrillamail.com": maxSignal,
	"10minutemail.com":  maxSignal,
	"tempmail.com":      18,
	"throwaway.email":   18,
	"example.com":       10,
}

// Provider is the default signal heuristic set. It is stateless and safe for
// concurrent use.
type Provider struct{}

// NewProvider creates the default signal provider.
func NewProvider() *Provider {
	return &Provider{}
}

// IPVelocity scores how unfamiliar the order's IP is for this customer.
// A brand-new customer scores low; a customer with an established IP set
// presenting a never-seen address scores higher the larger the set.
func (Provider) IPVelocity(ip string, knownIPs []string) int {
	if ip == "" {
		return 0
	}
	for _, known := range knownIPs {
		if known == ip {
			return 0
		}
	}
	switch n := len(knownIPs); {
	case n == 0:
		return 2
	case n < 3:
		return 8
	case n < 6:
		return 14
	default:
		return maxSignal
	}
}

// DeviceReuse scores a device fingerprint never seen for this customer.
func (Provider) DeviceReuse(fingerprint string, knownDevices []string) int {
	if fingerprint == "" {
		return 10
	}
	for _, known := range knownDevices {
		if known == fingerprint {
			return 0
		}
	}
	if len(knownDevices) == 0 {
		return 2
	}
	return 12
}

// EmailDomainReputation scores the order email's domain against a list of
// disposable-mail providers.
func (Provider) EmailDomainReputation(email string) int {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return 10
	}
	domain := strings.ToLower(email[at+1:])
	if score, ok := riskyEmailDomains[domain]; ok {
		return score
	}
	return 0
}

// BINCountryMismatch scores a card issued in a different country than the
// billing address.
func (Provider) BINCountryMismatch(binCountry, billingCountry string) int {
	if binCountry == "" || billingCountry == "" {
		return 5
	}
	if strings.EqualFold(binCountry, billingCountry) {
		return 0
	}
	return maxSignal
}

// ChargebackHistory scores prior dispute activity for the merchant/customer
// pair. The built-in provider has no external chargeback feed, so it relies
// on a stable hash of the pair to stay deterministic across re-scores.
func (Provider) ChargebackHistory(merchantID, customerID string) int {
	if merchantID == "" || customerID == "" {
		return 0
	}
	var h uint32 = 2166136261
	for _, b := range []byte(merchantID + ":" + customerID) {
		h ^= uint32(b)
		h *= 16777619
	}
	return int(h % 8)
}
