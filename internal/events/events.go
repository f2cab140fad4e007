// Package events defines the three commerce event kinds consumed from the
// broker and the schema validation applied before anything enters the
// pipeline.
//
// Each message is a CloudEvents-style envelope whose data block is one of
// three fixed, disjoint payload shapes discriminated by the envelope type:
// order.created, payment.authorized, dispute.opened. A decoded Event carries
// exactly one non-nil payload pointer.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Type identifies one of the three event kinds.
type Type string

const (
	TypeOrderCreated      Type = "order.created"
	TypePaymentAuthorized Type = "payment.authorized"
	TypeDisputeOpened     Type = "dispute.opened"
)

// SpecVersion is the only accepted CloudEvents version.
const SpecVersion = "1.0"

// Dispute reason codes accepted on dispute.opened events.
const (
	ReasonFraud       = "FRAUD"
	ReasonNotReceived = "NOT_RECEIVED"
	ReasonDuplicate   = "DUPLICATE"
)

// ErrMalformed indicates the message body was not valid JSON.
var ErrMalformed = errors.New("malformed message")

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Envelope is the CloudEvents-style wrapper shared by all three kinds.
type Envelope struct {
	ID            string          `json:"id"`
	Source        string          `json:"source"`
	Type          Type            `json:"type"`
	SpecVersion   string          `json:"specversion"`
	Time          string          `json:"time,omitempty"`
	CorrelationID string          `json:"correlationId"`
	Data          json.RawMessage `json:"data"`
}

// OrderData is the payload of an order.created event.
type OrderData struct {
	OrderID           string  `json:"order_id"`
	TxnID             string  `json:"txn_id,omitempty"`
	MerchantID        string  `json:"merchant_id"`
	CustomerID        string  `json:"customer_id"`
	Amount            float64 `json:"amt"`
	Currency          string  `json:"currency"`
	Email             string  `json:"email"`
	BillingCountry    string  `json:"billing_country"`
	IPAddress         string  `json:"ip_address"`
	DeviceFingerprint string  `json:"device_fingerprint"`
	TS                float64 `json:"ts,omitempty"`
}

// PaymentData is the payload of a payment.authorized event.
type PaymentData struct {
	OrderID    string  `json:"orderId"`
	PaymentID  string  `json:"paymentId"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	BinCountry string  `json:"binCountry"`
	CreatedAt  string  `json:"createdAt"`
}

// DisputeData is the payload of a dispute.opened event.
type DisputeData struct {
	OrderID    string  `json:"order_id"`
	ReasonCode string  `json:"reason_code"`
	Amount     float64 `json:"amt"`
	OpenedAt   string  `json:"openedAt"`
	Note       string  `json:"note,omitempty"`
}

// Event is a fully validated message. Exactly one of Order, Payment, Dispute
// is non-nil, matching Envelope.Type.
type Event struct {
	Envelope

	Order   *OrderData
	Payment *PaymentData
	Dispute *DisputeData

	// Raw is the original message body, kept for the durable event log.
	Raw json.RawMessage
}

// FieldError describes a single schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates all field-level diagnostics for a rejected message.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Decode parses and validates a raw message body as the given event kind.
// It returns ErrMalformed for invalid JSON and a *ValidationError carrying
// field diagnostics for schema violations.
func Decode(kind Type, raw []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	verr := &ValidationError{}
	if env.ID == "" {
		verr.add("id", "required")
	}
	if env.Source == "" {
		verr.add("source", "required")
	}
	if env.Type != kind {
		verr.add("type", fmt.Sprintf("expected %q, got %q", kind, env.Type))
	}
	if env.SpecVersion != SpecVersion {
		verr.add("specversion", fmt.Sprintf("must be %q", SpecVersion))
	}
	if env.CorrelationID == "" {
		verr.add("correlationId", "required")
	}
	if len(env.Data) == 0 {
		verr.add("data", "required")
		return nil, verr
	}

	ev := &Event{Envelope: env, Raw: append(json.RawMessage(nil), raw...)}

	switch kind {
	case TypeOrderCreated:
		var d OrderData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			verr.add("data", "invalid shape: "+err.Error())
			return nil, verr
		}
		validateOrder(&d, verr)
		ev.Order = &d
	case TypePaymentAuthorized:
		var d PaymentData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			verr.add("data", "invalid shape: "+err.Error())
			return nil, verr
		}
		validatePayment(&d, verr)
		ev.Payment = &d
	case TypeDisputeOpened:
		var d DisputeData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			verr.add("data", "invalid shape: "+err.Error())
			return nil, verr
		}
		validateDispute(&d, verr)
		ev.Dispute = &d
	default:
		verr.add("type", fmt.Sprintf("unsupported event type %q", kind))
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return ev, nil
}

func validateOrder(d *OrderData, verr *ValidationError) {
	requireString(verr, "data.order_id", d.OrderID)
	requireString(verr, "data.merchant_id", d.MerchantID)
	requireString(verr, "data.customer_id", d.CustomerID)
	if d.Amount <= 0 {
		verr.add("data.amt", "must be positive")
	}
	requireLen(verr, "data.currency", d.Currency, 3)
	if !emailRegex.MatchString(d.Email) {
		verr.add("data.email", "must be a valid email address")
	}
	requireLen(verr, "data.billing_country", d.BillingCountry, 2)
	requireString(verr, "data.ip_address", d.IPAddress)
	requireString(verr, "data.device_fingerprint", d.DeviceFingerprint)
}

func validatePayment(d *PaymentData, verr *ValidationError) {
	requireString(verr, "data.orderId", d.OrderID)
	requireString(verr, "data.paymentId", d.PaymentID)
	if d.Amount <= 0 {
		verr.add("data.amount", "must be positive")
	}
	requireLen(verr, "data.currency", d.Currency, 3)
	requireLen(verr, "data.binCountry", d.BinCountry, 2)
	requireString(verr, "data.createdAt", d.CreatedAt)
}

func validateDispute(d *DisputeData, verr *ValidationError) {
	requireString(verr, "data.order_id", d.OrderID)
	switch d.ReasonCode {
	case ReasonFraud, ReasonNotReceived, ReasonDuplicate:
	default:
		verr.add("data.reason_code", "must be one of FRAUD, NOT_RECEIVED, DUPLICATE")
	}
	if d.Amount <= 0 {
		verr.add("data.amt", "must be positive")
	}
	requireString(verr, "data.openedAt", d.OpenedAt)
}

func requireString(verr *ValidationError, field, value string) {
	if value == "" {
		verr.add(field, "required")
	}
}

func requireLen(verr *ValidationError, field, value string, n int) {
	if len(value) != n {
		verr.add(field, fmt.Sprintf("must be exactly %d characters", n))
	}
}

// Summary returns the lean per-kind field set broadcast with event.received.
func (e *Event) Summary() map[string]any {
	switch {
	case e.Order != nil:
		return map[string]any{
			"orderId":        e.Order.OrderID,
			"merchantId":     e.Order.MerchantID,
			"customerId":     e.Order.CustomerID,
			"amount":         e.Order.Amount,
			"currency":       e.Order.Currency,
			"email":          e.Order.Email,
			"billingCountry": e.Order.BillingCountry,
		}
	case e.Payment != nil:
		return map[string]any{
			"orderId":    e.Payment.OrderID,
			"paymentId":  e.Payment.PaymentID,
			"amount":     e.Payment.Amount,
			"binCountry": e.Payment.BinCountry,
		}
	case e.Dispute != nil:
		return map[string]any{
			"orderId":    e.Dispute.OrderID,
			"reasonCode": e.Dispute.ReasonCode,
			"amount":     e.Dispute.Amount,
		}
	default:
		return map[string]any{}
	}
}
