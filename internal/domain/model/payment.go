package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"avante-billing/internal/domain"
)

// Metadata keys understood by the lifecycle.
const (
	MetaSubscriptionTier = "subscriptionTier"
	MetaDuration         = "duration" // days
	MetaFrequency        = "frequency"
	MetaTimestamp        = "timestamp"
)

// Metadata is the free-form payload attached to a payment by the client.
type Metadata map[string]any

func (m Metadata) SubscriptionTier() string {
	if m == nil {
		return ""
	}
	s, _ := m[MetaSubscriptionTier].(string)
	return s
}

// DurationDays returns metadata.duration as whole days. JSON numbers, integers
// and numeric strings are accepted; anything else (or <= 0) reports false.
func (m Metadata) DurationDays() (int, bool) {
	if m == nil {
		return 0, false
	}
	var d float64
	switch v := m[MetaDuration].(type) {
	case float64:
		d = v
	case float32:
		d = float64(v)
	case int:
		d = float64(v)
	case int64:
		d = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		d = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		d = f
	default:
		return 0, false
	}
	if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, false
	}
	return int(d), true
}

// PaymentStatus carries four independent flags. completed and cancelled are
// mutually exclusive; both false means the payment is still in flight.
type PaymentStatus struct {
	Approved  bool    `json:"approved"`
	Verified  bool    `json:"verified"`
	Completed bool    `json:"completed"`
	Cancelled bool    `json:"cancelled"`
	Error     *string `json:"error,omitempty"`
}

func (s PaymentStatus) Terminal() bool { return s.Completed || s.Cancelled }

// Consistent checks the invariants every stored status must satisfy.
func (s PaymentStatus) Consistent() bool {
	if s.Completed && s.Cancelled {
		return false
	}
	if s.Completed && !s.Approved {
		return false
	}
	return true
}

// PaymentRecord is the single source of truth for a payment's progress.
// It is never deleted and doubles as the audit trail.
type PaymentRecord struct {
	PaymentID      string          `json:"paymentId"` // gateway-assigned
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo"`
	Metadata       Metadata        `json:"metadata"`
	Status         PaymentStatus   `json:"status"`
	SettlementTxID *string         `json:"settlementTxId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewPaymentRecord validates input and returns a record in the unresolved state.
func NewPaymentRecord(paymentID, userID string, amount decimal.Decimal, memo string, meta Metadata, now time.Time) (*PaymentRecord, error) {
	if strings.TrimSpace(paymentID) == "" || strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	if meta == nil {
		meta = Metadata{}
	}
	return &PaymentRecord{
		PaymentID: paymentID,
		UserID:    userID,
		Amount:    amount,
		Memo:      memo,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsStale reports whether the record is unresolved and older than threshold.
func (p *PaymentRecord) IsStale(now time.Time, threshold time.Duration) bool {
	if p == nil || p.Status.Terminal() {
		return false
	}
	return now.Sub(p.CreatedAt) > threshold
}

// AwaitingSettlement is true once a settlement id has been seen for an approved
// payment that never completed; funds may have moved, so it is not auto-cancelled.
func (p *PaymentRecord) AwaitingSettlement() bool {
	return p != nil && p.Status.Approved && !p.Status.Terminal() &&
		p.SettlementTxID != nil && *p.SettlementTxID != ""
}

// PendingMarker is the client-side note of the most recent unresolved payment,
// one per user session. It is written when a payment enters approval and removed
// on terminal success or explicit cancellation.
type PendingMarker struct {
	PaymentID string          `json:"paymentId"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo"`
	Metadata  Metadata        `json:"metadata"`
}
