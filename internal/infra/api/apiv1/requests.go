package apiv1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"avante-billing/internal/domain/model"
	"avante-billing/internal/usecase"
)

const maxBodyBytes = 64 << 10

type ApproveRequest struct {
	PaymentID string          `json:"paymentId" validate:"required,max=128"`
	UserID    string          `json:"userId" validate:"required,max=128"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Memo      string          `json:"memo" validate:"max=512"`
	Metadata  model.Metadata  `json:"metadata"`
}

type CompleteRequest struct {
	PaymentID string          `json:"paymentId" validate:"required,max=128"`
	TxID      string          `json:"txid" validate:"required,max=256"`
	UserID    string          `json:"userId" validate:"required,max=128"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo" validate:"max=512"`
	Metadata  model.Metadata  `json:"metadata"`
}

type CleanupRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// Response is the body of every lifecycle endpoint.
type Response struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	PaymentID    string `json:"paymentId,omitempty"`
	CleanedCount *int   `json:"cleanedCount,omitempty"`
}

// PaymentStatus is returned by the lookup endpoint.
type PaymentStatus struct {
	PaymentID      string          `json:"paymentId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo"`
	Metadata       model.Metadata  `json:"metadata"`
	Status         StatusFlags     `json:"status"`
	SettlementTxID *string         `json:"settlementTxId,omitempty"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

type StatusFlags struct {
	Approved  bool    `json:"approved"`
	Verified  bool    `json:"verified"`
	Completed bool    `json:"completed"`
	Cancelled bool    `json:"cancelled"`
	Error     *string `json:"error,omitempty"`
}

// Subscription is returned by the tier lookup endpoint.
type Subscription struct {
	UserID  string         `json:"userId"`
	Tier    string         `json:"tier,omitempty"`
	History []HistoryEntry `json:"history"`
}

type HistoryEntry struct {
	Plan      string  `json:"plan"`
	Duration  *int    `json:"duration,omitempty"`
	StartDate string  `json:"startDate"`
	EndDate   *string `json:"endDate,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// decimals are validated by value
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		d, ok := f.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		x, _ := d.Float64()
		return x
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a bounded JSON body into T and validates it.
func decode[T any](r *http.Request) (*T, error) {
	var payload T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, fmt.Errorf("malformed request body: %v", err)
	}
	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("field %s failed %s validation", fe.Field(), fe.Tag())
		}
		return nil, err
	}
	return &payload, nil
}

func toPaymentStatus(p *model.PaymentRecord) PaymentStatus {
	return PaymentStatus{
		PaymentID: p.PaymentID,
		UserID:    p.UserID,
		Amount:    p.Amount,
		Memo:      p.Memo,
		Metadata:  p.Metadata,
		Status: StatusFlags{
			Approved:  p.Status.Approved,
			Verified:  p.Status.Verified,
			Completed: p.Status.Completed,
			Cancelled: p.Status.Cancelled,
			Error:     p.Status.Error,
		},
		SettlementTxID: p.SettlementTxID,
		CreatedAt:      p.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:      p.UpdatedAt.UTC().Format(timeLayout),
	}
}

func toSubscription(v *usecase.SubscriptionView) Subscription {
	out := Subscription{UserID: v.UserID, Tier: string(v.Tier), History: make([]HistoryEntry, 0, len(v.History))}
	for _, e := range v.History {
		h := HistoryEntry{Plan: string(e.Plan), Duration: e.Duration, StartDate: e.StartDate.UTC().Format(timeLayout)}
		if e.EndDate != nil {
			end := e.EndDate.UTC().Format(timeLayout)
			h.EndDate = &end
		}
		out.History = append(out.History, h)
	}
	return out
}
