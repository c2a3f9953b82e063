package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const StatusSuccess = "success"

var (
	// ErrVerificationFailed means the payment must be treated as unconfirmed.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrInitializationFailed means the gateway did not open a transaction.
	ErrInitializationFailed = errors.New("payment initialization failed")
)

// Record is the gateway's authoritative view of a transaction.
type Record struct {
	Reference     string
	Status        string
	Amount        decimal.Decimal // major units
	AmountMinor   int64
	Currency      string
	CustomerEmail string
	Channel       string
	PaidAt        *time.Time
	Metadata      map[string]any
}

func (r *Record) Succeeded() bool { return r != nil && r.Status == StatusSuccess }

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type Initialization struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
	Reference        string `json:"reference"`
}
