// Package usage accounts the tokens sent to and received from the backend,
// one record per exchange and direction.
package usage

import (
	"context"
	"time"
)

// Direction tells whether a record counts prompt or answer tokens.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Record is one token count of one exchange.
type Record struct {
	ID         string    `json:"id"`
	ExchangeID string    `json:"exchange_id"`
	Direction  Direction `json:"direction"`
	Model      string    `json:"model"`
	Tokens     int       `json:"tokens"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows Stats. Nil bounds are open.
type Filter struct {
	Since *time.Time
	Until *time.Time
}

// Stats aggregates records.
type Stats struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Exchanges    int64 `json:"exchanges"`
}

// Store persists usage records.
type Store interface {
	SaveUsage(ctx context.Context, record *Record) error
	ExchangeUsage(ctx context.Context, exchangeID string) ([]*Record, error)
	Stats(ctx context.Context, filter Filter) (*Stats, error)
}
