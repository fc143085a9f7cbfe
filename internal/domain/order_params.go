package domain

import "time"

// OrderParams carries optional order modifiers. The two time qualifiers
// are mutually exclusive: an order is either good until an absolute time
// or good for a relative number of seconds, never both.
type OrderParams struct {
	displaySize   Qty
	goodTillTime  time.Time
	goodInSeconds time.Duration
}

// OrderParamsOption configures an OrderParams value.
type OrderParamsOption func(*OrderParams)

// WithDisplaySize limits the quantity shown to the market (iceberg order).
// Zero means the order is fully visible.
func WithDisplaySize(qty Qty) OrderParamsOption {
	return func(p *OrderParams) { p.displaySize = qty }
}

// WithGoodTillTime sets an absolute expiry time (UTC).
func WithGoodTillTime(t time.Time) OrderParamsOption {
	return func(p *OrderParams) { p.goodTillTime = t }
}

// WithGoodInSeconds sets a relative lifetime for the order.
func WithGoodInSeconds(d time.Duration) OrderParamsOption {
	return func(p *OrderParams) { p.goodInSeconds = d }
}

// NewOrderParams builds validated order parameters. Setting both
// GoodTillTime and GoodInSeconds is a ConfigError.
func NewOrderParams(opts ...OrderParamsOption) (*OrderParams, error) {
	p := &OrderParams{}
	for _, opt := range opts {
		opt(p)
	}
	if !p.goodTillTime.IsZero() && p.goodInSeconds != 0 {
		return nil, NewConfigError("goodTillTime and goodInSeconds are mutually exclusive")
	}
	if p.displaySize < 0 {
		return nil, NewConfigError("display size must not be negative")
	}
	if p.goodInSeconds < 0 {
		return nil, NewConfigError("goodInSeconds must not be negative")
	}
	return p, nil
}

// DisplaySize returns the iceberg display size, zero if fully visible.
func (p *OrderParams) DisplaySize() Qty { return p.displaySize }

// GoodTillTime returns the absolute expiry, zero time if unset.
func (p *OrderParams) GoodTillTime() time.Time { return p.goodTillTime }

// GoodInSeconds returns the relative lifetime, zero if unset.
func (p *OrderParams) GoodInSeconds() time.Duration { return p.goodInSeconds }

// ValidateFor checks parameters against a concrete order quantity. A
// display size exceeding the order quantity is a ConfigError.
func (p *OrderParams) ValidateFor(orderQty Qty) error {
	if p == nil {
		return nil
	}
	if p.displaySize > orderQty {
		return NewConfigError(
			"display size %d exceeds order quantity %d", p.displaySize, orderQty)
	}
	return nil
}
