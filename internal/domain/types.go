// Package domain provides core trading types shared across the engine:
// scaled prices, quantities, order requests and execution reports, the
// Security quote model, and the TradingSystem boundary the position layer
// submits orders through.
package domain

import "time"

// Qty is a number of units of an instrument.
type Qty int64

// Price is a scaled integer price (real price multiplied by the security's
// price scale). All venue communication uses scaled prices to avoid
// floating-point drift.
type Price int64

// OrderID identifies a single order submitted to the trading system.
type OrderID string

// PositionSide is the direction of a position.
type PositionSide int

const (
	// Long profits when the price rises: opened by buying, closed by selling.
	Long PositionSide = iota
	// Short profits when the price falls: opened by selling, closed by buying.
	Short
)

// String returns "long" or "short".
func (s PositionSide) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// OrderSide is the direction of a single order.
type OrderSide int

const (
	Buy OrderSide = iota
	Sell
)

// String returns "buy" or "sell".
func (s OrderSide) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// OrderType selects the execution semantics of an order.
type OrderType int

const (
	// OrderTypeMarket executes immediately at the best available price.
	OrderTypeMarket OrderType = iota
	// OrderTypeLimit rests at the given price until filled or canceled.
	OrderTypeLimit
	// OrderTypeStopMarket becomes a market order once the stop price trades.
	OrderTypeStopMarket
	// OrderTypeIOC executes immediately in whole or part; any unfilled
	// remainder is canceled by the venue, never rested.
	OrderTypeIOC
)

// String returns a short lowercase name for the order type.
func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStopMarket:
		return "stop_market"
	case OrderTypeIOC:
		return "ioc"
	default:
		return "market"
	}
}

// OrderStatus is the lifecycle status of an order as reported by the
// trading system.
type OrderStatus int

const (
	// OrderStatusSubmitted - the order was accepted by the trading system.
	OrderStatusSubmitted OrderStatus = iota
	// OrderStatusPartiallyFilled - part of the quantity executed, the order
	// is still live.
	OrderStatusPartiallyFilled
	// OrderStatusFilled - the full quantity executed, the order is done.
	OrderStatusFilled
	// OrderStatusCanceled - the order was canceled; any filled quantity
	// before the cancel stands.
	OrderStatusCanceled
	// OrderStatusRejected - the venue refused the order outright.
	OrderStatusRejected
	// OrderStatusError - the trading system reports an irrecoverable
	// failure for the order.
	OrderStatusError
)

// String returns a short lowercase name for the order status.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusError:
		return "error"
	default:
		return "submitted"
	}
}

// IsFinal reports whether the status terminates the order (no further
// reports will arrive for it).
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusError:
		return true
	}
	return false
}

// Trade is a single execution print on the tape.
type Trade struct {
	Time  time.Time
	Price Price
	Qty   Qty
	Side  OrderSide // aggressor side
}

// OrderRequest describes one order to be submitted to the trading system.
type OrderRequest struct {
	Security  *Security
	Side      OrderSide
	Qty       Qty
	Type      OrderType
	Price     Price // limit price for limit and IOC orders
	StopPrice Price // trigger price for stop orders
	Params    *OrderParams
}

// ExecutionReport is an asynchronous order state update from the trading
// system. FilledQty is the incremental quantity executed since the previous
// report for the same order, not a running total.
type ExecutionReport struct {
	OrderID      OrderID
	Status       OrderStatus
	FilledQty    Qty
	RemainingQty Qty
	LastPrice    Price // price of this fill increment
	Reason       string
	Time         time.Time
}

// AccountSnapshot is a point-in-time view of account-level figures. Values
// are unscaled currency amounts. A snapshot is valid only at read time:
// asynchronous fills may change the account immediately after.
type AccountSnapshot struct {
	CashBalance     float64
	ExcessLiquidity float64
}

// BrokerPosition is the externally observed net position for one security,
// used for startup reconciliation. Negative Qty means short.
type BrokerPosition struct {
	Symbol string
	Qty    int64
}

// TradingSystem is the boundary to the execution engine. All submission
// operations are asynchronous: they return immediately and the outcome
// arrives later as ExecutionReports delivered through the report handler
// registered by the dispatcher.
type TradingSystem interface {
	// SendOrder submits an order and returns its identifier. The returned
	// error covers only synchronous validation; execution outcome is
	// reported asynchronously.
	SendOrder(req OrderRequest) (OrderID, error)

	// CancelOrder requests cancellation of a live order. The request may
	// race with a fill; the resolution arrives as an ExecutionReport.
	CancelOrder(id OrderID) error

	// CancelAllForSecurity cancels every live order for a security that
	// was placed by the engine.
	CancelAllForSecurity(symbol string) error

	// Account returns a snapshot of account-level figures.
	Account() (AccountSnapshot, error)

	// BrokerPositions returns the externally observed net positions for
	// startup reconciliation.
	BrokerPositions() ([]BrokerPosition, error)
}
