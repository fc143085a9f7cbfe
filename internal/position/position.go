// Package position implements the asynchronous order-state machine behind
// one trading intent: a planned quantity on one security, opened and closed
// through at most one in-flight order per leg.
//
// All submission methods are asynchronous. They validate, hand one order to
// the trading system and return its identifier; fills, cancels and rejects
// arrive later as execution reports fed in through ApplyReport by the
// dispatcher, which then notifies the owning strategy.
package position

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
)

// State is the canonical lifecycle state of a position.
type State int

const (
	// StateCreated - no order activity yet.
	StateCreated State = iota
	// StateOpening - an open order is in flight.
	StateOpening
	// StateOpened - some quantity is opened and no order is in flight.
	StateOpened
	// StateClosing - a close order is in flight.
	StateClosing
	// StateCompleted - terminal: no orders outstanding, no active quantity.
	StateCompleted
	// StateError - terminal: an operation failed irrecoverably before any
	// quantity was opened.
	StateError
)

// String returns a short lowercase name for the state.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "created"
	}
}

// Position is one open/closing trading intent for one security. It is
// exclusively owned by the strategy instance that created it; the strategy
// keeps it in its active collection until IsCompleted and then retires it.
//
// Methods are safe for concurrent use: state-changing calls run on the
// owning strategy's dispatch goroutine while the dashboard reads snapshots
// from the HTTP goroutines.
type Position struct {
	mu sync.Mutex

	id        string
	strategy  string
	security  *domain.Security
	side      domain.PositionSide
	tag       string
	createdAt time.Time

	ts  domain.TradingSystem
	log zerolog.Logger

	plannedQty      domain.Qty
	openStartPrice  domain.Price
	closeStartPrice domain.Price

	state    State
	canceled bool
	errored  bool
	restored bool

	// pendingCancelClose requests an at-market close of the remaining
	// active quantity as soon as the in-flight order resolves. Set by
	// CancelAtMarketPrice when it cannot submit the close immediately.
	pendingCancelClose bool

	openOrderID   domain.OrderID
	closeOrderID  domain.OrderID
	hasOpenOrder  bool
	hasCloseOrder bool

	openedQty domain.Qty
	closedQty domain.Qty
	openCost  int64 // sum of fill price*qty on the open leg, for VWAP
	closeCost int64 // sum of fill price*qty on the close leg, for VWAP
}

// New creates a position for the given side. StartPrice is the reference
// price used for sizing and risk decisions at creation time, not
// necessarily the execution price.
func New(
	strategy string,
	ts domain.TradingSystem,
	security *domain.Security,
	side domain.PositionSide,
	qty domain.Qty,
	startPrice domain.Price,
	log zerolog.Logger,
) (*Position, error) {
	if security == nil {
		return nil, domain.NewConfigError("position requires a security")
	}
	if qty <= 0 {
		return nil, domain.NewConfigError("planned quantity must be positive, got %d", qty)
	}
	p := &Position{
		id:             uuid.NewString(),
		strategy:       strategy,
		security:       security,
		side:           side,
		createdAt:      time.Now().UTC(),
		ts:             ts,
		plannedQty:     qty,
		openStartPrice: startPrice,
		state:          StateCreated,
		log: log.With().
			Str("component", "position").
			Str("symbol", security.Symbol).
			Str("side", side.String()).
			Logger(),
	}
	return p, nil
}

// NewLong creates a long position.
func NewLong(
	strategy string,
	ts domain.TradingSystem,
	security *domain.Security,
	qty domain.Qty,
	startPrice domain.Price,
	log zerolog.Logger,
) (*Position, error) {
	return New(strategy, ts, security, domain.Long, qty, startPrice, log)
}

// NewShort creates a short position.
func NewShort(
	strategy string,
	ts domain.TradingSystem,
	security *domain.Security,
	qty domain.Qty,
	startPrice domain.Price,
	log zerolog.Logger,
) (*Position, error) {
	return New(strategy, ts, security, domain.Short, qty, startPrice, log)
}

// ID returns the position identifier.
func (p *Position) ID() string { return p.id }

// Strategy returns the name of the owning strategy instance.
func (p *Position) Strategy() string { return p.strategy }

// Security returns the traded security.
func (p *Position) Security() *domain.Security { return p.security }

// Side returns the position direction.
func (p *Position) Side() domain.PositionSide { return p.side }

// CreatedAt returns the creation time.
func (p *Position) CreatedAt() time.Time { return p.createdAt }

// Tag returns the caller-assigned label, e.g. which entry branch of a
// multi-leg pattern produced this position.
func (p *Position) Tag() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tag
}

// SetTag assigns the caller label.
func (p *Position) SetTag(tag string) {
	p.mu.Lock()
	p.tag = tag
	p.mu.Unlock()
}

// State returns the canonical lifecycle state.
func (p *Position) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PlannedQty returns the requested quantity.
func (p *Position) PlannedQty() domain.Qty { return p.plannedQty }

// OpenedQty returns the executed quantity on the open leg.
func (p *Position) OpenedQty() domain.Qty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openedQty
}

// ClosedQty returns the executed quantity on the close leg.
func (p *Position) ClosedQty() domain.Qty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closedQty
}

// NotOpenedQty returns plannedQty - openedQty.
func (p *Position) NotOpenedQty() domain.Qty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plannedQty - p.openedQty
}

// ActiveQty returns openedQty - closedQty: the current exposure.
func (p *Position) ActiveQty() domain.Qty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openedQty - p.closedQty
}

// OpenStartPrice returns the reference price from creation time.
func (p *Position) OpenStartPrice() domain.Price { return p.openStartPrice }

// OpenPrice returns the volume-weighted average open fill price, zero if
// nothing is opened yet.
func (p *Position) OpenPrice() domain.Price {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openedQty == 0 {
		return 0
	}
	return domain.Price(p.openCost / int64(p.openedQty))
}

// CloseStartPrice returns the reference price of the first close attempt.
func (p *Position) CloseStartPrice() domain.Price {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeStartPrice
}

// ClosePrice returns the volume-weighted average close fill price, zero if
// nothing is closed yet.
func (p *Position) ClosePrice() domain.Price {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedQty == 0 {
		return 0
	}
	return domain.Price(p.closeCost / int64(p.closedQty))
}

// OpenOrderID returns the identifier of the last open order, empty if none
// was ever submitted.
func (p *Position) OpenOrderID() domain.OrderID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openOrderID
}

// CloseOrderID returns the identifier of the last close order, empty if
// none was ever submitted.
func (p *Position) CloseOrderID() domain.OrderID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeOrderID
}

// HasActiveOrders reports whether any order is in flight for this position.
func (p *Position) HasActiveOrders() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasOpenOrder || p.hasCloseOrder
}

// HasActiveOpenOrders reports whether an open order is in flight.
func (p *Position) HasActiveOpenOrders() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasOpenOrder
}

// HasActiveCloseOrders reports whether a close order is in flight.
func (p *Position) HasActiveCloseOrders() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasCloseOrder
}

// IsOpened reports whether quantity is opened and no open order is in
// flight. It remains true while the position is closing.
func (p *Position) IsOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openedQty > 0 && !p.hasOpenOrder
}

// IsClosed reports whether everything that was opened has been closed and
// no close order is in flight.
func (p *Position) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openedQty > 0 && p.closedQty == p.openedQty && !p.hasCloseOrder
}

// IsCompleted reports whether the position is terminal: no orders
// outstanding and no active quantity. Completed positions are retired by
// the owning strategy.
func (p *Position) IsCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateCompleted || p.state == StateError
}

// IsCanceled reports whether a cancel was requested or the venue canceled
// the position's orders, so the position ends with zero or unwound
// exposure.
func (p *Position) IsCanceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

// IsError reports whether an operation failed irrecoverably.
func (p *Position) IsError() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errored || p.state == StateError
}

// IsRestored reports whether the position was adopted from a pre-existing
// broker position rather than opened by a trade.
func (p *Position) IsRestored() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restored
}

// RestoreOpenState synchronously marks the position as opened with
// openedQty = plannedQty without sending any trade. It reconciles strategy
// state with a pre-existing broker position at startup and is valid only
// on a freshly created position. The supplied order id is opaque
// bookkeeping and does not affect engine logic.
func (p *Position) RestoreOpenState(openOrderID domain.OrderID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCreated || p.openOrderID != "" {
		return &domain.StateViolationError{Op: "restoreOpenState", State: p.state.String()}
	}
	p.openOrderID = openOrderID
	p.openedQty = p.plannedQty
	p.openCost = int64(p.openStartPrice) * int64(p.plannedQty)
	p.restored = true
	p.state = StateOpened
	p.log.Info().
		Int64("qty", int64(p.plannedQty)).
		Str("order_id", string(openOrderID)).
		Msg("Position restored in open state")
	return nil
}

// OpenAtMarketPrice submits a market order for the not yet opened quantity.
func (p *Position) OpenAtMarketPrice(params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitOpen(domain.OrderTypeMarket, 0, 0, params)
}

// Open submits a limit order for the not yet opened quantity.
func (p *Position) Open(price domain.Price, params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitOpen(domain.OrderTypeLimit, price, 0, params)
}

// OpenAtMarketPriceWithStopPrice submits a stop-market open order.
func (p *Position) OpenAtMarketPriceWithStopPrice(stopPrice domain.Price, params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitOpen(domain.OrderTypeStopMarket, 0, stopPrice, params)
}

// OpenOrCancel submits an immediate-or-cancel open order. Any unfilled
// residual stays notOpenedQty; the position never retries on its own -
// retry policy, if any, belongs to the strategy.
func (p *Position) OpenOrCancel(price domain.Price, params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitOpen(domain.OrderTypeIOC, price, 0, params)
}

// CloseAtMarketPrice submits a market order for the active quantity.
func (p *Position) CloseAtMarketPrice(params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitClose(domain.OrderTypeMarket, 0, 0, params)
}

// Close submits a limit close order for the active quantity.
func (p *Position) Close(price domain.Price, params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitClose(domain.OrderTypeLimit, price, 0, params)
}

// CloseAtMarketPriceWithStopPrice submits a stop-market close order.
func (p *Position) CloseAtMarketPriceWithStopPrice(stopPrice domain.Price, params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitClose(domain.OrderTypeStopMarket, 0, stopPrice, params)
}

// CloseOrCancel submits an immediate-or-cancel close order.
func (p *Position) CloseOrCancel(price domain.Price, params *domain.OrderParams) (domain.OrderID, error) {
	return p.submitClose(domain.OrderTypeIOC, price, 0, params)
}

func (p *Position) openSide() domain.OrderSide {
	if p.side == domain.Short {
		return domain.Sell
	}
	return domain.Buy
}

func (p *Position) closeSide() domain.OrderSide {
	if p.side == domain.Short {
		return domain.Buy
	}
	return domain.Sell
}

func (p *Position) submitOpen(
	orderType domain.OrderType,
	price domain.Price,
	stopPrice domain.Price,
	params *domain.OrderParams,
) (domain.OrderID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasOpenOrder {
		return "", &domain.StateViolationError{Op: "open", State: "active open order"}
	}
	if p.hasCloseOrder || p.closedQty > 0 || p.state == StateClosing {
		return "", &domain.StateViolationError{Op: "open", State: p.state.String()}
	}
	if p.state == StateCompleted || p.state == StateError {
		return "", &domain.StateViolationError{Op: "open", State: p.state.String()}
	}
	qty := p.plannedQty - p.openedQty
	if qty <= 0 {
		return "", &domain.StateViolationError{Op: "open", State: "fully opened"}
	}
	if err := params.ValidateFor(qty); err != nil {
		return "", err
	}

	id, err := p.ts.SendOrder(domain.OrderRequest{
		Security:  p.security,
		Side:      p.openSide(),
		Qty:       qty,
		Type:      orderType,
		Price:     price,
		StopPrice: stopPrice,
		Params:    params,
	})
	if err != nil {
		return "", err
	}

	p.openOrderID = id
	p.hasOpenOrder = true
	p.state = StateOpening
	p.log.Debug().
		Str("order_id", string(id)).
		Str("type", orderType.String()).
		Int64("qty", int64(qty)).
		Int64("price", int64(price)).
		Msg("Open order sent")
	return id, nil
}

func (p *Position) submitClose(
	orderType domain.OrderType,
	price domain.Price,
	stopPrice domain.Price,
	params *domain.OrderParams,
) (domain.OrderID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitCloseLocked(orderType, price, stopPrice, params)
}

func (p *Position) submitCloseLocked(
	orderType domain.OrderType,
	price domain.Price,
	stopPrice domain.Price,
	params *domain.OrderParams,
) (domain.OrderID, error) {
	if p.openedQty == 0 {
		return "", &domain.StateViolationError{Op: "close", State: "nothing opened"}
	}
	if p.hasCloseOrder {
		return "", &domain.StateViolationError{Op: "close", State: "active close order"}
	}
	if p.hasOpenOrder {
		return "", &domain.StateViolationError{Op: "close", State: "active open order"}
	}
	qty := p.openedQty - p.closedQty
	if qty <= 0 {
		return "", &domain.StateViolationError{Op: "close", State: "no active quantity"}
	}
	if err := params.ValidateFor(qty); err != nil {
		return "", err
	}

	id, err := p.ts.SendOrder(domain.OrderRequest{
		Security:  p.security,
		Side:      p.closeSide(),
		Qty:       qty,
		Type:      orderType,
		Price:     price,
		StopPrice: stopPrice,
		Params:    params,
	})
	if err != nil {
		return "", err
	}

	if p.closeStartPrice == 0 {
		if price != 0 {
			p.closeStartPrice = price
		} else {
			p.closeStartPrice = p.security.Level1().LastPrice
		}
	}
	p.closeOrderID = id
	p.hasCloseOrder = true
	p.state = StateClosing
	p.log.Debug().
		Str("order_id", string(id)).
		Str("type", orderType.String()).
		Int64("qty", int64(qty)).
		Int64("price", int64(price)).
		Msg("Close order sent")
	return id, nil
}

// CancelAtMarketPrice cancels any in-flight order and closes whatever is
// currently open with an immediate market order. When an order is still in
// flight the close is submitted as soon as the cancel resolves. It reports
// whether a close order was or will be submitted - false when nothing is
// open and nothing is in flight.
func (p *Position) CancelAtMarketPrice(params *domain.OrderParams) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateCompleted || p.state == StateError {
		return false, nil
	}

	if p.hasOpenOrder || p.hasCloseOrder {
		p.canceled = true
		p.pendingCancelClose = true
		id := p.openOrderID
		if p.hasCloseOrder {
			id = p.closeOrderID
		}
		if err := p.ts.CancelOrder(id); err != nil {
			return false, err
		}
		p.log.Debug().Str("order_id", string(id)).Msg("Cancel requested, market close pending")
		return true, nil
	}

	if p.openedQty-p.closedQty == 0 {
		return false, nil
	}

	p.canceled = true
	if _, err := p.submitCloseLocked(domain.OrderTypeMarket, 0, 0, params); err != nil {
		return false, err
	}
	return true, nil
}

// CancelAllOrders cancels any in-flight order without submitting a
// replacement close. It reports whether anything was canceled.
func (p *Position) CancelAllOrders(_ *domain.OrderParams) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasOpenOrder && !p.hasCloseOrder {
		return false, nil
	}
	p.canceled = true
	id := p.openOrderID
	if p.hasCloseOrder {
		id = p.closeOrderID
	}
	if err := p.ts.CancelOrder(id); err != nil {
		return false, err
	}
	p.log.Debug().Str("order_id", string(id)).Msg("Cancel requested")
	return true, nil
}

// ApplyReport feeds one execution report into the state machine. It
// returns true when the report belonged to this position and changed its
// state. Reports for the same order must be applied in the order the
// underlying state changed; the dispatcher guarantees this.
func (p *Position) ApplyReport(rep domain.ExecutionReport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rep.OrderID == "" {
		return false
	}
	switch rep.OrderID {
	case p.openOrderID:
		if p.restored {
			// Restored positions carry a bookkeeping id only.
			return false
		}
		p.applyOpenReport(rep)
	case p.closeOrderID:
		p.applyCloseReport(rep)
	default:
		return false
	}
	return true
}

func (p *Position) applyOpenReport(rep domain.ExecutionReport) {
	if !p.hasOpenOrder {
		return
	}
	if rep.FilledQty > 0 {
		if p.openedQty+rep.FilledQty > p.plannedQty {
			p.errored = true
			p.log.Error().
				Int64("filled", int64(rep.FilledQty)).
				Int64("opened", int64(p.openedQty)).
				Int64("planned", int64(p.plannedQty)).
				Msg("Open fill exceeds planned quantity")
			return
		}
		p.openedQty += rep.FilledQty
		p.openCost += int64(rep.LastPrice) * int64(rep.FilledQty)
	}

	if !rep.Status.IsFinal() {
		return
	}
	p.hasOpenOrder = false

	switch rep.Status {
	case domain.OrderStatusFilled:
		p.state = StateOpened
	case domain.OrderStatusCanceled:
		if p.openedQty > 0 {
			p.state = StateOpened
		} else {
			p.canceled = true
			p.state = StateCompleted
		}
	case domain.OrderStatusRejected, domain.OrderStatusError:
		p.errored = true
		if p.openedQty > 0 {
			p.state = StateOpened
		} else {
			p.state = StateError
		}
		p.log.Warn().
			Str("order_id", string(rep.OrderID)).
			Str("status", rep.Status.String()).
			Str("reason", rep.Reason).
			Msg("Open order failed")
	}

	p.resolvePendingCancelLocked()
}

func (p *Position) applyCloseReport(rep domain.ExecutionReport) {
	if !p.hasCloseOrder {
		return
	}
	if rep.FilledQty > 0 {
		if p.closedQty+rep.FilledQty > p.openedQty {
			p.errored = true
			p.log.Error().
				Int64("filled", int64(rep.FilledQty)).
				Int64("closed", int64(p.closedQty)).
				Int64("opened", int64(p.openedQty)).
				Msg("Close fill exceeds opened quantity")
			return
		}
		p.closedQty += rep.FilledQty
		p.closeCost += int64(rep.LastPrice) * int64(rep.FilledQty)
	}

	if !rep.Status.IsFinal() {
		return
	}
	p.hasCloseOrder = false

	switch rep.Status {
	case domain.OrderStatusFilled:
		p.state = StateCompleted
	case domain.OrderStatusCanceled:
		if p.openedQty-p.closedQty > 0 {
			p.state = StateOpened
		} else {
			p.state = StateCompleted
		}
	case domain.OrderStatusRejected, domain.OrderStatusError:
		p.errored = true
		if p.openedQty-p.closedQty > 0 {
			p.state = StateOpened
		} else {
			p.state = StateCompleted
		}
		p.log.Warn().
			Str("order_id", string(rep.OrderID)).
			Str("status", rep.Status.String()).
			Str("reason", rep.Reason).
			Msg("Close order failed")
	}

	p.resolvePendingCancelLocked()
}

// resolvePendingCancelLocked submits the deferred at-market close requested
// by CancelAtMarketPrice once no order is in flight anymore.
func (p *Position) resolvePendingCancelLocked() {
	if !p.pendingCancelClose || p.hasOpenOrder || p.hasCloseOrder {
		return
	}
	p.pendingCancelClose = false
	if p.openedQty-p.closedQty == 0 {
		if p.state != StateError {
			p.state = StateCompleted
		}
		return
	}
	if _, err := p.submitCloseLocked(domain.OrderTypeMarket, 0, 0, nil); err != nil {
		p.errored = true
		p.log.Error().Err(err).Msg("Deferred market close failed")
	}
}
