// Package execution provides the in-process paper trading system: the
// default domain.TradingSystem used when no external execution engine is
// attached. It accepts order instructions, resolves them against the
// current quotes, and reports fills, cancels and rejects asynchronously
// through the report handler the dispatcher registers.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/events"
)

// ReportHandler receives execution reports. The dispatcher registers a
// handler that enqueues reports onto the owning strategy's event stream;
// the handler must not block.
type ReportHandler func(domain.ExecutionReport)

// Config holds the paper account figures.
type Config struct {
	InitialCash     float64
	ExcessLiquidity float64
}

// PaperTradingSystem simulates an execution venue. Market and
// immediate-or-cancel orders resolve against the current quote at
// submission; limit and stop orders rest and are re-evaluated on every
// quote update. A cancel racing with a fill resolves to whichever the
// simulation reaches first, exactly as an external venue would.
type PaperTradingSystem struct {
	mu      sync.Mutex
	handler ReportHandler
	resting map[domain.OrderID]*restingOrder
	account domain.AccountSnapshot
	broker  []domain.BrokerPosition
	eventsM *events.Manager
	log     zerolog.Logger
}

type restingOrder struct {
	id        domain.OrderID
	req       domain.OrderRequest
	remaining domain.Qty
	triggered bool // stop orders: stop price has traded
	expiry    time.Time
}

// NewPaperTradingSystem creates a paper venue with the given account.
func NewPaperTradingSystem(cfg Config, eventsManager *events.Manager, log zerolog.Logger) *PaperTradingSystem {
	return &PaperTradingSystem{
		resting: make(map[domain.OrderID]*restingOrder),
		account: domain.AccountSnapshot{
			CashBalance:     cfg.InitialCash,
			ExcessLiquidity: cfg.ExcessLiquidity,
		},
		eventsM: eventsManager,
		log:     log.With().Str("component", "paper_trading").Logger(),
	}
}

// SetReportHandler registers the report sink. Must be called before the
// first order is submitted.
func (p *PaperTradingSystem) SetReportHandler(h func(domain.ExecutionReport)) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// SetBrokerPositions seeds the externally observed positions returned by
// BrokerPositions for startup reconciliation.
func (p *PaperTradingSystem) SetBrokerPositions(positions []domain.BrokerPosition) {
	p.mu.Lock()
	p.broker = positions
	p.mu.Unlock()
}

// Account returns the current account snapshot.
func (p *PaperTradingSystem) Account() (domain.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account, nil
}

// BrokerPositions returns the seeded external positions.
func (p *PaperTradingSystem) BrokerPositions() ([]domain.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.BrokerPosition, len(p.broker))
	copy(out, p.broker)
	return out, nil
}

// SendOrder accepts one order and returns its identifier. Resolution is
// asynchronous: reports go through the registered handler.
func (p *PaperTradingSystem) SendOrder(req domain.OrderRequest) (domain.OrderID, error) {
	if req.Security == nil {
		return "", domain.NewConfigError("order requires a security")
	}
	if req.Qty <= 0 {
		return "", domain.NewConfigError("order quantity must be positive, got %d", req.Qty)
	}
	if err := req.Params.ValidateFor(req.Qty); err != nil {
		return "", err
	}

	id := domain.OrderID(uuid.NewString())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.emit(events.OrderSent, map[string]interface{}{
		"order_id": string(id),
		"symbol":   req.Security.Symbol,
		"side":     req.Side.String(),
		"type":     req.Type.String(),
		"qty":      int64(req.Qty),
	})

	l1 := req.Security.Level1()
	switch req.Type {
	case domain.OrderTypeMarket:
		price, ok := p.marketPrice(req, l1)
		if !ok {
			p.reject(id, req, "no quote available")
			return id, nil
		}
		p.fill(id, req, req.Qty, price)

	case domain.OrderTypeIOC:
		price, ok := p.limitMatch(req, l1)
		if !ok {
			p.cancelReport(id, req.Qty)
			return id, nil
		}
		// Fill what the displayed opposite size covers, cancel the rest.
		avail := req.Qty
		if opp := p.oppositeSize(req, l1); opp > 0 && opp < avail {
			avail = opp
		}
		p.fill(id, req, avail, price)
		if avail < req.Qty {
			p.cancelReport(id, req.Qty-avail)
		}

	case domain.OrderTypeLimit, domain.OrderTypeStopMarket:
		ro := &restingOrder{id: id, req: req, remaining: req.Qty}
		if params := req.Params; params != nil {
			if d := params.GoodInSeconds(); d > 0 {
				ro.expiry = time.Now().UTC().Add(d)
			} else if gtt := params.GoodTillTime(); !gtt.IsZero() {
				ro.expiry = gtt
			}
		}
		p.resting[id] = ro
		p.report(domain.ExecutionReport{
			OrderID:      id,
			Status:       domain.OrderStatusSubmitted,
			RemainingQty: req.Qty,
			Time:         time.Now().UTC(),
		})
		// A marketable limit resolves immediately against the quote.
		p.matchRestingLocked(req.Security)
	}

	return id, nil
}

// CancelOrder cancels a resting order. Orders that already resolved are
// left untouched: the cancel lost the race and the caller observes the
// fill instead.
func (p *PaperTradingSystem) CancelOrder(id domain.OrderID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ro, ok := p.resting[id]
	if !ok {
		p.log.Debug().Str("order_id", string(id)).Msg("Cancel lost the race, order already resolved")
		return nil
	}
	delete(p.resting, id)
	p.cancelReport(id, ro.remaining)
	return nil
}

// CancelAllForSecurity cancels every resting order for the symbol.
func (p *PaperTradingSystem) CancelAllForSecurity(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ro := range p.resting {
		if ro.req.Security.Symbol == symbol {
			delete(p.resting, id)
			p.cancelReport(id, ro.remaining)
		}
	}
	return nil
}

// OnQuote re-evaluates resting orders for the security after a quote or
// trade update. The market data feed calls this on every tick.
func (p *PaperTradingSystem) OnQuote(security *domain.Security) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchRestingLocked(security)
}

func (p *PaperTradingSystem) matchRestingLocked(security *domain.Security) {
	l1 := security.Level1()
	now := time.Now().UTC()

	for id, ro := range p.resting {
		if ro.req.Security != security {
			continue
		}
		if !ro.expiry.IsZero() && now.After(ro.expiry) {
			delete(p.resting, id)
			p.cancelReport(id, ro.remaining)
			continue
		}

		switch ro.req.Type {
		case domain.OrderTypeLimit:
			if price, ok := p.limitMatch(ro.req, l1); ok {
				delete(p.resting, id)
				p.fill(id, ro.req, ro.remaining, price)
			}
		case domain.OrderTypeStopMarket:
			if !ro.triggered && p.stopTriggered(ro.req, l1) {
				ro.triggered = true
			}
			if ro.triggered {
				if price, ok := p.marketPrice(ro.req, l1); ok {
					delete(p.resting, id)
					p.fill(id, ro.req, ro.remaining, price)
				}
			}
		}
	}
}

// marketPrice picks the touch for an immediate execution: ask for buys,
// bid for sells, last price as fallback.
func (p *PaperTradingSystem) marketPrice(req domain.OrderRequest, l1 domain.Level1) (domain.Price, bool) {
	var price domain.Price
	if req.Side == domain.Buy {
		price = l1.AskPrice
	} else {
		price = l1.BidPrice
	}
	if price == 0 {
		price = l1.LastPrice
	}
	return price, price != 0
}

// limitMatch reports whether the quote satisfies the limit price and at
// what price the fill prints.
func (p *PaperTradingSystem) limitMatch(req domain.OrderRequest, l1 domain.Level1) (domain.Price, bool) {
	if req.Side == domain.Buy {
		if l1.AskPrice != 0 && l1.AskPrice <= req.Price {
			return l1.AskPrice, true
		}
		return 0, false
	}
	if l1.BidPrice != 0 && l1.BidPrice >= req.Price {
		return l1.BidPrice, true
	}
	return 0, false
}

func (p *PaperTradingSystem) oppositeSize(req domain.OrderRequest, l1 domain.Level1) domain.Qty {
	if req.Side == domain.Buy {
		return l1.AskSize
	}
	return l1.BidSize
}

func (p *PaperTradingSystem) stopTriggered(req domain.OrderRequest, l1 domain.Level1) bool {
	if l1.LastPrice == 0 {
		return false
	}
	if req.Side == domain.Buy {
		return l1.LastPrice >= req.StopPrice
	}
	return l1.LastPrice <= req.StopPrice
}

func (p *PaperTradingSystem) fill(id domain.OrderID, req domain.OrderRequest, qty domain.Qty, price domain.Price) {
	notional := req.Security.DescalePrice(price) * float64(qty)
	if req.Side == domain.Buy {
		p.account.CashBalance -= notional
	} else {
		p.account.CashBalance += notional
	}

	p.report(domain.ExecutionReport{
		OrderID:   id,
		Status:    domain.OrderStatusFilled,
		FilledQty: qty,
		LastPrice: price,
		Time:      time.Now().UTC(),
	})
	p.emit(events.OrderFilled, map[string]interface{}{
		"order_id": string(id),
		"symbol":   req.Security.Symbol,
		"qty":      int64(qty),
		"price":    req.Security.DescalePrice(price),
	})
}

func (p *PaperTradingSystem) cancelReport(id domain.OrderID, remaining domain.Qty) {
	p.report(domain.ExecutionReport{
		OrderID:      id,
		Status:       domain.OrderStatusCanceled,
		RemainingQty: remaining,
		Time:         time.Now().UTC(),
	})
	p.emit(events.OrderCanceled, map[string]interface{}{
		"order_id":  string(id),
		"remaining": int64(remaining),
	})
}

func (p *PaperTradingSystem) reject(id domain.OrderID, req domain.OrderRequest, reason string) {
	p.report(domain.ExecutionReport{
		OrderID:      id,
		Status:       domain.OrderStatusRejected,
		RemainingQty: req.Qty,
		Reason:       reason,
		Time:         time.Now().UTC(),
	})
	p.emit(events.OrderRejected, map[string]interface{}{
		"order_id": string(id),
		"symbol":   req.Security.Symbol,
		"reason":   reason,
	})
}

func (p *PaperTradingSystem) report(rep domain.ExecutionReport) {
	if p.handler != nil {
		p.handler(rep)
	}
}

func (p *PaperTradingSystem) emit(t events.EventType, data map[string]interface{}) {
	if p.eventsM != nil {
		p.eventsM.Emit(t, "execution", data)
	}
}
