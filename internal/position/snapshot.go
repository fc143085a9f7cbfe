package position

import (
	"time"

	"github.com/alimogh/trdk/internal/domain"
)

// Snapshot is a consistent point-in-time copy of a position's observable
// state, taken under the position lock. The dashboard and the archive read
// snapshots instead of individual accessors to avoid torn reads.
type Snapshot struct {
	ID        string    `json:"id"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Tag       string    `json:"tag,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`

	PlannedQty   int64 `json:"planned_qty"`
	OpenedQty    int64 `json:"opened_qty"`
	ClosedQty    int64 `json:"closed_qty"`
	ActiveQty    int64 `json:"active_qty"`
	NotOpenedQty int64 `json:"not_opened_qty"`

	// Prices are descaled to real values for display.
	OpenStartPrice  float64 `json:"open_start_price"`
	OpenPrice       float64 `json:"open_price"`
	CloseStartPrice float64 `json:"close_start_price"`
	ClosePrice      float64 `json:"close_price"`

	OpenOrderID  string `json:"open_order_id,omitempty"`
	CloseOrderID string `json:"close_order_id,omitempty"`

	IsOpened        bool `json:"is_opened"`
	IsClosed        bool `json:"is_closed"`
	IsCompleted     bool `json:"is_completed"`
	IsCanceled      bool `json:"is_canceled"`
	IsError         bool `json:"is_error"`
	HasActiveOrders bool `json:"has_active_orders"`
}

// Snapshot returns a consistent copy of the position state.
func (p *Position) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	activeQty := p.openedQty - p.closedQty
	var openPrice, closePrice float64
	if p.openedQty > 0 {
		openPrice = p.security.DescalePrice(domain.Price(p.openCost / int64(p.openedQty)))
	}
	if p.closedQty > 0 {
		closePrice = p.security.DescalePrice(domain.Price(p.closeCost / int64(p.closedQty)))
	}

	return Snapshot{
		ID:              p.id,
		Strategy:        p.strategy,
		Symbol:          p.security.Symbol,
		Side:            p.side.String(),
		Tag:             p.tag,
		State:           p.state.String(),
		CreatedAt:       p.createdAt,
		PlannedQty:      int64(p.plannedQty),
		OpenedQty:       int64(p.openedQty),
		ClosedQty:       int64(p.closedQty),
		ActiveQty:       int64(activeQty),
		NotOpenedQty:    int64(p.plannedQty - p.openedQty),
		OpenStartPrice:  p.security.DescalePrice(p.openStartPrice),
		OpenPrice:       openPrice,
		CloseStartPrice: p.security.DescalePrice(p.closeStartPrice),
		ClosePrice:      closePrice,
		OpenOrderID:     string(p.openOrderID),
		CloseOrderID:    string(p.closeOrderID),
		IsOpened:        p.openedQty > 0 && !p.hasOpenOrder,
		IsClosed:        p.openedQty > 0 && p.closedQty == p.openedQty && !p.hasCloseOrder,
		IsCompleted:     p.state == StateCompleted || p.state == StateError,
		IsCanceled:      p.canceled,
		IsError:         p.errored || p.state == StateError,
		HasActiveOrders: p.hasOpenOrder || p.hasCloseOrder,
	}
}
