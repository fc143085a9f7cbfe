package dispatch

import (
	"sort"
	"time"

	"github.com/alimogh/trdk/internal/position"
)

// SecurityState is the dashboard view of one security's quote.
type SecurityState struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time,omitempty"`
}

// StrategyState is the dashboard view of one strategy instance.
// Diagnostics carries whatever measurements the strategy publishes, for
// goldarb the branch ratios, rolling spread statistics and leg prices.
type StrategyState struct {
	Name         string              `json:"name"`
	Class        string              `json:"class"`
	Requirements string              `json:"requirements,omitempty"`
	Diagnostics  map[string]float64  `json:"diagnostics,omitempty"`
	Positions    []position.Snapshot `json:"positions"`
}

// State is the full engine snapshot served to the dashboard. Revision
// increases on every engine-visible change; clients compare it against
// their last seen revision to skip redundant redraws.
type State struct {
	Revision   int64           `json:"revision"`
	Timestamp  time.Time       `json:"timestamp"`
	Started    bool            `json:"started"`
	Securities []SecurityState `json:"securities"`
	Strategies []StrategyState `json:"strategies"`
}

// State captures a consistent snapshot of the engine.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := State{
		Revision:  e.Revision(),
		Timestamp: time.Now().UTC(),
		Started:   e.started,
	}

	symbols := make([]string, 0, len(e.securities))
	for symbol := range e.securities {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		sec := e.securities[symbol]
		l1 := sec.Level1()
		st.Securities = append(st.Securities, SecurityState{
			Symbol: symbol,
			Bid:    sec.DescalePrice(l1.BidPrice),
			Ask:    sec.DescalePrice(l1.AskPrice),
			Last:   sec.DescalePrice(l1.LastPrice),
			Time:   l1.Time,
		})
	}

	for _, name := range e.sortedInstanceNames() {
		inst := e.instances[name]
		ss := StrategyState{
			Name:         name,
			Class:        inst.class,
			Requirements: inst.strat.Requirements(),
			Positions:    []position.Snapshot{},
		}
		if d, ok := inst.strat.(interface{ Diagnostics() map[string]float64 }); ok {
			ss.Diagnostics = d.Diagnostics()
		}
		for _, pos := range e.positionsOf(inst) {
			ss.Positions = append(ss.Positions, pos.Snapshot())
		}
		st.Strategies = append(st.Strategies, ss)
	}
	return st
}
