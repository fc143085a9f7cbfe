// Package strategy defines the contract user trading logic implements and
// the supporting pieces around it: the ordered active-position collection,
// the strategy group context for sibling lookup, and the factory registry
// used to instantiate strategies from configuration.
package strategy

import (
	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/position"
	"github.com/alimogh/trdk/internal/service"
)

// Strategy consumes engine events and manages positions. All callbacks for
// one strategy instance are delivered strictly serialized by the
// dispatcher, so implementations need no internal locking. Optional
// callbacks come with no-op defaults via Base; implementations override
// only what they need.
type Strategy interface {
	// Name returns the unique instance name.
	Name() string

	// Requirements declares the services and data feeds this strategy
	// needs as a comma-separated descriptor, e.g.
	// "bars[GLD], bars[DGL], level1[GLD]". The dispatcher resolves and
	// subscribes them before delivering any data event.
	Requirements() string

	// OnSecurityStart fires once per security before any data event
	// for it.
	OnSecurityStart(security *domain.Security)

	// OnServiceStart fires once per bound service before any of its
	// data events.
	OnServiceStart(svc service.Service)

	// OnLevel1Update fires on best bid/ask/last changes.
	OnLevel1Update(security *domain.Security)

	// OnNewTrade fires per execution print.
	OnNewTrade(security *domain.Security, trade domain.Trade)

	// OnServiceDataUpdate fires when a bound service reported a state
	// change.
	OnServiceDataUpdate(svc service.Service)

	// OnPositionUpdate fires whenever an owned position changes state:
	// every fill, cancel, and flag transition, not only leg completion.
	OnPositionUpdate(pos *position.Position)

	// OnBrokerPositionUpdate fires with the externally observed net
	// position during reconciliation. Negative qty means short.
	// Strategies adopt pre-existing exposure here via RestoreOpenState
	// instead of opening a duplicate position.
	OnBrokerPositionUpdate(security *domain.Security, qty int64, isInitial bool)
}

// SecurityFinder resolves a symbol to a subscribed security, nil when the
// symbol is not configured.
type SecurityFinder func(symbol string) *domain.Security

// EntryGuard runs pre-trade account checks before a strategy commits new
// exposure. A returned error means skip the entry. Nil disables checks.
type EntryGuard interface {
	CheckEntry(strategy string, notional float64) error
}

// Env is everything a strategy receives from the engine at construction:
// the trading system for order submission, security lookup, the sibling
// group, and the logger.
type Env struct {
	TradingSystem domain.TradingSystem
	FindSecurity  SecurityFinder
	Group         *Group
	Guard         EntryGuard
	Log           zerolog.Logger
}

// Base carries the common strategy state and no-op implementations of all
// optional callbacks. Embed it and override what the strategy needs.
type Base struct {
	name      string
	env       Env
	log       zerolog.Logger
	positions *List
}

// NewBase creates the embedded strategy base.
func NewBase(name string, env Env) Base {
	return Base{
		name:      name,
		env:       env,
		log:       env.Log.With().Str("strategy", name).Logger(),
		positions: NewList(),
	}
}

// Name returns the instance name.
func (b *Base) Name() string { return b.name }

// Requirements defaults to no required services.
func (b *Base) Requirements() string { return "" }

// Log returns the strategy-scoped logger.
func (b *Base) Log() *zerolog.Logger { return &b.log }

// Env returns the engine environment.
func (b *Base) Env() Env { return b.env }

// Positions returns the ordered collection of active positions.
func (b *Base) Positions() *List { return b.positions }

// FindSecurity resolves a configured symbol, nil when unknown.
func (b *Base) FindSecurity(symbol string) *domain.Security {
	if b.env.FindSecurity == nil {
		return nil
	}
	return b.env.FindSecurity(symbol)
}

// OnSecurityStart does nothing.
func (b *Base) OnSecurityStart(*domain.Security) {}

// OnServiceStart does nothing.
func (b *Base) OnServiceStart(service.Service) {}

// OnLevel1Update does nothing.
func (b *Base) OnLevel1Update(*domain.Security) {}

// OnNewTrade does nothing.
func (b *Base) OnNewTrade(*domain.Security, domain.Trade) {}

// OnServiceDataUpdate does nothing.
func (b *Base) OnServiceDataUpdate(service.Service) {}

// OnPositionUpdate does nothing.
func (b *Base) OnPositionUpdate(*position.Position) {}

// OnBrokerPositionUpdate does nothing.
func (b *Base) OnBrokerPositionUpdate(*domain.Security, int64, bool) {}
