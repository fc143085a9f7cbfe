// Package service provides upstream computed-data services: named
// components that consume market data (or other services), maintain
// derived state, and report through boolean return values whether that
// state changed. The dispatcher uses the flag to gate onward propagation
// along service chains - a service that reports "no change" stops its
// downstream updates.
package service

import "github.com/alimogh/trdk/internal/domain"

// Service is the contract every computed-data service implements. The
// data callbacks return true when the service state changed.
type Service interface {
	// Name returns the unique service name used in `uses` declarations.
	Name() string

	// OnSecurityStart notifies about a new subscribed security, before
	// any data event for it.
	OnSecurityStart(security *domain.Security)

	// OnLevel1Update notifies about a best bid/ask/last change.
	OnLevel1Update(security *domain.Security) bool

	// OnNewTrade notifies about an execution print.
	OnNewTrade(security *domain.Security, trade domain.Trade) bool

	// OnServiceDataUpdate notifies that an upstream service recomputed
	// its state.
	OnServiceDataUpdate(source Service) bool
}

// Requires lists upstream service names a chained service depends on.
// Services without dependencies return nil.
type Requires interface {
	RequiredServices() []string
}

// Base provides no-op defaults so services implement only the callbacks
// they care about.
type Base struct{}

// OnSecurityStart does nothing.
func (Base) OnSecurityStart(*domain.Security) {}

// OnLevel1Update reports no state change.
func (Base) OnLevel1Update(*domain.Security) bool { return false }

// OnNewTrade reports no state change.
func (Base) OnNewTrade(*domain.Security, domain.Trade) bool { return false }

// OnServiceDataUpdate reports no state change.
func (Base) OnServiceDataUpdate(Service) bool { return false }
