// Package dispatch is the engine core: it owns the securities, the
// computed-data services and the strategy instances, and routes market
// data, service updates and execution reports between them. Every
// callback of one strategy instance runs on that instance's own
// goroutine, strictly serialized; the market data path itself stays on
// the feed goroutine.
package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/events"
	"github.com/alimogh/trdk/internal/position"
	"github.com/alimogh/trdk/internal/service"
	"github.com/alimogh/trdk/internal/strategy"
)

// Archiver persists retired positions. The engine treats archiving as
// best effort: a failed write is logged, never blocks retirement.
type Archiver interface {
	SavePosition(snap position.Snapshot) error
}

// reportSource is implemented by trading systems that deliver execution
// reports in-process, like the paper venue.
type reportSource interface {
	SetReportHandler(func(domain.ExecutionReport))
}

// quoteMatcher is implemented by trading systems that resolve resting
// orders against quote updates in-process.
type quoteMatcher interface {
	OnQuote(security *domain.Security)
}

type boundService struct {
	kind string
	svc  service.Service
}

type instance struct {
	class    string
	strat    strategy.Strategy
	runner   *runner
	services []service.Service
	symbols  map[string]bool
}

func (i *instance) boundTo(svc service.Service) bool {
	for _, s := range i.services {
		if s == svc {
			return true
		}
	}
	return false
}

// Engine wires securities, services and strategies together.
type Engine struct {
	ts       domain.TradingSystem
	registry *strategy.Registry
	group    *strategy.Group
	guard    strategy.EntryGuard
	eventsM  *events.Manager
	archive  Archiver
	log      zerolog.Logger

	mu         sync.RWMutex
	securities map[string]*domain.Security
	services   []boundService
	instances  map[string]*instance
	started    bool

	revision atomic.Int64
}

// NewEngine creates the engine. Guard and archive may be nil.
func NewEngine(
	ts domain.TradingSystem,
	registry *strategy.Registry,
	eventsManager *events.Manager,
	guard strategy.EntryGuard,
	archive Archiver,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		ts:         ts,
		registry:   registry,
		group:      strategy.NewGroup(),
		guard:      guard,
		eventsM:    eventsManager,
		archive:    archive,
		log:        log.With().Str("component", "engine").Logger(),
		securities: make(map[string]*domain.Security),
		instances:  make(map[string]*instance),
	}
}

// AddSecurity registers a tradable security. All securities are
// registered before strategies that subscribe to them.
func (e *Engine) AddSecurity(sec *domain.Security) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.securities[sec.Symbol]; ok {
		return domain.NewConfigError("security %q already registered", sec.Symbol)
	}
	e.securities[sec.Symbol] = sec
	return nil
}

// AddService registers a computed-data service under a kind (e.g.
// "bars"). Registration order is evaluation order, so upstream services
// of a chain register before their dependents.
func (e *Engine) AddService(kind string, svc service.Service) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bs := range e.services {
		if bs.svc.Name() == svc.Name() {
			return domain.NewConfigError("service %q already registered", svc.Name())
		}
	}
	e.services = append(e.services, boundService{kind: kind, svc: svc})
	return nil
}

// FindSecurity resolves a registered symbol, nil when unknown.
func (e *Engine) FindSecurity(symbol string) *domain.Security {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.securities[symbol]
}

// AddStrategy instantiates and starts a strategy. Its requirements are
// resolved against the registered services; OnSecurityStart and
// OnServiceStart are delivered on the instance goroutine before any data
// event.
func (e *Engine) AddStrategy(class, name string, params map[string]string) error {
	return e.AddStrategyWithUses(class, name, params, nil)
}

// AddStrategyWithUses additionally binds the named services on top of
// the requirements the strategy declares itself.
func (e *Engine) AddStrategyWithUses(class, name string, params map[string]string, uses []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instances[name]; ok {
		return domain.NewConfigError("strategy %q already exists", name)
	}

	env := strategy.Env{
		TradingSystem: e.ts,
		FindSecurity:  e.FindSecurity,
		Group:         e.group,
		Guard:         e.guard,
		Log:           e.log,
	}
	strat, err := e.registry.Create(class, name, params, env)
	if err != nil {
		return err
	}

	reqs, err := ParseRequirements(strat.Requirements())
	if err != nil {
		return err
	}
	for _, use := range uses {
		reqs = append(reqs, Requirement{Name: use})
	}

	inst := &instance{
		class:   class,
		strat:   strat,
		runner:  newRunner(name, e.log),
		symbols: make(map[string]bool),
	}
	for _, req := range reqs {
		if req.Name == "level1" {
			if _, ok := e.securities[req.Symbol]; !ok {
				return domain.NewConfigError(
					"strategy %q requires unknown security %q", name, req.Symbol)
			}
			inst.symbols[req.Symbol] = true
			continue
		}
		svc := e.resolveServiceLocked(req)
		if svc == nil {
			return domain.NewConfigError(
				"strategy %q requirement %q cannot be resolved", name, req.Name)
		}
		if inst.boundTo(svc) {
			continue
		}
		inst.services = append(inst.services, svc)
		if bound, ok := svc.(interface{ Security() *domain.Security }); ok {
			inst.symbols[bound.Security().Symbol] = true
		}
	}

	e.instances[name] = inst
	e.group.Register(strat)
	go inst.runner.Run()

	// Start notifications precede any data event for the same entity.
	for symbol := range inst.symbols {
		sec := e.securities[symbol]
		inst.runner.Enqueue(func() { strat.OnSecurityStart(sec) })
	}
	for _, svc := range inst.services {
		svc := svc
		inst.runner.Enqueue(func() { strat.OnServiceStart(svc) })
	}

	e.emit(events.StrategyAdded, map[string]interface{}{"name": name, "class": class})
	e.bump()
	return nil
}

// RemoveStrategy stops and removes an instance. An instance with active
// positions cannot be removed; close them first.
func (e *Engine) RemoveStrategy(name string) error {
	e.mu.Lock()
	inst, ok := e.instances[name]
	if !ok {
		e.mu.Unlock()
		return domain.NewConfigError("strategy %q not found", name)
	}
	if base, ok := inst.strat.(interface{ Positions() *strategy.List }); ok {
		if base.Positions().Count() > 0 {
			e.mu.Unlock()
			return domain.NewConfigError("strategy %q still has active positions", name)
		}
	}
	delete(e.instances, name)
	e.group.Remove(name)
	e.mu.Unlock()

	inst.runner.Stop()
	e.emit(events.StrategyRemoved, map[string]interface{}{"name": name})
	e.bump()
	return nil
}

// resolveServiceLocked matches a requirement against registered services
// by kind or instance name, filtered by bound security when the
// requirement is parameterized.
func (e *Engine) resolveServiceLocked(req Requirement) service.Service {
	for _, bs := range e.services {
		if bs.kind != req.Name && bs.svc.Name() != req.Name {
			continue
		}
		if req.Symbol != "" {
			bound, ok := bs.svc.(interface{ Security() *domain.Security })
			if !ok || bound.Security().Symbol != req.Symbol {
				continue
			}
		}
		return bs.svc
	}
	return nil
}

// Start registers the execution report handler and runs the initial
// broker-position reconciliation.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if src, ok := e.ts.(reportSource); ok {
		src.SetReportHandler(e.RouteReport)
	}
	if err := e.ReconcileBrokerPositions(true); err != nil {
		e.log.Warn().Err(err).Msg("Initial broker reconciliation failed")
	}
	e.emit(events.EngineStarted, nil)
	e.log.Info().Msg("Engine started")
	return nil
}

// Stop stops every strategy runner, draining pending callbacks.
func (e *Engine) Stop() {
	e.mu.Lock()
	instances := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.started = false
	e.mu.Unlock()

	for _, inst := range instances {
		inst.runner.Stop()
	}
	e.emit(events.EngineStopped, nil)
	e.log.Info().Msg("Engine stopped")
}

// OnLevel1Update applies a quote update: security snapshot, resting-order
// matching, service recomputation with chain propagation, then strategy
// delivery.
func (e *Engine) OnLevel1Update(symbol string, l1 domain.Level1) {
	sec := e.FindSecurity(symbol)
	if sec == nil {
		return
	}
	sec.SetLevel1(l1)
	if matcher, ok := e.ts.(quoteMatcher); ok {
		matcher.OnQuote(sec)
	}

	e.mu.RLock()
	changed := e.runServicesLocked(func(svc service.Service) bool {
		return svc.OnLevel1Update(sec)
	})
	for _, inst := range e.instances {
		e.deliverLocked(inst, sec, changed)
	}
	e.mu.RUnlock()
	e.bump()
}

// OnNewTrade applies an execution print from the tape.
func (e *Engine) OnNewTrade(symbol string, trade domain.Trade) {
	sec := e.FindSecurity(symbol)
	if sec == nil {
		return
	}
	sec.ApplyTrade(trade)
	if matcher, ok := e.ts.(quoteMatcher); ok {
		matcher.OnQuote(sec)
	}

	e.mu.RLock()
	changed := e.runServicesLocked(func(svc service.Service) bool {
		return svc.OnNewTrade(sec, trade)
	})
	for _, inst := range e.instances {
		if inst.symbols[symbol] {
			strat := inst.strat
			inst.runner.Enqueue(func() { strat.OnNewTrade(sec, trade) })
		}
		e.deliverLocked(inst, nil, changed)
	}
	e.mu.RUnlock()
	e.bump()
}

// runServicesLocked applies one data event to every service in
// registration order and propagates state changes down service chains.
// The boolean return of each service gates onward propagation: a service
// reporting no change stops its downstream updates.
func (e *Engine) runServicesLocked(apply func(service.Service) bool) []service.Service {
	var changed []service.Service
	for _, bs := range e.services {
		if apply(bs.svc) {
			changed = append(changed, bs.svc)
			changed = e.propagateLocked(bs.svc, changed)
		}
	}
	return changed
}

func (e *Engine) propagateLocked(src service.Service, changed []service.Service) []service.Service {
	for _, bs := range e.services {
		dep, ok := bs.svc.(service.Requires)
		if !ok {
			continue
		}
		for _, name := range dep.RequiredServices() {
			if name != src.Name() {
				continue
			}
			if bs.svc.OnServiceDataUpdate(src) {
				changed = append(changed, bs.svc)
				changed = e.propagateLocked(bs.svc, changed)
			}
		}
	}
	return changed
}

// deliverLocked enqueues the data callbacks one instance should see for
// this event: its own level1 update plus updates of services it is bound
// to.
func (e *Engine) deliverLocked(inst *instance, sec *domain.Security, changed []service.Service) {
	strat := inst.strat
	if sec != nil && inst.symbols[sec.Symbol] {
		inst.runner.Enqueue(func() { strat.OnLevel1Update(sec) })
	}
	for _, svc := range changed {
		if !inst.boundTo(svc) {
			continue
		}
		svc := svc
		inst.runner.Enqueue(func() {
			strat.OnServiceDataUpdate(svc)
			e.retire(inst)
		})
	}
}

// RouteReport routes an execution report to the owning position. Every
// instance gets the report on its own goroutine; the position layer
// ignores reports for orders it does not hold, so exactly one instance
// applies it, then observes the position update and retires completed
// positions.
func (e *Engine) RouteReport(rep domain.ExecutionReport) {
	e.mu.RLock()
	for _, inst := range e.instances {
		inst := inst
		inst.runner.Enqueue(func() {
			for _, pos := range e.positionsOf(inst) {
				if pos.ApplyReport(rep) {
					inst.strat.OnPositionUpdate(pos)
					e.retire(inst)
					break
				}
			}
		})
	}
	e.mu.RUnlock()
	e.bump()
}

func (e *Engine) positionsOf(inst *instance) []*position.Position {
	if base, ok := inst.strat.(interface{ Positions() *strategy.List }); ok {
		return base.Positions().Slice()
	}
	return nil
}

// retire removes completed positions from the instance list, archives
// their final snapshots and emits retirement events. Runs on the
// instance goroutine.
func (e *Engine) retire(inst *instance) {
	base, ok := inst.strat.(interface{ Positions() *strategy.List })
	if !ok {
		return
	}
	for _, pos := range base.Positions().RetireCompleted() {
		snap := pos.Snapshot()
		if e.archive != nil {
			if err := e.archive.SavePosition(snap); err != nil {
				e.log.Error().Err(err).
					Str("position_id", snap.ID).
					Msg("Position archive write failed")
			}
		}
		e.emit(events.PositionRetired, map[string]interface{}{
			"position_id": snap.ID,
			"strategy":    snap.Strategy,
			"symbol":      snap.Symbol,
			"canceled":    snap.IsCanceled,
			"error":       snap.IsError,
		})
	}
}

// ReconcileBrokerPositions fetches the externally observed positions and
// delivers them to every instance subscribed to the security. isInitial
// marks the startup pass where strategies adopt pre-existing exposure.
func (e *Engine) ReconcileBrokerPositions(isInitial bool) error {
	positions, err := e.ts.BrokerPositions()
	if err != nil {
		return fmt.Errorf("broker positions: %w", err)
	}

	e.mu.RLock()
	for _, bp := range positions {
		sec, ok := e.securities[bp.Symbol]
		if !ok {
			e.log.Warn().Str("symbol", bp.Symbol).Msg("Broker position for unknown security")
			continue
		}
		for _, inst := range e.instances {
			if !inst.symbols[bp.Symbol] {
				continue
			}
			inst := inst
			qty := bp.Qty
			inst.runner.Enqueue(func() {
				inst.strat.OnBrokerPositionUpdate(sec, qty, isInitial)
			})
		}
	}
	e.mu.RUnlock()

	e.emit(events.BrokerReconciled, map[string]interface{}{
		"count":   len(positions),
		"initial": isInitial,
	})
	return nil
}

// OpenPosition opens a market position on behalf of the dashboard. The
// work runs on the strategy goroutine to keep the serialization
// guarantee.
func (e *Engine) OpenPosition(strategyName, symbol string, side domain.PositionSide, qty domain.Qty) error {
	inst, err := e.findInstance(strategyName)
	if err != nil {
		return err
	}
	sec := e.FindSecurity(symbol)
	if sec == nil {
		return domain.NewConfigError("unknown security %q", symbol)
	}

	return e.callOn(inst, func() error {
		l1 := sec.Level1()
		startPrice := l1.LastPrice
		if side == domain.Long && l1.AskPrice != 0 {
			startPrice = l1.AskPrice
		} else if side == domain.Short && l1.BidPrice != 0 {
			startPrice = l1.BidPrice
		}
		pos, err := position.New(strategyName, e.ts, sec, side, qty, startPrice, e.log)
		if err != nil {
			return err
		}
		pos.SetTag("manual")
		if _, err := pos.OpenAtMarketPrice(nil); err != nil {
			return err
		}
		if base, ok := inst.strat.(interface{ Positions() *strategy.List }); ok {
			base.Positions().Add(pos)
		}
		e.bump()
		return nil
	})
}

// ClosePosition unwinds one position at market, canceling any in-flight
// order first.
func (e *Engine) ClosePosition(strategyName, positionID string) error {
	inst, err := e.findInstance(strategyName)
	if err != nil {
		return err
	}
	return e.callOn(inst, func() error {
		pos := e.findPosition(inst, positionID)
		if pos == nil {
			return domain.NewConfigError("position %q not found", positionID)
		}
		if _, err := pos.CancelAtMarketPrice(nil); err != nil {
			return err
		}
		e.bump()
		return nil
	})
}

// CloseAll unwinds every active position of every instance at market. It
// returns the number of positions signaled.
func (e *Engine) CloseAll() (int, error) {
	e.mu.RLock()
	instances := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.RUnlock()

	total := 0
	for _, inst := range instances {
		inst := inst
		err := e.callOn(inst, func() error {
			for _, pos := range e.positionsOf(inst) {
				if pos.IsCompleted() {
					continue
				}
				if _, err := pos.CancelAtMarketPrice(nil); err != nil {
					e.log.Error().Err(err).
						Str("position_id", pos.ID()).
						Msg("Close-all cancel failed")
					continue
				}
				total++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	e.bump()
	return total, nil
}

func (e *Engine) findInstance(name string) (*instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[name]
	if !ok {
		return nil, domain.NewConfigError("strategy %q not found", name)
	}
	return inst, nil
}

func (e *Engine) findPosition(inst *instance, id string) *position.Position {
	for _, pos := range e.positionsOf(inst) {
		if pos.ID() == id {
			return pos
		}
	}
	return nil
}

// callOn runs fn on the instance goroutine and waits for its result.
func (e *Engine) callOn(inst *instance, fn func() error) error {
	errCh := make(chan error, 1)
	if !inst.runner.Enqueue(func() { errCh <- fn() }) {
		return fmt.Errorf("strategy %q is stopping", inst.strat.Name())
	}
	return <-errCh
}

func (e *Engine) emit(t events.EventType, data map[string]interface{}) {
	if e.eventsM != nil {
		e.eventsM.Emit(t, "engine", data)
	}
}

// Account returns the trading system's current account snapshot.
func (e *Engine) Account() (domain.AccountSnapshot, error) {
	return e.ts.Account()
}

// Started reports whether the engine is running.
func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

func (e *Engine) bump() { e.revision.Add(1) }

// Revision returns the monotonically increasing state revision. The
// dashboard compares revisions to decide between full and delta updates.
func (e *Engine) Revision() int64 { return e.revision.Load() }

// sortedInstanceNames returns instance names in stable order.
func (e *Engine) sortedInstanceNames() []string {
	names := make([]string, 0, len(e.instances))
	for name := range e.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
