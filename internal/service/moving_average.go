package service

import (
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
)

// MovingAverageService computes a simple moving average over the closes of
// an upstream bar service. It demonstrates service chaining: it recomputes
// on upstream state changes and reports its own change flag onward.
type MovingAverageService struct {
	Base

	name   string
	source *BarService
	period int
	log    zerolog.Logger

	mu       sync.RWMutex
	value    float64
	hasValue bool
}

// NewMovingAverageService creates a moving average of the given period
// over the source bar service closes.
func NewMovingAverageService(name string, source *BarService, period int, log zerolog.Logger) (*MovingAverageService, error) {
	if source == nil {
		return nil, domain.NewConfigError("moving average %q requires a source bar service", name)
	}
	if period < 2 {
		return nil, domain.NewConfigError("moving average %q requires a period >= 2, got %d", name, period)
	}
	return &MovingAverageService{
		name:   name,
		source: source,
		period: period,
		log:    log.With().Str("service", name).Logger(),
	}, nil
}

// Name returns the service name.
func (s *MovingAverageService) Name() string { return s.name }

// RequiredServices names the upstream bar service.
func (s *MovingAverageService) RequiredServices() []string {
	return []string{s.source.Name()}
}

// Value returns the current average (descaled) and whether enough bars
// have completed to compute one.
func (s *MovingAverageService) Value() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.hasValue
}

// OnServiceDataUpdate recomputes the average when the source bar service
// changed. It returns true when the average value changed.
func (s *MovingAverageService) OnServiceDataUpdate(source Service) bool {
	if source != Service(s.source) {
		return false
	}
	size := s.source.Size()
	if size < s.period {
		return false
	}

	closes := make([]float64, s.period)
	for i := 0; i < s.period; i++ {
		bar, ok := s.source.BarByReversedIndex(s.period - 1 - i)
		if !ok {
			return false
		}
		closes[i] = s.source.Security().DescalePrice(bar.Close)
	}

	sma := talib.Sma(closes, s.period)
	next := sma[len(sma)-1]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasValue && next == s.value {
		return false
	}
	s.value = next
	s.hasValue = true
	s.log.Debug().Float64("value", next).Msg("Moving average updated")
	return true
}
