package config

import (
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/alimogh/trdk/internal/domain"
)

// Wiring is the parsed strategy/service wiring file. Sections are named
// `[Security.SYM]`, `[Service.name]` and `[Strategy.name]`; order within
// each kind is preserved so service chains register upstream first.
type Wiring struct {
	Securities []SecurityWiring
	Services   []ServiceWiring
	Strategies []StrategyWiring
}

// SecurityWiring declares one tradable instrument.
type SecurityWiring struct {
	Symbol          string
	Exchange        string
	PrimaryExchange string
	Currency        string
	PriceScale      int64
	RoundLot        int64
}

// ServiceWiring declares one computed-data service instance.
type ServiceWiring struct {
	Name   string
	Class  string
	Symbol string
	Uses   []string
	Params map[string]string
}

// StrategyWiring declares one strategy instance. All keys other than
// `class` and `uses` pass through as raw parameters for the strategy
// factory to validate. `uses` supplements the requirements the strategy
// declares itself.
type StrategyWiring struct {
	Name   string
	Class  string
	Uses   []string
	Params map[string]string
}

// LoadWiring parses the wiring INI file.
func LoadWiring(path string) (*Wiring, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, domain.NewConfigError("wiring file %s: %v", path, err)
	}
	return parseWiring(file)
}

// ParseWiring parses wiring from in-memory INI content.
func ParseWiring(content []byte) (*Wiring, error) {
	file, err := ini.Load(content)
	if err != nil {
		return nil, domain.NewConfigError("wiring: %v", err)
	}
	return parseWiring(file)
}

func parseWiring(file *ini.File) (*Wiring, error) {
	w := &Wiring{}
	for _, section := range file.Sections() {
		name := section.Name()
		switch {
		case name == ini.DefaultSection:
			continue
		case strings.HasPrefix(name, "Security."):
			sec, err := parseSecurity(strings.TrimPrefix(name, "Security."), section)
			if err != nil {
				return nil, err
			}
			w.Securities = append(w.Securities, sec)
		case strings.HasPrefix(name, "Service."):
			svc, err := parseService(strings.TrimPrefix(name, "Service."), section)
			if err != nil {
				return nil, err
			}
			w.Services = append(w.Services, svc)
		case strings.HasPrefix(name, "Strategy."):
			strat, err := parseStrategy(strings.TrimPrefix(name, "Strategy."), section)
			if err != nil {
				return nil, err
			}
			w.Strategies = append(w.Strategies, strat)
		default:
			return nil, domain.NewConfigError("unknown wiring section %q", name)
		}
	}
	return w, nil
}

func parseSecurity(symbol string, section *ini.Section) (SecurityWiring, error) {
	if symbol == "" {
		return SecurityWiring{}, domain.NewConfigError("security section without a symbol")
	}
	sec := SecurityWiring{
		Symbol:          symbol,
		Exchange:        section.Key("exchange").String(),
		PrimaryExchange: section.Key("primary_exchange").String(),
		Currency:        section.Key("currency").MustString("USD"),
		PriceScale:      section.Key("price_scale").MustInt64(1),
		RoundLot:        section.Key("round_lot").MustInt64(1),
	}
	if sec.PriceScale <= 0 || sec.RoundLot <= 0 {
		return SecurityWiring{}, domain.NewConfigError(
			"security %s: price_scale and round_lot must be positive", symbol)
	}
	return sec, nil
}

func parseService(name string, section *ini.Section) (ServiceWiring, error) {
	svc := ServiceWiring{
		Name:   name,
		Class:  section.Key("class").String(),
		Symbol: section.Key("symbol").String(),
		Params: make(map[string]string),
	}
	if svc.Class == "" {
		return ServiceWiring{}, domain.NewConfigError("service %s: class is required", name)
	}
	if uses := section.Key("uses").String(); uses != "" {
		for _, entry := range strings.Split(uses, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				return ServiceWiring{}, domain.NewConfigError("service %s: empty uses entry", name)
			}
			svc.Uses = append(svc.Uses, entry)
		}
	}
	for _, key := range section.Keys() {
		switch key.Name() {
		case "class", "symbol", "uses":
		default:
			svc.Params[key.Name()] = key.String()
		}
	}
	return svc, nil
}

// Interval returns the service's `interval` parameter as a duration,
// defaulting when absent.
func (s ServiceWiring) Interval(def time.Duration) (time.Duration, error) {
	raw, ok := s.Params["interval"]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, domain.NewConfigError("service %s: invalid interval %q", s.Name, raw)
	}
	return d, nil
}

func parseStrategy(name string, section *ini.Section) (StrategyWiring, error) {
	strat := StrategyWiring{
		Name:   name,
		Class:  section.Key("class").String(),
		Params: make(map[string]string),
	}
	if strat.Class == "" {
		return StrategyWiring{}, domain.NewConfigError("strategy %s: class is required", name)
	}
	if uses := section.Key("uses").String(); uses != "" {
		for _, entry := range strings.Split(uses, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				return StrategyWiring{}, domain.NewConfigError("strategy %s: empty uses entry", name)
			}
			strat.Uses = append(strat.Uses, entry)
		}
	}
	for _, key := range section.Keys() {
		switch key.Name() {
		case "class", "uses":
		default:
			strat.Params[key.Name()] = key.String()
		}
	}
	return strat, nil
}
