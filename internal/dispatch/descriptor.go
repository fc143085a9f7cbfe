package dispatch

import (
	"strings"

	"github.com/alimogh/trdk/internal/domain"
)

// Requirement is one entry of a strategy's requirements descriptor: a
// service kind or instance name, optionally parameterized with a symbol,
// e.g. "bars[GLD]".
type Requirement struct {
	Name   string
	Symbol string
}

// ParseRequirements parses the comma-separated requirements descriptor a
// strategy declares. An empty descriptor means no requirements.
func ParseRequirements(descriptor string) ([]Requirement, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, nil
	}

	var reqs []Requirement
	for _, entry := range strings.Split(descriptor, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, domain.NewConfigError("empty entry in requirements %q", descriptor)
		}

		open := strings.IndexByte(entry, '[')
		if open < 0 {
			if strings.ContainsAny(entry, "[]") {
				return nil, domain.NewConfigError("malformed requirement %q", entry)
			}
			reqs = append(reqs, Requirement{Name: entry})
			continue
		}

		if !strings.HasSuffix(entry, "]") || open == 0 {
			return nil, domain.NewConfigError("malformed requirement %q", entry)
		}
		name := strings.TrimSpace(entry[:open])
		symbol := strings.TrimSpace(entry[open+1 : len(entry)-1])
		if name == "" || symbol == "" || strings.ContainsAny(symbol, "[]") {
			return nil, domain.NewConfigError("malformed requirement %q", entry)
		}
		reqs = append(reqs, Requirement{Name: name, Symbol: symbol})
	}
	return reqs, nil
}
