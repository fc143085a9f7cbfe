package strategy

import "sync"

// Group gives sibling strategy instances a typed reference to each other.
// Strategies that trade the same spread from several instances register
// here at construction instead of meeting through a shared global keyed by
// symbol string.
type Group struct {
	mu      sync.RWMutex
	members map[string]Strategy
}

// NewGroup creates an empty strategy group.
func NewGroup() *Group {
	return &Group{members: make(map[string]Strategy)}
}

// Register adds a member. Later registrations with the same name replace
// earlier ones.
func (g *Group) Register(s Strategy) {
	g.mu.Lock()
	g.members[s.Name()] = s
	g.mu.Unlock()
}

// Remove deletes a member by name.
func (g *Group) Remove(name string) {
	g.mu.Lock()
	delete(g.members, name)
	g.mu.Unlock()
}

// Find returns a member by name, nil when absent.
func (g *Group) Find(name string) Strategy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.members[name]
}

// Others returns every member except the named one.
func (g *Group) Others(except string) []Strategy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Strategy, 0, len(g.members))
	for name, s := range g.members {
		if name != except {
			out = append(out, s)
		}
	}
	return out
}
