// Package agents contains the specialized financial agents. Every
// agent consumes exactly one event type and returns the uniform
// AgentResult envelope; approval gating is always deferred to the
// policy engine, never re-implemented locally.
package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quorumfi/finagent/pkg/contracts"
)

// Agent is the contract every specialized agent implements. Agents are
// stateless per invocation: all state lives in the policy store and
// the event ledger, so the orchestrator may dispatch to agents in
// parallel without shared-mutable-state hazards.
type Agent interface {
	ID() string
	EventType() contracts.EventType
	Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error)
}

// Registry is the typed event-type→agent table, resolved once at
// startup. Scheduled event types fan out to every agent registered
// for them.
type Registry struct {
	mu     sync.RWMutex
	byType map[contracts.EventType][]Agent
	byID   map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[contracts.EventType][]Agent),
		byID:   make(map[string]Agent),
	}
}

// Register adds an agent. Registering two agents with the same ID is a
// wiring bug and fails.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[a.ID()]; exists {
		return fmt.Errorf("agent %q already registered", a.ID())
	}
	r.byID[a.ID()] = a
	r.byType[a.EventType()] = append(r.byType[a.EventType()], a)
	return nil
}

// For returns the agents registered for an event type.
func (r *Registry) For(t contracts.EventType) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[t]
}

// IDs returns all registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// timed stamps an agent result with its processing time.
func timed(res *contracts.AgentResult, start time.Time) *contracts.AgentResult {
	res.Elapsed = time.Since(start)
	return res
}
