// Package supervise keeps worker actors alive: it restarts failed
// children according to a configured strategy and stops the tree when
// failures exceed the meltdown threshold.
package supervise

import (
	"fmt"
	"sync"
)

// RestartContext carries everything a strategy needs to decide what to
// do about one child failure.
type RestartContext struct {
	// Child is the name of the child that failed.
	Child string
	// Siblings are all currently supervised children, including Child.
	Siblings []string
	// RestartCount is how many times Child has been restarted so far.
	RestartCount int
	// MaxRestarts is the per-child restart budget.
	MaxRestarts int
	// Err is the failure that triggered the decision.
	Err error
}

// Decision is a strategy's verdict on a failure.
type Decision struct {
	// Stop aborts the whole supervisor instead of restarting.
	Stop bool
	// Restart lists the children to restart, in order. Empty when Stop
	// is set.
	Restart []string
}

// Strategy chooses which children to restart when one fails.
type Strategy interface {
	// Decide returns the restart decision for a failure. Every strategy
	// stops once the failed child's restart budget is spent.
	Decide(rc RestartContext) Decision
	// Validate checks the strategy's configuration.
	Validate() error
	Name() string
}

func overBudget(rc RestartContext) bool {
	return rc.RestartCount >= rc.MaxRestarts
}

// OneForOne restarts only the failed child.
type OneForOne struct{}

func (OneForOne) Name() string    { return "one_for_one" }
func (OneForOne) Validate() error { return nil }

func (OneForOne) Decide(rc RestartContext) Decision {
	if overBudget(rc) {
		return Decision{Stop: true}
	}
	return Decision{Restart: []string{rc.Child}}
}

// OneForAll restarts every supervised child when any one fails. Use it
// when children share state that a partial restart would corrupt.
type OneForAll struct{}

func (OneForAll) Name() string    { return "one_for_all" }
func (OneForAll) Validate() error { return nil }

func (OneForAll) Decide(rc RestartContext) Decision {
	if overBudget(rc) {
		return Decision{Stop: true}
	}
	return Decision{Restart: append([]string(nil), rc.Siblings...)}
}

// RestForOne restarts the failed child plus the children registered as
// depending on it, transitively.
type RestForOne struct {
	mu         sync.RWMutex
	dependents map[string][]string
}

func NewRestForOne() *RestForOne {
	return &RestForOne{dependents: make(map[string][]string)}
}

// AddDependent declares that dependent must restart whenever parent does.
func (s *RestForOne) AddDependent(parent, dependent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents[parent] = append(s.dependents[parent], dependent)
}

func (s *RestForOne) Name() string { return "rest_for_one" }

// Validate rejects dependency cycles, which would make the restart set
// ill-defined.
func (s *RestForOne) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for root := range s.dependents {
		seen := map[string]bool{root: true}
		stack := append([]string(nil), s.dependents[root]...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n == root {
				return fmt.Errorf("dependency cycle through %q", root)
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			stack = append(stack, s.dependents[n]...)
		}
	}
	return nil
}

func (s *RestForOne) Decide(rc RestartContext) Decision {
	if overBudget(rc) {
		return Decision{Stop: true}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := []string{rc.Child}
	seen := map[string]bool{rc.Child: true}
	for i := 0; i < len(order); i++ {
		for _, dep := range s.dependents[order[i]] {
			if !seen[dep] {
				seen[dep] = true
				order = append(order, dep)
			}
		}
	}
	return Decision{Restart: order}
}
