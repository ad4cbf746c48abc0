package progress

import (
	"fmt"
	"strings"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/pkg/models"
)

// UnitPolicy decides whether a unit after the first one is open, given the
// status of the unit before it. It is the only cross-unit rule in evaluation.
type UnitPolicy interface {
	Name() string
	Unlocked(unit catalog.Unit, previous models.UnitStatus) bool
}

type policyFunc struct {
	name string
	fn   func(catalog.Unit, models.UnitStatus) bool
}

func (p policyFunc) Name() string { return p.name }

func (p policyFunc) Unlocked(unit catalog.Unit, previous models.UnitStatus) bool {
	return p.fn(unit, previous)
}

const (
	PolicyAllUnlocked = "all_unlocked"
	PolicySequential  = "sequential"
)

// AllUnlocked opens every unit regardless of earlier quiz results.
func AllUnlocked() UnitPolicy {
	return policyFunc{name: PolicyAllUnlocked, fn: func(catalog.Unit, models.UnitStatus) bool { return true }}
}

// Sequential opens a unit only once the previous unit is completed.
func Sequential() UnitPolicy {
	return policyFunc{name: PolicySequential, fn: func(_ catalog.Unit, previous models.UnitStatus) bool {
		return previous.Status == models.StatusCompleted
	}}
}

// ParsePolicy maps a config value to a policy. Empty means all_unlocked.
func ParsePolicy(name string) (UnitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAllUnlocked, "allunlocked":
		return AllUnlocked(), nil
	case PolicySequential:
		return Sequential(), nil
	default:
		return nil, fmt.Errorf("unknown unit policy %q", name)
	}
}
