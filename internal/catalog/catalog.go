package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/example/weekpath/pkg/models"
)

var (
	ErrUnknownUnit    = errors.New("unknown unit")
	ErrUnknownSubUnit = errors.New("unknown sub-unit")
)

// UnitKind separates regular weeks from single-assessment units
type UnitKind string

const (
	UnitWeekly    UnitKind = "weekly"
	UnitFinalExam UnitKind = "final_exam"
)

// DefaultPassingScore is the quiz threshold used when content does not set one
const DefaultPassingScore = 70.0

// Unit describes one week of content. Units are static and never mutated.
type Unit struct {
	ID             int      `json:"id"`
	Title          string   `json:"title"`
	Kind           UnitKind `json:"kind"`
	Modules        int      `json:"modules"`
	WritingPrompts int      `json:"writing_prompts"`
	PassingScore   float64  `json:"passing_score"`
}

// Catalog is an ordered, read-only set of units
type Catalog struct {
	units []Unit
	byID  map[int]int
}

// New builds a catalog ordered by unit ID
func New(units []Unit) (*Catalog, error) {
	if len(units) == 0 {
		return nil, errors.New("catalog has no units")
	}

	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[int]int, len(sorted))
	for i, u := range sorted {
		if u.ID <= 0 {
			return nil, fmt.Errorf("unit %q: id must be positive", u.Title)
		}
		if _, dup := byID[u.ID]; dup {
			return nil, fmt.Errorf("duplicate unit id %d", u.ID)
		}
		if u.Kind == "" {
			u.Kind = UnitWeekly
		}
		switch u.Kind {
		case UnitWeekly:
			if u.Modules <= 0 {
				return nil, fmt.Errorf("unit %d: weekly unit needs at least one module", u.ID)
			}
		case UnitFinalExam:
			u.Modules = 0
			u.WritingPrompts = 0
		default:
			return nil, fmt.Errorf("unit %d: unknown kind %q", u.ID, u.Kind)
		}
		if u.WritingPrompts < 0 {
			return nil, fmt.Errorf("unit %d: negative writing prompt count", u.ID)
		}
		if u.PassingScore > 100 {
			return nil, fmt.Errorf("unit %d: passing score %.0f above 100", u.ID, u.PassingScore)
		}
		if u.PassingScore <= 0 {
			u.PassingScore = DefaultPassingScore
		}
		if u.Title == "" {
			u.Title = fmt.Sprintf("Week %d", u.ID)
		}
		sorted[i] = u
		byID[u.ID] = i
	}

	return &Catalog{units: sorted, byID: byID}, nil
}

// Default returns the built-in curriculum: eight weeks of four modules, a quiz
// and a writing prompt each, followed by the final exam.
func Default() *Catalog {
	units := make([]Unit, 0, 9)
	for week := 1; week <= 8; week++ {
		units = append(units, Unit{
			ID:             week,
			Title:          fmt.Sprintf("Week %d", week),
			Kind:           UnitWeekly,
			Modules:        4,
			WritingPrompts: 1,
			PassingScore:   DefaultPassingScore,
		})
	}
	units = append(units, Unit{
		ID:           9,
		Title:        "Final Exam",
		Kind:         UnitFinalExam,
		PassingScore: DefaultPassingScore,
	})

	c, err := New(units)
	if err != nil {
		panic(err)
	}
	return c
}

// Units returns all units in curriculum order
func (c *Catalog) Units() []Unit {
	out := make([]Unit, len(c.units))
	copy(out, c.units)
	return out
}

// Unit looks up a unit by ID
func (c *Catalog) Unit(id int) (Unit, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Unit{}, fmt.Errorf("unit %d: %w", id, ErrUnknownUnit)
	}
	return c.units[idx], nil
}

// Validate checks that key addresses an existing sub-unit
func (c *Catalog) Validate(key models.ProgressKey) (Unit, error) {
	u, err := c.Unit(key.UnitID)
	if err != nil {
		return Unit{}, err
	}

	var count int
	switch key.Kind {
	case models.KindModule:
		count = u.Modules
	case models.KindWriting:
		count = u.WritingPrompts
	case models.KindQuiz:
		if u.Kind == UnitWeekly {
			count = 1
		}
	case models.KindFinalExam:
		if u.Kind == UnitFinalExam {
			count = 1
		}
	}

	if key.Index < 0 || key.Index >= count {
		return Unit{}, fmt.Errorf("%s: %w", key, ErrUnknownSubUnit)
	}
	return u, nil
}

// Passed reports whether score meets the unit's threshold
func (u Unit) Passed(score float64) bool {
	return score >= u.PassingScore
}
