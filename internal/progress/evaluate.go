package progress

import (
	"fmt"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/pkg/models"
)

// ModuleShare is the percentage of a weekly unit earned by its modules;
// the quiz pass earns the rest.
const ModuleShare = 50

// Evaluator derives unit status from merged progress. It holds no state
// beyond the catalog and policy, so a pass can be abandoned and rerun freely.
type Evaluator struct {
	catalog *catalog.Catalog
	policy  UnitPolicy
}

func NewEvaluator(c *catalog.Catalog, policy UnitPolicy) *Evaluator {
	if policy == nil {
		policy = AllUnlocked()
	}
	return &Evaluator{catalog: c, policy: policy}
}

// Policy returns the cross-unit policy in use
func (e *Evaluator) Policy() UnitPolicy {
	return e.policy
}

// Evaluate returns the status of one unit. Earlier units are evaluated too
// because the policy may depend on them.
func (e *Evaluator) Evaluate(unitID int, merged models.MergedState) (models.UnitStatus, error) {
	if _, err := e.catalog.Unit(unitID); err != nil {
		return models.UnitStatus{}, err
	}

	var prev *models.UnitStatus
	for _, u := range e.catalog.Units() {
		st := e.evaluateUnit(u, merged, prev)
		if u.ID == unitID {
			return st, nil
		}
		prev = &st
	}
	return models.UnitStatus{}, fmt.Errorf("unit %d: %w", unitID, catalog.ErrUnknownUnit)
}

// EvaluateAll returns the status of every unit in curriculum order
func (e *Evaluator) EvaluateAll(merged models.MergedState) []models.UnitStatus {
	units := e.catalog.Units()
	out := make([]models.UnitStatus, 0, len(units))
	var prev *models.UnitStatus
	for _, u := range units {
		st := e.evaluateUnit(u, merged, prev)
		out = append(out, st)
		prev = &out[len(out)-1]
	}
	return out
}

func (e *Evaluator) evaluateUnit(u catalog.Unit, merged models.MergedState, prev *models.UnitStatus) models.UnitStatus {
	// the first unit is the entry point and is never locked
	unlocked := prev == nil || e.policy.Unlocked(u, *prev)

	if u.Kind == catalog.UnitFinalExam {
		return evaluateExam(u, merged, unlocked)
	}
	return evaluateWeekly(u, merged, unlocked)
}

func evaluateWeekly(u catalog.Unit, merged models.MergedState, unlocked bool) models.UnitStatus {
	quizKey := models.ProgressKey{UnitID: u.ID, Kind: models.KindQuiz}
	quizRec, quizSeen := merged[quizKey]
	quizPassed := quizSeen && quizRec.Completed

	// a passed quiz keeps the unit open even if the policy was tightened later
	open := unlocked || quizPassed

	st := models.UnitStatus{
		UnitID:  u.ID,
		Title:   u.Title,
		Modules: make([]models.SubUnitStatus, 0, u.Modules),
	}

	done := 0
	for i := 0; i < u.Modules; i++ {
		key := models.ProgressKey{UnitID: u.ID, Kind: models.KindModule, Index: i}
		rec, seen := merged[key]
		sub := models.SubUnitStatus{Kind: models.KindModule, Index: i}

		prevDone := i == 0 || merged.Completed(models.ProgressKey{UnitID: u.ID, Kind: models.KindModule, Index: i - 1})
		switch {
		case seen && rec.Completed:
			sub.Status = models.StatusCompleted
			done++
		case !open:
			sub.Status = models.StatusLocked
			sub.Reason = "unit locked"
		case !prevDone:
			sub.Status = models.StatusLocked
			sub.Reason = fmt.Sprintf("complete module %d first", i)
		case seen:
			sub.Status = models.StatusInProgress
		default:
			sub.Status = models.StatusAvailable
		}
		st.Modules = append(st.Modules, sub)
	}

	quiz := models.SubUnitStatus{Kind: models.KindQuiz}
	if quizSeen {
		quiz.Score = quizRec.Score
	}
	switch {
	case quizPassed:
		quiz.Status = models.StatusCompleted
	case !open:
		quiz.Status = models.StatusLocked
		quiz.Reason = "unit locked"
	case done < u.Modules:
		quiz.Status = models.StatusLocked
		quiz.Reason = fmt.Sprintf("complete %d of %d modules", u.Modules-done, u.Modules)
	default:
		quiz.Status = models.StatusAvailable
		if quizSeen && quizRec.Score != nil {
			quiz.Reason = fmt.Sprintf("last score %.0f below passing %.0f", *quizRec.Score, u.PassingScore)
		}
	}
	st.Quiz = &quiz

	for i := 0; i < u.WritingPrompts; i++ {
		rec, seen := merged[models.ProgressKey{UnitID: u.ID, Kind: models.KindWriting, Index: i}]
		sub := models.SubUnitStatus{Kind: models.KindWriting, Index: i}
		switch {
		case seen && rec.Completed:
			sub.Status = models.StatusCompleted
		case !open:
			sub.Status = models.StatusLocked
			sub.Reason = "unit locked"
		case seen:
			sub.Status = models.StatusInProgress
		default:
			sub.Status = models.StatusAvailable
		}
		st.Writing = append(st.Writing, sub)
	}

	switch {
	case quizPassed:
		st.Status = models.StatusCompleted
		st.Percent = 100
	case !unlocked:
		st.Status = models.StatusLocked
		st.Percent = modulePercent(done, u.Modules)
	case merged.HasUnit(u.ID):
		st.Status = models.StatusInProgress
		st.Percent = modulePercent(done, u.Modules)
	default:
		st.Status = models.StatusAvailable
	}
	return st
}

func evaluateExam(u catalog.Unit, merged models.MergedState, unlocked bool) models.UnitStatus {
	rec, seen := merged[models.ProgressKey{UnitID: u.ID, Kind: models.KindFinalExam}]
	passed := seen && rec.Completed

	exam := models.SubUnitStatus{Kind: models.KindFinalExam}
	if seen {
		exam.Score = rec.Score
	}
	st := models.UnitStatus{UnitID: u.ID, Title: u.Title, Exam: &exam}

	switch {
	case passed:
		exam.Status = models.StatusCompleted
		st.Status = models.StatusCompleted
		st.Percent = 100
	case !unlocked:
		exam.Status = models.StatusLocked
		exam.Reason = "unit locked"
		st.Status = models.StatusLocked
	case seen:
		exam.Status = models.StatusAvailable
		if rec.Score != nil {
			exam.Reason = fmt.Sprintf("last score %.0f below passing %.0f", *rec.Score, u.PassingScore)
		}
		st.Status = models.StatusInProgress
	default:
		exam.Status = models.StatusAvailable
		st.Status = models.StatusAvailable
	}
	return st
}

func modulePercent(done, total int) int {
	if total == 0 {
		return 0
	}
	return done * ModuleShare / total
}
