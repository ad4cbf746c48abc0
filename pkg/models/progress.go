package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SubUnitKind names the part of a unit a progress record belongs to
type SubUnitKind string

const (
	KindModule    SubUnitKind = "module"
	KindQuiz      SubUnitKind = "quiz"
	KindWriting   SubUnitKind = "writing"
	KindFinalExam SubUnitKind = "final_exam"
)

// Valid reports whether k is one of the known kinds
func (k SubUnitKind) Valid() bool {
	switch k {
	case KindModule, KindQuiz, KindWriting, KindFinalExam:
		return true
	}
	return false
}

// Scored reports whether records of this kind carry a score that decides completion
func (k SubUnitKind) Scored() bool {
	return k == KindQuiz || k == KindFinalExam
}

// Source tells where a record was read from
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// ProgressKey is the natural key of a progress fact within one learner's data
type ProgressKey struct {
	UnitID int         `json:"unit_id" db:"unit_id"`
	Kind   SubUnitKind `json:"kind" db:"kind"`
	Index  int         `json:"index" db:"sub_index"`
}

// String renders the key as "<unit>/<kind>/<index>", the form used by the local cache
func (k ProgressKey) String() string {
	return fmt.Sprintf("%d/%s/%d", k.UnitID, k.Kind, k.Index)
}

// UnitPrefix returns the key prefix shared by every record of a unit
func UnitPrefix(unitID int) string {
	return strconv.Itoa(unitID) + "/"
}

// ProgressRecord is one immutable fact about a learner's progress.
// CompletedAt holds the time of the attempt, whether or not it completed the key.
type ProgressRecord struct {
	ID          uuid.UUID   `json:"id"`
	Key         ProgressKey `json:"key"`
	Completed   bool        `json:"completed"`
	Score       *float64    `json:"score,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
	Source      Source      `json:"source"`
}

// MergedState is the reconciled view of a learner's progress, one record per key
type MergedState map[ProgressKey]ProgressRecord

// Completed reports whether the merged record for key is completed
func (m MergedState) Completed(key ProgressKey) bool {
	rec, ok := m[key]
	return ok && rec.Completed
}

// HasUnit reports whether any record exists for the unit
func (m MergedState) HasUnit(unitID int) bool {
	for key := range m {
		if key.UnitID == unitID {
			return true
		}
	}
	return false
}

// Records returns the merged records in no particular order
func (m MergedState) Records() []ProgressRecord {
	out := make([]ProgressRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out
}
