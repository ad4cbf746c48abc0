package models

// Status is the derived lock state of a unit or sub-unit
type Status string

const (
	StatusLocked     Status = "locked"
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// SubUnitStatus is the derived state of one module, quiz, writing prompt or exam
type SubUnitStatus struct {
	Kind   SubUnitKind `json:"kind"`
	Index  int         `json:"index"`
	Status Status      `json:"status"`
	Reason string      `json:"reason,omitempty"`
	Score  *float64    `json:"score,omitempty"`
}

// UnitStatus is recomputed from merged progress on every read and never stored
type UnitStatus struct {
	UnitID  int             `json:"unit_id"`
	Title   string          `json:"title"`
	Status  Status          `json:"status"`
	Percent int             `json:"percent"`
	Modules []SubUnitStatus `json:"modules,omitempty"`
	Quiz    *SubUnitStatus  `json:"quiz,omitempty"`
	Writing []SubUnitStatus `json:"writing,omitempty"`
	Exam    *SubUnitStatus  `json:"exam,omitempty"`
}
