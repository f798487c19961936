package dispense

import (
	"strings"
	"time"

	"caredesk/internal/recurrence"
)

// PrescriptionStatus is the administrative state of a prescription.
type PrescriptionStatus int

const (
	StatusActive PrescriptionStatus = iota
	StatusInactive
	StatusPendingChange
)

func (s PrescriptionStatus) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusPendingChange:
		return "pending_change"
	default:
		return "active"
	}
}

// ParsePrescriptionStatus maps the stored status string; unknown values are
// treated as active so a bad row keeps being materialized rather than
// silently dropped.
func ParsePrescriptionStatus(s string) PrescriptionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive":
		return StatusInactive
	case "pending_change":
		return StatusPendingChange
	default:
		return StatusActive
	}
}

// Prescription is a recurring medication order for one resident.
type Prescription struct {
	ID        string
	SubjectID string
	Rule      recurrence.Rule // prescription dialect, anchored at StartDate

	StartDate time.Time         // date component only is significant
	StartTime *recurrence.Clock // nil = from 00:00 on the first day
	EndDate   *time.Time        // nil = open-ended
	EndTime   *recurrence.Clock // nil = until 23:59 on the last day

	Slots  []recurrence.Clock // ordered dispensing times
	Status PrescriptionStatus
}

// startClock returns the first-day lower bound (default 00:00).
func (p Prescription) startClock() recurrence.Clock {
	if p.StartTime != nil {
		return *p.StartTime
	}
	return recurrence.Clock{}
}

// endClock returns the last-day upper bound (default 23:59, i.e. an unset
// end time means "all day").
func (p Prescription) endClock() recurrence.Clock {
	if p.EndTime != nil {
		return *p.EndTime
	}
	return recurrence.Clock{Hour: 23, Minute: 59}
}

// Window is the currently-effective validity range of a prescription,
// bounded at minute granularity. A zero End means open-ended.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the instant lies inside the window.
func (w Window) Contains(instant time.Time) bool {
	if instant.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && instant.After(w.End) {
		return false
	}
	return true
}

// EffectiveWindow materializes the prescription's [start@startTime,
// end@endTime] validity range.
func (p Prescription) EffectiveWindow() Window {
	w := Window{Start: p.startClock().On(p.StartDate)}
	if p.EndDate != nil {
		w.End = p.endClock().On(*p.EndDate)
	}
	return w
}

// StageStatus is the state of one workflow stage of an instance.
type StageStatus int

const (
	StagePending StageStatus = iota
	StageCompleted
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ParseStageStatus maps the stored stage string; unknown values read as
// pending.
func ParseStageStatus(s string) StageStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed":
		return StageCompleted
	case "failed":
		return StageFailed
	default:
		return StagePending
	}
}

// Instance is one concrete scheduled dispensing obligation.
//
// Identity is (PrescriptionID, Date, Slot); ID is a surrogate row key.
// The three stage statuses are advanced by the dispensing workflow outside
// this engine; generation never touches them after insert.
type Instance struct {
	ID             string
	PrescriptionID string
	SubjectID      string
	Date           time.Time // date component only is significant
	Slot           recurrence.Clock

	Preparation  StageStatus
	Verification StageStatus
	Dispensing   StageStatus
}

// Instant is the instance's scheduled moment (date + slot).
func (i Instance) Instant() time.Time { return i.Slot.On(i.Date) }
