package schedule

import (
	"strings"
	"time"

	"caredesk/internal/recurrence"
)

// Kind groups task types by how their urgency is evaluated.
//
// Document kinds (consent renewals, care plans) are date-granular: a due
// "moment" is really a due calendar date. Monitoring and nursing kinds are
// timestamp-granular.
type Kind int

const (
	KindMonitoring Kind = iota
	KindNursing
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindNursing:
		return "nursing"
	case KindDocument:
		return "document"
	default:
		return "monitoring"
	}
}

// ParseKind maps the stored task-kind string onto a Kind.
// Unknown values fall back to monitoring (timestamp granularity).
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document", "consent", "care_plan":
		return KindDocument
	case "nursing":
		return KindNursing
	default:
		return KindMonitoring
	}
}

// DateGranular reports whether due times for this kind compare as dates.
func (k Kind) DateGranular() bool { return k == KindDocument }

// DefaultClock returns the fallback due time for kinds that have one.
// Monitoring rounds default to 08:00; other kinds carry their time forward.
func (k Kind) DefaultClock() *recurrence.Clock {
	if k == KindMonitoring {
		return &recurrence.Clock{Hour: 8}
	}
	return nil
}

// Phase is the discriminator of a task's Progress variant.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseAwaiting         // an occurrence is due and not yet completed
	PhaseSatisfied        // latest occurrence completed, next one projected
)

// Progress is a task's position in its recurrence cycle.
//
// The zero value is NotStarted. Use the constructors; reading fields directly
// bypasses the variant discipline this type exists to enforce.
type Progress struct {
	phase       Phase
	completedAt time.Time
	nextDue     time.Time
}

func NotStarted() Progress { return Progress{} }

func Awaiting(due time.Time) Progress {
	return Progress{phase: PhaseAwaiting, nextDue: due}
}

func Satisfied(completedAt, nextDue time.Time) Progress {
	return Progress{phase: PhaseSatisfied, completedAt: completedAt, nextDue: nextDue}
}

func (p Progress) Phase() Phase { return p.phase }

// LastCompletedAt returns the latest recorded completion, if any.
func (p Progress) LastCompletedAt() (time.Time, bool) {
	if p.phase == PhaseSatisfied {
		return p.completedAt, true
	}
	return time.Time{}, false
}

// NextDueAt returns the projected next occurrence, if one exists.
func (p Progress) NextDueAt() (time.Time, bool) {
	if p.phase == PhaseNotStarted {
		return time.Time{}, false
	}
	return p.nextDue, true
}

// Task is a recurring care obligation for one resident.
//
// Its Progress is mutated exclusively by the reconciler (and by direct user
// edits outside this engine); tasks are never deleted here.
type Task struct {
	ID        string
	SubjectID string
	Kind      Kind
	Rule      recurrence.Rule
	Recurring bool
	CreatedAt time.Time
	EndDate   *time.Time
	Progress  Progress
}

// AnchorFor selects the cycle anchor for anchored daily rules on the given
// date: the latest completion when it precedes the date, else creation.
func (t Task) AnchorFor(date time.Time) time.Time {
	if done, ok := t.Progress.LastCompletedAt(); ok && recurrence.DaysBetween(done, date) > 0 {
		return done
	}
	return t.CreatedAt
}

// Matches reports whether date is an occurrence of the task's rule.
func (t Task) Matches(date time.Time) bool {
	return recurrence.Matches(t.Rule, date, t.AnchorFor(date))
}

// ProjectNext advances from to the task's next due moment.
//
// Non-recurring tasks have a single fixed occurrence, so from is returned
// unchanged. Recurring tasks advance by the rule's arithmetic and then get
// the due clock time resolved (preferred time, kind default, or carry-over).
func ProjectNext(t Task, from time.Time) time.Time {
	if !t.Recurring {
		return from
	}
	next := recurrence.Next(t.Rule, from)
	return recurrence.ApplyTimeOfDay(t.Rule, next, t.Kind.DefaultClock())
}
