package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"caredesk/internal/dispense"
	"caredesk/internal/schedule"
	logx "caredesk/pkg/logx"
)

// ErrNotFound is returned for lookups of unknown rows.
var ErrNotFound = errors.New("storage: not found")

// Config configures storage.
//
// Driver values: "sqlite" or "memory". The engine is storage-centric, so an
// empty driver is a configuration error rather than "disabled".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence contract the scheduling engine reconciles and
// materializes against.
//
// The engine consumes narrow views of it (reconcile.Store, dispense.Store);
// this is the full surface a driver implements.
type Store interface {
	// Tasks.
	GetTask(ctx context.Context, id string) (schedule.Task, error)
	PutTask(ctx context.Context, t schedule.Task) error
	ListTasks(ctx context.Context) ([]schedule.Task, error)
	// UpdateTaskSchedule rewrites only the task's schedule position; all
	// other task fields belong to the records UI.
	UpdateTaskSchedule(ctx context.Context, taskID string, p schedule.Progress) error

	// Completion records. The engine only reads these; the records
	// application writes them when staff log care actions.
	PutCompletion(ctx context.Context, c schedule.Completion) error
	DeleteCompletion(ctx context.Context, c schedule.Completion) error
	FindLatestCompletion(ctx context.Context, taskID string) (schedule.Completion, bool, error)
	ExistsCompletion(ctx context.Context, taskID string, date time.Time) (bool, error)

	// Prescriptions.
	PutPrescription(ctx context.Context, p dispense.Prescription) error
	// ListPrescriptions returns all prescriptions, or only one subject's
	// when subjectID is non-empty.
	ListPrescriptions(ctx context.Context, subjectID string) ([]dispense.Prescription, error)

	// Dispensing instances. InsertInstance reports an existing identity key
	// as dispense.ErrDuplicate so callers can treat it as a benign skip.
	UpsertInstances(ctx context.Context, batch []dispense.Instance) (inserted int, err error)
	InsertInstance(ctx context.Context, in dispense.Instance) error
	DeleteInstancesOutsideWindow(ctx context.Context, prescriptionID string, w dispense.Window) (deleted int, err error)
	ListInstances(ctx context.Context, prescriptionID string) ([]dispense.Instance, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	case "":
		return nil, errors.New("storage driver is required")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
