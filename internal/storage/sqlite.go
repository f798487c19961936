package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"caredesk/internal/dispense"
	"caredesk/internal/recurrence"
	"caredesk/internal/schedule"
	logx "caredesk/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	dateFormat  = "2006-01-02"
	stampFormat = time.RFC3339Nano
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *sqliteStore) GetTask(ctx context.Context, id string) (schedule.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, kind, rule_json, recurring, created_at, end_date, last_completed_at, next_due_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([]schedule.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, kind, rule_json, recurring, created_at, end_date, last_completed_at, next_due_at
		 FROM tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutTask(ctx context.Context, t schedule.Task) error {
	ruleJSON, err := json.Marshal(t.Rule)
	if err != nil {
		return err
	}
	last, next := progressColumns(t.Progress)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, subject_id, kind, rule_json, recurring, created_at, end_date, last_completed_at, next_due_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   subject_id=excluded.subject_id, kind=excluded.kind, rule_json=excluded.rule_json,
		   recurring=excluded.recurring, created_at=excluded.created_at, end_date=excluded.end_date,
		   last_completed_at=excluded.last_completed_at, next_due_at=excluded.next_due_at`,
		t.ID, t.SubjectID, t.Kind.String(), string(ruleJSON), t.Recurring,
		t.CreatedAt.Format(stampFormat), nullDate(t.EndDate), last, next,
	)
	return err
}

func (s *sqliteStore) UpdateTaskSchedule(ctx context.Context, taskID string, p schedule.Progress) error {
	last, next := progressColumns(p)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_completed_at = ?, next_due_at = ? WHERE id = ?`,
		last, next, taskID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(r rowScanner) (schedule.Task, error) {
	var (
		t         schedule.Task
		kind      string
		ruleJSON  string
		createdAt string
		endDate   sql.NullString
		last      sql.NullString
		next      sql.NullString
	)
	if err := r.Scan(&t.ID, &t.SubjectID, &kind, &ruleJSON, &t.Recurring, &createdAt, &endDate, &last, &next); err != nil {
		return schedule.Task{}, err
	}

	t.Kind = schedule.ParseKind(kind)
	if err := json.Unmarshal([]byte(ruleJSON), &t.Rule); err != nil {
		return schedule.Task{}, fmt.Errorf("task %s: bad rule: %w", t.ID, err)
	}
	var err error
	if t.CreatedAt, err = time.Parse(stampFormat, createdAt); err != nil {
		return schedule.Task{}, fmt.Errorf("task %s: bad created_at: %w", t.ID, err)
	}
	if endDate.Valid {
		d, err := time.Parse(dateFormat, endDate.String)
		if err != nil {
			return schedule.Task{}, fmt.Errorf("task %s: bad end_date: %w", t.ID, err)
		}
		t.EndDate = &d
	}
	t.Progress, err = progressFromColumns(last, next)
	if err != nil {
		return schedule.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	return t, nil
}

// progressColumns flattens the progress variant back into the two nullable
// timestamp columns the rest of the records application understands.
func progressColumns(p schedule.Progress) (last, next any) {
	if due, ok := p.NextDueAt(); ok {
		next = due.Format(stampFormat)
	}
	if done, ok := p.LastCompletedAt(); ok {
		last = done.Format(stampFormat)
	}
	return last, next
}

func progressFromColumns(last, next sql.NullString) (schedule.Progress, error) {
	if !next.Valid {
		return schedule.NotStarted(), nil
	}
	due, err := time.Parse(stampFormat, next.String)
	if err != nil {
		return schedule.Progress{}, fmt.Errorf("bad next_due_at: %w", err)
	}
	if !last.Valid {
		return schedule.Awaiting(due), nil
	}
	done, err := time.Parse(stampFormat, last.String)
	if err != nil {
		return schedule.Progress{}, fmt.Errorf("bad last_completed_at: %w", err)
	}
	return schedule.Satisfied(done, due), nil
}

// ---- completions ----

func (s *sqliteStore) PutCompletion(ctx context.Context, c schedule.Completion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions(task_id, date, time) VALUES(?,?,?)
		 ON CONFLICT(task_id, date, time) DO NOTHING`,
		c.TaskID, c.Date.Format(dateFormat), c.Clock.String(),
	)
	return err
}

func (s *sqliteStore) DeleteCompletion(ctx context.Context, c schedule.Completion) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM completions WHERE task_id = ? AND date = ? AND time = ?`,
		c.TaskID, c.Date.Format(dateFormat), c.Clock.String(),
	)
	return err
}

func (s *sqliteStore) FindLatestCompletion(ctx context.Context, taskID string) (schedule.Completion, bool, error) {
	var dateStr, timeStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT date, time FROM completions WHERE task_id = ? ORDER BY date DESC, time DESC LIMIT 1`,
		taskID).Scan(&dateStr, &timeStr)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Completion{}, false, nil
	}
	if err != nil {
		return schedule.Completion{}, false, err
	}
	c := schedule.Completion{TaskID: taskID}
	if c.Date, err = time.Parse(dateFormat, dateStr); err != nil {
		return schedule.Completion{}, false, err
	}
	if c.Clock, err = recurrence.ParseClock(timeStr); err != nil {
		return schedule.Completion{}, false, err
	}
	return c, true, nil
}

func (s *sqliteStore) ExistsCompletion(ctx context.Context, taskID string, date time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM completions WHERE task_id = ? AND date = ? LIMIT 1`,
		taskID, date.Format(dateFormat)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- prescriptions ----

func (s *sqliteStore) PutPrescription(ctx context.Context, p dispense.Prescription) error {
	ruleJSON, err := json.Marshal(p.Rule)
	if err != nil {
		return err
	}
	slots := make([]string, 0, len(p.Slots))
	for _, sl := range p.Slots {
		slots = append(slots, sl.String())
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prescriptions(id, subject_id, rule_json, start_date, start_time, end_date, end_time, slots, status)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   subject_id=excluded.subject_id, rule_json=excluded.rule_json, start_date=excluded.start_date,
		   start_time=excluded.start_time, end_date=excluded.end_date, end_time=excluded.end_time,
		   slots=excluded.slots, status=excluded.status`,
		p.ID, p.SubjectID, string(ruleJSON), p.StartDate.Format(dateFormat),
		nullClock(p.StartTime), nullDate(p.EndDate), nullClock(p.EndTime),
		strings.Join(slots, ","), p.Status.String(),
	)
	return err
}

func (s *sqliteStore) ListPrescriptions(ctx context.Context, subjectID string) ([]dispense.Prescription, error) {
	q := `SELECT id, subject_id, rule_json, start_date, start_time, end_date, end_time, slots, status
	      FROM prescriptions`
	args := []any{}
	if subjectID != "" {
		q += ` WHERE subject_id = ?`
		args = append(args, subjectID)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dispense.Prescription
	for rows.Next() {
		var (
			p         dispense.Prescription
			ruleJSON  string
			startDate string
			startTime sql.NullString
			endDate   sql.NullString
			endTime   sql.NullString
			slots     string
			status    string
		)
		if err := rows.Scan(&p.ID, &p.SubjectID, &ruleJSON, &startDate, &startTime, &endDate, &endTime, &slots, &status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ruleJSON), &p.Rule); err != nil {
			return nil, fmt.Errorf("prescription %s: bad rule: %w", p.ID, err)
		}
		if p.StartDate, err = time.Parse(dateFormat, startDate); err != nil {
			return nil, fmt.Errorf("prescription %s: bad start_date: %w", p.ID, err)
		}
		if p.StartTime, err = clockPtr(startTime); err != nil {
			return nil, fmt.Errorf("prescription %s: bad start_time: %w", p.ID, err)
		}
		if endDate.Valid {
			d, err := time.Parse(dateFormat, endDate.String)
			if err != nil {
				return nil, fmt.Errorf("prescription %s: bad end_date: %w", p.ID, err)
			}
			p.EndDate = &d
		}
		if p.EndTime, err = clockPtr(endTime); err != nil {
			return nil, fmt.Errorf("prescription %s: bad end_time: %w", p.ID, err)
		}
		for _, raw := range strings.Split(slots, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			c, err := recurrence.ParseClock(raw)
			if err != nil {
				return nil, fmt.Errorf("prescription %s: bad slot %q: %w", p.ID, raw, err)
			}
			p.Slots = append(p.Slots, c)
		}
		p.Status = dispense.ParsePrescriptionStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- instances ----

func (s *sqliteStore) UpsertInstances(ctx context.Context, batch []dispense.Instance) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, in := range batch {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO instances(id, prescription_id, subject_id, date, slot, preparation, verification, dispensing)
			 VALUES(?,?,?,?,?,?,?,?)
			 ON CONFLICT(prescription_id, date, slot) DO NOTHING`,
			in.ID, in.PrescriptionID, in.SubjectID, in.Date.Format(dateFormat), in.Slot.String(),
			in.Preparation.String(), in.Verification.String(), in.Dispensing.String(),
		)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *sqliteStore) InsertInstance(ctx context.Context, in dispense.Instance) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO instances(id, prescription_id, subject_id, date, slot, preparation, verification, dispensing)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(prescription_id, date, slot) DO NOTHING`,
		in.ID, in.PrescriptionID, in.SubjectID, in.Date.Format(dateFormat), in.Slot.String(),
		in.Preparation.String(), in.Verification.String(), in.Dispensing.String(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dispense.ErrDuplicate
	}
	return nil
}

func (s *sqliteStore) DeleteInstancesOutsideWindow(ctx context.Context, prescriptionID string, w dispense.Window) (int, error) {
	// date and slot are zero-padded, so "date slot" compares correctly as a
	// plain string.
	start := w.Start.Format(dateFormat + " 15:04")
	q := `DELETE FROM instances WHERE prescription_id = ? AND (date || ' ' || slot < ?`
	args := []any{prescriptionID, start}
	if !w.End.IsZero() {
		q += ` OR date || ' ' || slot > ?`
		args = append(args, w.End.Format(dateFormat+" 15:04"))
	}
	q += `)`

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ListInstances(ctx context.Context, prescriptionID string) ([]dispense.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prescription_id, subject_id, date, slot, preparation, verification, dispensing
		 FROM instances WHERE prescription_id = ? ORDER BY date, slot`,
		prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dispense.Instance
	for rows.Next() {
		var (
			in      dispense.Instance
			dateStr string
			slotStr string
			prep    string
			verify  string
			disp    string
		)
		if err := rows.Scan(&in.ID, &in.PrescriptionID, &in.SubjectID, &dateStr, &slotStr, &prep, &verify, &disp); err != nil {
			return nil, err
		}
		if in.Date, err = time.Parse(dateFormat, dateStr); err != nil {
			return nil, err
		}
		if in.Slot, err = recurrence.ParseClock(slotStr); err != nil {
			return nil, err
		}
		in.Preparation = dispense.ParseStageStatus(prep)
		in.Verification = dispense.ParseStageStatus(verify)
		in.Dispensing = dispense.ParseStageStatus(disp)
		out = append(out, in)
	}
	return out, rows.Err()
}

// ---- helpers ----

func nullDate(d *time.Time) any {
	if d == nil {
		return nil
	}
	return d.Format(dateFormat)
}

func nullClock(c *recurrence.Clock) any {
	if c == nil {
		return nil
	}
	return c.String()
}

func clockPtr(v sql.NullString) (*recurrence.Clock, error) {
	if !v.Valid {
		return nil, nil
	}
	c, err := recurrence.ParseClock(v.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
