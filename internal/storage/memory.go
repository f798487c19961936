package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"caredesk/internal/dispense"
	"caredesk/internal/schedule"
)

// memoryStore keeps everything in process. It exists for tests and for
// ephemeral setups; semantics mirror the sqlite driver exactly.
type memoryStore struct {
	mu sync.RWMutex

	tasks         map[string]schedule.Task
	completions   map[string][]schedule.Completion // by task ID
	prescriptions map[string]dispense.Prescription
	instances     map[string]dispense.Instance // by identity key
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		tasks:         map[string]schedule.Task{},
		completions:   map[string][]schedule.Completion{},
		prescriptions: map[string]dispense.Prescription{},
		instances:     map[string]dispense.Instance{},
	}
}

func instanceKey(prescriptionID string, date time.Time, slot string) string {
	return prescriptionID + "|" + date.Format("2006-01-02") + "|" + slot
}

func (s *memoryStore) GetTask(_ context.Context, id string) (schedule.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return schedule.Task{}, ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) PutTask(_ context.Context, t schedule.Task) error {
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListTasks(_ context.Context) ([]schedule.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateTaskSchedule(_ context.Context, taskID string, p schedule.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Progress = p
	s.tasks[taskID] = t
	return nil
}

func (s *memoryStore) PutCompletion(_ context.Context, c schedule.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.completions[c.TaskID] {
		if recordsSameSlot(have, c) {
			return nil
		}
	}
	s.completions[c.TaskID] = append(s.completions[c.TaskID], c)
	return nil
}

func (s *memoryStore) DeleteCompletion(_ context.Context, c schedule.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.completions[c.TaskID]
	for i, have := range list {
		if recordsSameSlot(have, c) {
			s.completions[c.TaskID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func recordsSameSlot(a, b schedule.Completion) bool {
	return a.Date.Format("2006-01-02") == b.Date.Format("2006-01-02") && a.Clock == b.Clock
}

func (s *memoryStore) FindLatestCompletion(_ context.Context, taskID string) (schedule.Completion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest schedule.Completion
	found := false
	for _, c := range s.completions[taskID] {
		if !found || c.Instant().After(latest.Instant()) {
			latest = c
			found = true
		}
	}
	return latest, found, nil
}

func (s *memoryStore) ExistsCompletion(_ context.Context, taskID string, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := date.Format("2006-01-02")
	for _, c := range s.completions[taskID] {
		if c.Date.Format("2006-01-02") == want {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) PutPrescription(_ context.Context, p dispense.Prescription) error {
	s.mu.Lock()
	s.prescriptions[p.ID] = p
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListPrescriptions(_ context.Context, subjectID string) ([]dispense.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dispense.Prescription, 0, len(s.prescriptions))
	for _, p := range s.prescriptions {
		if subjectID != "" && p.SubjectID != subjectID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpsertInstances(_ context.Context, batch []dispense.Instance) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, in := range batch {
		key := instanceKey(in.PrescriptionID, in.Date, in.Slot.String())
		if _, exists := s.instances[key]; exists {
			continue
		}
		s.instances[key] = in
		inserted++
	}
	return inserted, nil
}

func (s *memoryStore) InsertInstance(_ context.Context, in dispense.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := instanceKey(in.PrescriptionID, in.Date, in.Slot.String())
	if _, exists := s.instances[key]; exists {
		return dispense.ErrDuplicate
	}
	s.instances[key] = in
	return nil
}

func (s *memoryStore) DeleteInstancesOutsideWindow(_ context.Context, prescriptionID string, w dispense.Window) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, in := range s.instances {
		if in.PrescriptionID != prescriptionID {
			continue
		}
		if !w.Contains(in.Instant()) {
			delete(s.instances, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memoryStore) ListInstances(_ context.Context, prescriptionID string) ([]dispense.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dispense.Instance, 0)
	for _, in := range s.instances {
		if in.PrescriptionID == prescriptionID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instant().Before(out[j].Instant()) })
	return out, nil
}

func (s *memoryStore) Close() error { return nil }
