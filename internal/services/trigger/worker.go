package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"caredesk/internal/eventbus"
	logx "caredesk/pkg/logx"
)

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("trigger not running, dropping job", logx.String("job", j.name))
		return
	}
	select {
	case q <- j:
	default:
		s.log.Warn("trigger queue full, dropping job",
			logx.String("job", j.name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	s.log.Debug("worker started", logx.Int("worker", idx))
	defer s.log.Debug("worker stopped", logx.Int("worker", idx))
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, stopCh, j)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, j job) {
	start := time.Now()
	s.publish(eventbus.TypeJobStarted, JobEvent{ID: j.id, Name: j.name, Started: start})

	// Mark running for overlap control (shared state between cron firings).
	if j.state != nil {
		j.state.mu.Lock()
		j.state.running = true
		j.state.mu.Unlock()
		defer func() {
			j.state.mu.Lock()
			j.state.running = false
			j.state.mu.Unlock()
		}()
	}

	// Copy config to avoid data races with Apply().
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	opt := j.opt.withDefaults(cfg)
	maxAttempts := 1 + opt.RetryMax

	var err error
	attempts := 0
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		// Per-attempt timeout so a timed-out first attempt doesn't poison retries.
		runCtx := ctx
		var cancel func()
		if j.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		}
		err = j.run(runCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil || attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(opt, attempt)
		s.log.Debug("job retry scheduled",
			logx.String("job", j.name),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			err = errors.New("trigger stopped")
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: j.id, Name: j.name, Started: start, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed",
			logx.String("job", j.name),
			logx.Err(err),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts))
		s.publish(eventbus.TypeJobFailed, JobEvent{ID: j.id, Name: j.name, Started: start, Duration: dur, Attempts: attempts, Error: item.Error})
	} else {
		// Keep frequent fast jobs at DEBUG; only slow ones are worth INFO.
		if dur >= 750*time.Millisecond {
			s.log.Info("job completed", logx.String("job", j.name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		} else {
			s.log.Debug("job completed", logx.String("job", j.name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		}
		s.publish(eventbus.TypeJobFinished, JobEvent{ID: j.id, Name: j.name, Started: start, Duration: dur, Attempts: attempts})
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 200
	}
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func backoffDelay(opt JobOptions, retry int) time.Duration {
	// retry starts at 1 (first retry)
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > opt.RetryMaxDelay {
			break
		}
	}
	// jitter [1-j, 1+j]
	if opt.RetryJitter > 0 {
		r := (rand.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	return d
}
