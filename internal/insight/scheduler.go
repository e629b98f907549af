package insight

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

// Scheduler decides when an insight snapshot is due and owns every read
// and write of the persisted bookkeeping (lastInsightGeneration,
// totalLogs). Callers serialize access; the coordinator holds its mutex
// across RecordLog and ShouldGenerate so the read-modify-write of the
// two keys is single-writer.
type Scheduler struct {
	policy SchedulingPolicy
	store  model.StateStore
	log    *zap.Logger
}

// NewScheduler builds a Scheduler. A nil policy degrades to the
// never-firing policy.
func NewScheduler(policy SchedulingPolicy, store model.StateStore, log *zap.Logger) *Scheduler {
	if policy == nil {
		policy = DisabledPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{policy: policy, store: store, log: log}
}

// Policy returns the active scheduling policy.
func (s *Scheduler) Policy() SchedulingPolicy { return s.policy }

// RecordLog increments the cumulative log counter and returns the new
// total. The counter is monotonic; nothing ever decreases or resets it.
func (s *Scheduler) RecordLog() (int64, error) {
	total, err := s.readTotalLogs()
	if err != nil {
		return 0, err
	}
	total++
	if err := s.store.Set(model.StateKeyTotalLogs, strconv.FormatInt(total, 10)); err != nil {
		return 0, fmt.Errorf("persist %s: %w", model.StateKeyTotalLogs, err)
	}
	return total, nil
}

// ShouldGenerate reports whether a snapshot is due at now under the
// active policy, advancing the persisted generation timestamp when it
// returns true. Time-based policies with no prior baseline seed it to
// now and report not due. Unsupported policy fields are logged and
// report not due; store failures surface as errors for the caller's
// failure policy.
func (s *Scheduler) ShouldGenerate(now time.Time) (bool, error) {
	st, err := s.readState()
	if err != nil {
		return false, err
	}

	decision, err := s.policy.evaluate(now, st)
	if err != nil {
		var unsupported errUnsupportedSchedule
		if errors.As(err, &unsupported) {
			s.log.Warn("scheduling policy degraded to never-due", zap.Error(err))
			return false, nil
		}
		return false, err
	}

	if decision.seedBaseline {
		if err := s.writeLastGeneration(now); err != nil {
			return false, err
		}
		return false, nil
	}
	if !decision.due {
		return false, nil
	}
	if err := s.writeLastGeneration(now); err != nil {
		return false, err
	}
	return true, nil
}

// State returns the read-side view of the persisted bookkeeping.
func (s *Scheduler) State() (model.SchedulerState, error) {
	st, err := s.readState()
	if err != nil {
		return model.SchedulerState{}, err
	}
	return model.SchedulerState{
		LastGeneration:    st.lastGeneration,
		HasLastGeneration: st.hasLast,
		TotalLogs:         st.totalLogs,
		Policy:            s.policy.String(),
	}, nil
}

func (s *Scheduler) readState() (schedState, error) {
	var st schedState

	raw, ok, err := s.store.Get(model.StateKeyLastGeneration)
	if err != nil {
		return st, fmt.Errorf("read %s: %w", model.StateKeyLastGeneration, err)
	}
	if ok {
		ms, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return st, fmt.Errorf("read %s: parse %q: %w", model.StateKeyLastGeneration, raw, perr)
		}
		st.lastGeneration = time.UnixMilli(ms)
		st.hasLast = true
	}

	st.totalLogs, err = s.readTotalLogs()
	if err != nil {
		return st, err
	}
	return st, nil
}

func (s *Scheduler) readTotalLogs() (int64, error) {
	raw, ok, err := s.store.Get(model.StateKeyTotalLogs)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", model.StateKeyTotalLogs, err)
	}
	if !ok {
		return 0, nil
	}
	total, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("read %s: parse %q: %w", model.StateKeyTotalLogs, raw, perr)
	}
	return total, nil
}

func (s *Scheduler) writeLastGeneration(now time.Time) error {
	value := strconv.FormatInt(now.UnixMilli(), 10)
	if err := s.store.Set(model.StateKeyLastGeneration, value); err != nil {
		return fmt.Errorf("persist %s: %w", model.StateKeyLastGeneration, err)
	}
	return nil
}
