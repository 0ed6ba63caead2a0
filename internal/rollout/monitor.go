package rollout

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/dominodatalab/stevedore/internal/kubectl"
	"github.com/dominodatalab/stevedore/internal/relay"
)

// Status describes how far rollout verification got.
type Status string

const (
	// StatusPending means no observation has been made yet.
	StatusPending Status = "pending"

	// StatusInProgress means the workload was observed mid-rollout.
	StatusInProgress Status = "in-progress"

	// StatusSucceeded means the rollout was observed complete.
	StatusSucceeded Status = "succeeded"

	// StatusTimedOut means completion was not observed within the wait
	// budget. The rollout may still finish on its own.
	StatusTimedOut Status = "timed-out"

	// StatusFailed means the rollout stalled or its state could not be
	// queried.
	StatusFailed Status = "failed"
)

// Terminal reports whether the monitor would never move past s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusTimedOut, StatusFailed:
		return true
	}
	return false
}

// DefaultPollInterval spaces status queries far enough apart to keep a
// fleet of CI runners from hammering the cluster.
const DefaultPollInterval = 3 * time.Second

// Monitor watches a workload converge after an image update by polling its
// typed state over the relay.
type Monitor struct {
	relay       relay.Executor
	interval    time.Duration
	pollTimeout time.Duration
	log         logr.Logger
}

// New returns a monitor polling every interval, with each remote query
// bounded by pollTimeout.
func New(exec relay.Executor, interval, pollTimeout time.Duration, log logr.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{relay: exec, interval: interval, pollTimeout: pollTimeout, log: log}
}

// Await polls target until its rollout completes, stalls, or maxWait
// elapses. No poll is started after maxWait. A timeout yields
// StatusTimedOut with a nil error: unconfirmed is not the same as failed.
// Cancellation returns the last observed status along with ctx's error.
func (m *Monitor) Await(ctx context.Context, target kubectl.Target, maxWait time.Duration) (Status, error) {
	if maxWait <= 0 {
		return StatusPending, errors.New("maxWait must be positive, rollout verification cannot wait forever")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	status := StatusPending
	for {
		state, err := m.observe(ctx, target)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return status, err
			}
			return StatusFailed, err
		}

		status = StatusInProgress
		switch {
		case state.Stalled:
			return StatusFailed, errors.Errorf("rollout of %s stalled: %s", target.Slug(), state.Message)
		case state.Done:
			m.log.Info("Rollout complete", "target", target.String(), "state", state.Message)
			return StatusSucceeded, nil
		}
		m.log.V(1).Info("Rollout in progress", "target", target.String(), "state", state.Message)

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-deadline.C:
			return StatusTimedOut, nil
		case <-ticker.C:
		}

		// The deadline may have fired while we slept on the ticker.
		select {
		case <-deadline.C:
			return StatusTimedOut, nil
		default:
		}
	}
}

func (m *Monitor) observe(ctx context.Context, target kubectl.Target) (kubectl.RolloutState, error) {
	res, err := m.relay.Execute(ctx, kubectl.Get(target), m.pollTimeout)
	if err != nil {
		return kubectl.RolloutState{}, errors.Wrapf(err, "querying rollout state of %s", target.Slug())
	}

	w, err := kubectl.ParseWorkload(target.Kind, []byte(res.Stdout))
	if err != nil {
		return kubectl.RolloutState{}, errors.Wrapf(err, "querying rollout state of %s", target.Slug())
	}
	return w.RolloutState(), nil
}
