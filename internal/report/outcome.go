package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/dominodatalab/stevedore/internal/rollout"
	"github.com/dominodatalab/stevedore/internal/update"
)

// Status is the terminal disposition of one deployment.
type Status string

const (
	// StatusSucceeded means the image was applied and the rollout was
	// observed complete.
	StatusSucceeded Status = "succeeded"

	// StatusSucceededUnverified means the image was applied but rollout
	// completion was not observed within the wait budget.
	StatusSucceededUnverified Status = "succeeded-unverified"

	// StatusFailed means the image update was refused or the rollout
	// failed outright.
	StatusFailed Status = "failed"
)

// Process exit codes contracted with the calling automation. Unverified
// success is distinct so pipelines can choose their own posture toward it.
const (
	ExitSucceeded  = 0
	ExitFailed     = 1
	ExitUnverified = 2
)

// ExitCode maps a terminal status to its process exit code.
func ExitCode(s Status) int {
	switch s {
	case StatusSucceeded:
		return ExitSucceeded
	case StatusSucceededUnverified:
		return ExitUnverified
	default:
		return ExitFailed
	}
}

// CombineExitCodes folds per-target exit codes into a single process code.
// Failure outranks unverified, which outranks success.
func CombineExitCodes(codes []int) int {
	combined := ExitSucceeded
	for _, c := range codes {
		switch c {
		case ExitFailed:
			return ExitFailed
		case ExitUnverified:
			combined = ExitUnverified
		}
	}
	return combined
}

// Outcome is the single report produced for one deployment invocation. It
// is created once by Finalize and never mutated afterwards.
type Outcome struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	Name          string         `json:"name"`
	Namespace     string         `json:"namespace"`
	Container     string         `json:"container"`
	Image         string         `json:"image"`
	PreviousImage string         `json:"previousImage,omitempty"`
	Status        Status         `json:"status"`
	Rollout       rollout.Status `json:"rollout"`
	NoChange      bool           `json:"noChange,omitempty"`
	Restarted     bool           `json:"restarted,omitempty"`
	Diagnostics   []string       `json:"diagnostics"`
	ExitCode      int            `json:"exitCode"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   time.Time      `json:"completedAt"`
}

// Reporter folds mutation trails and rollout observations into outcomes.
type Reporter struct {
	log logr.Logger
	now func() time.Time
}

func New(log logr.Logger) *Reporter {
	return &Reporter{log: log, now: time.Now}
}

// Finalize builds the outcome for one deployment. The diagnostics preserve
// every remote command in the order it was issued, followed by whichever
// classified failure or verification note ended the run, followed by notes.
func (r *Reporter) Finalize(mu *update.Result, muErr error, rs rollout.Status, rolloutErr error, startedAt time.Time, notes ...string) *Outcome {
	o := &Outcome{
		ID:            uuid.New().String(),
		Kind:          string(mu.Target.Kind),
		Name:          mu.Target.Name,
		Namespace:     mu.Target.Namespace,
		Container:     mu.Target.ContainerName(),
		Image:         mu.Image,
		PreviousImage: mu.PreviousImage,
		Rollout:       rs,
		NoChange:      mu.NoChange,
		Restarted:     mu.Restarted,
		StartedAt:     startedAt,
		CompletedAt:   r.now(),
	}

	for _, a := range mu.Attempts {
		o.Diagnostics = append(o.Diagnostics, formatAttempt(a))
	}

	switch {
	case muErr != nil:
		o.Status = StatusFailed
		o.Diagnostics = append(o.Diagnostics, muErr.Error())
	case rs == rollout.StatusSucceeded:
		o.Status = StatusSucceeded
	case rs == rollout.StatusTimedOut:
		o.Status = StatusSucceededUnverified
		o.Diagnostics = append(o.Diagnostics,
			"rollout was not confirmed within the wait budget; the image update was applied and may still converge")
	default:
		o.Status = StatusFailed
		if rolloutErr != nil {
			o.Diagnostics = append(o.Diagnostics, rolloutErr.Error())
		} else {
			o.Diagnostics = append(o.Diagnostics, fmt.Sprintf("rollout verification stopped in state %q", rs))
		}
	}

	o.Diagnostics = append(o.Diagnostics, notes...)
	o.ExitCode = ExitCode(o.Status)

	r.log.Info("Deployment outcome finalized",
		"target", o.Kind+"/"+o.Name,
		"namespace", o.Namespace,
		"status", o.Status,
		"rollout", o.Rollout,
		"exitCode", o.ExitCode)
	return o
}

func formatAttempt(a update.Attempt) string {
	if a.OK {
		if a.Detail != "" {
			return fmt.Sprintf("ok: %s (%s)", a.Command, a.Detail)
		}
		return "ok: " + a.Command
	}
	return fmt.Sprintf("failed: %s: %s", a.Command, a.Detail)
}

// WriteSummary renders the operator-facing account of the deployment.
func (o *Outcome) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "%s/%s -n %s\n", o.Kind, o.Name, o.Namespace)

	fmt.Fprintf(w, "  image:   %s", o.Image)
	if o.PreviousImage != "" && o.PreviousImage != o.Image {
		fmt.Fprintf(w, " (was %s)", o.PreviousImage)
	}
	if o.NoChange {
		fmt.Fprint(w, " (no change)")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  status:  %s (exit %d)\n", o.Status, o.ExitCode)
	fmt.Fprintf(w, "  rollout: %s\n", o.Rollout)
	for i, d := range o.Diagnostics {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, d)
	}
}

// WriteJSON renders the outcome for machine consumers.
func (o *Outcome) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}
