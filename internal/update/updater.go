package update

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/dominodatalab/stevedore/internal/kubectl"
	"github.com/dominodatalab/stevedore/internal/relay"
)

// Attempt is one remote command in the order it was issued, with its
// classified outcome.
type Attempt struct {
	Command string
	OK      bool
	Detail  string
}

// Result is the full trail of an image update: which commands ran, what the
// workload looked like beforehand, and whether anything actually changed.
type Result struct {
	Target        kubectl.Target
	Image         string
	PreviousImage string

	// NoChange is set when the workload already ran the desired image.
	NoChange bool

	// Restarted is set when the post-update rollout restart was accepted.
	Restarted bool

	Attempts []Attempt
}

func (r *Result) record(cmd relay.Command, ok bool, detail string) {
	r.Attempts = append(r.Attempts, Attempt{Command: cmd.String(), OK: ok, Detail: detail})
}

func (r *Result) ok(cmd relay.Command) {
	r.record(cmd, true, "")
}

func (r *Result) fail(cmd relay.Command, err error) {
	r.record(cmd, false, err.Error())
}

// Updater drives a workload's container image to a desired value over a
// command relay.
type Updater struct {
	relay   relay.Executor
	timeout time.Duration
	log     logr.Logger
}

// New returns an updater whose remote commands are each bounded by
// commandTimeout.
func New(exec relay.Executor, commandTimeout time.Duration, log logr.Logger) *Updater {
	return &Updater{relay: exec, timeout: commandTimeout, log: log}
}

// Apply updates target's container image. The primary mutation is kubectl
// set image; a strategic merge patch is tried once if, and only if, the
// remote ran the primary and refused it. Transport failures propagate
// immediately because the command may never have reached the cluster and
// repeating a mutation blindly is not safe.
//
// The returned Result is always non-nil so callers can report the attempt
// trail even when err is set.
func (u *Updater) Apply(ctx context.Context, target kubectl.Target, image string) (*Result, error) {
	res := &Result{Target: target, Image: image}

	if err := target.Validate(); err != nil {
		return res, err
	}
	if image == "" {
		return res, errors.New("image reference is required")
	}

	// Discover the resource before touching it.
	getCmd := kubectl.Get(target)
	state, err := u.relay.Execute(ctx, getCmd, u.timeout)
	if err != nil {
		res.fail(getCmd, err)
		if exitErr, ok := relay.AsExitError(err); ok && signalsNotFound(exitErr.Stderr) {
			return res, &NotFoundError{Target: target}
		}
		return res, errors.Wrapf(err, "discovering %s", target.Slug())
	}
	res.ok(getCmd)

	if w, perr := kubectl.ParseWorkload(target.Kind, []byte(state.Stdout)); perr == nil {
		if prev, found := w.ContainerImage(target.ContainerName()); found {
			res.PreviousImage = prev
			res.NoChange = prev == image
		}
	} else {
		u.log.V(1).Info("Discovery output was not parseable; previous image unknown", "error", perr.Error())
	}

	if err := u.mutate(ctx, target, image, res); err != nil {
		return res, err
	}

	// Recycling the pods is best effort: the image change is already
	// applied, and some clusters restrict restart verbs.
	restartCmd := kubectl.RolloutRestart(target)
	if _, err := u.relay.Execute(ctx, restartCmd, u.timeout); err != nil {
		res.fail(restartCmd, err)
		u.log.Info("Rollout restart was not accepted; continuing", "target", target.String(), "error", err.Error())
	} else {
		res.ok(restartCmd)
		res.Restarted = true
	}

	return res, nil
}

func (u *Updater) mutate(ctx context.Context, target kubectl.Target, image string, res *Result) error {
	setCmd := kubectl.SetImage(target, image)
	_, err := u.relay.Execute(ctx, setCmd, u.timeout)
	if err == nil {
		res.ok(setCmd)
		return nil
	}

	res.fail(setCmd, err)
	if _, refused := relay.AsExitError(err); !refused {
		return errors.Wrapf(err, "updating image on %s", target.Slug())
	}
	primaryErr := err

	u.log.Info("Primary image mutation was refused; falling back to strategic patch",
		"target", target.String(), "error", err.Error())

	patchCmd, err := kubectl.PatchImage(target, image)
	if err != nil {
		return err
	}
	_, err = u.relay.Execute(ctx, patchCmd, u.timeout)
	if err == nil {
		res.ok(patchCmd)
		return nil
	}

	res.fail(patchCmd, err)
	if _, refused := relay.AsExitError(err); !refused {
		return errors.Wrapf(err, "patching image on %s", target.Slug())
	}

	// Both mutation forms were refused. Re-read the workload once: if it
	// already carries the desired image there was nothing to change and
	// the update holds.
	if u.confirmImage(ctx, target, image, res) {
		res.NoChange = true
		return nil
	}
	return &MutationError{Target: target, Image: image, Primary: primaryErr, Fallback: err}
}

func (u *Updater) confirmImage(ctx context.Context, target kubectl.Target, image string, res *Result) bool {
	getCmd := kubectl.Get(target)
	state, err := u.relay.Execute(ctx, getCmd, u.timeout)
	if err != nil {
		res.fail(getCmd, err)
		return false
	}

	w, err := kubectl.ParseWorkload(target.Kind, []byte(state.Stdout))
	if err != nil {
		res.record(getCmd, false, "workload state was not parseable: "+err.Error())
		return false
	}

	current, found := w.ContainerImage(target.ContainerName())
	if found && current == image {
		res.record(getCmd, true, "image already set to "+image)
		return true
	}
	res.record(getCmd, false, "workload still runs "+current)
	return false
}

// signalsNotFound reports whether kubectl's stderr describes a missing
// resource. The CLI exposes this condition only through its message text.
func signalsNotFound(stderr string) bool {
	return strings.Contains(stderr, "(NotFound)") ||
		strings.Contains(strings.ToLower(stderr), "not found")
}
