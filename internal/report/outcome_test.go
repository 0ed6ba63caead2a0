package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dominodatalab/stevedore/internal/kubectl"
	"github.com/dominodatalab/stevedore/internal/rollout"
	"github.com/dominodatalab/stevedore/internal/update"
)

var started = time.Date(2025, 8, 1, 10, 30, 0, 0, time.UTC)

func testResult() *update.Result {
	return &update.Result{
		Target:        kubectl.Target{Kind: kubectl.KindDeployment, Name: "api-gateway", Namespace: "edge"},
		Image:         "registry.example.com/api-gateway:v2",
		PreviousImage: "registry.example.com/api-gateway:v1",
		Restarted:     true,
		Attempts: []update.Attempt{
			{Command: "'kubectl' 'get' 'deployment' 'api-gateway'", OK: true},
			{Command: "'kubectl' 'set' 'image' 'deployment/api-gateway'", OK: true},
		},
	}
}

func testReporter() *Reporter {
	r := New(zapr.NewLogger(zap.NewNop()))
	r.now = func() time.Time { return started.Add(42 * time.Second) }
	return r
}

func TestFinalizeSucceeded(t *testing.T) {
	o := testReporter().Finalize(testResult(), nil, rollout.StatusSucceeded, nil, started)

	assert.Equal(t, StatusSucceeded, o.Status)
	assert.Equal(t, ExitSucceeded, o.ExitCode)
	assert.Equal(t, rollout.StatusSucceeded, o.Rollout)
	assert.Equal(t, "api-gateway", o.Container)
	assert.Equal(t, started, o.StartedAt)
	assert.Equal(t, started.Add(42*time.Second), o.CompletedAt)
	require.Len(t, o.Diagnostics, 2)

	_, err := uuid.Parse(o.ID)
	assert.NoError(t, err)
}

func TestFinalizeUnverified(t *testing.T) {
	o := testReporter().Finalize(testResult(), nil, rollout.StatusTimedOut, nil, started)

	assert.Equal(t, StatusSucceededUnverified, o.Status)
	assert.Equal(t, ExitUnverified, o.ExitCode)
	require.Len(t, o.Diagnostics, 3)
	assert.Contains(t, o.Diagnostics[2], "not confirmed")
	assert.Contains(t, o.Diagnostics[2], "may still converge")
}

func TestFinalizeMutationFailure(t *testing.T) {
	mu := testResult()
	mu.Attempts = append(mu.Attempts,
		update.Attempt{Command: "'kubectl' 'patch' 'deployment' 'api-gateway'", OK: false, Detail: "remote command exited 1"})
	muErr := &update.MutationError{
		Target:   mu.Target,
		Image:    mu.Image,
		Primary:  errors.New("set image: forbidden"),
		Fallback: errors.New("patch: admission webhook denied"),
	}

	o := testReporter().Finalize(mu, muErr, rollout.StatusPending, nil, started)

	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ExitFailed, o.ExitCode)
	assert.Equal(t, rollout.StatusPending, o.Rollout)

	last := o.Diagnostics[len(o.Diagnostics)-1]
	assert.Contains(t, last, "forbidden")
	assert.Contains(t, last, "admission webhook")
}

func TestFinalizeRolloutFailure(t *testing.T) {
	rolloutErr := errors.New("rollout of deployment/api-gateway stalled: exceeded its progress deadline")
	o := testReporter().Finalize(testResult(), nil, rollout.StatusFailed, rolloutErr, started)

	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ExitFailed, o.ExitCode)
	assert.Contains(t, o.Diagnostics[len(o.Diagnostics)-1], "stalled")
}

func TestFinalizeCancellation(t *testing.T) {
	o := testReporter().Finalize(testResult(), nil, rollout.StatusInProgress, context.Canceled, started)

	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, rollout.StatusInProgress, o.Rollout, "the last observed status must survive")
	assert.Contains(t, o.Diagnostics[len(o.Diagnostics)-1], "context canceled")
}

func TestFinalizeDiagnosticsPreserveOrder(t *testing.T) {
	mu := testResult()
	o := testReporter().Finalize(mu, nil, rollout.StatusSucceeded, nil, started, "health probe passed")

	require.Len(t, o.Diagnostics, 3)
	assert.Contains(t, o.Diagnostics[0], "get")
	assert.Contains(t, o.Diagnostics[1], "set")
	assert.Equal(t, "health probe passed", o.Diagnostics[2])
}

func TestFormatAttempt(t *testing.T) {
	assert.Equal(t, "ok: 'kubectl' 'get'", formatAttempt(update.Attempt{Command: "'kubectl' 'get'", OK: true}))
	assert.Equal(t, "ok: 'kubectl' 'get' (image already set)",
		formatAttempt(update.Attempt{Command: "'kubectl' 'get'", OK: true, Detail: "image already set"}))
	assert.Equal(t, "failed: 'kubectl' 'patch': remote command exited 1",
		formatAttempt(update.Attempt{Command: "'kubectl' 'patch'", Detail: "remote command exited 1"}))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(StatusSucceeded))
	assert.Equal(t, 2, ExitCode(StatusSucceededUnverified))
	assert.Equal(t, 1, ExitCode(StatusFailed))
}

func TestCombineExitCodes(t *testing.T) {
	assert.Equal(t, ExitSucceeded, CombineExitCodes(nil))
	assert.Equal(t, ExitSucceeded, CombineExitCodes([]int{0, 0}))
	assert.Equal(t, ExitUnverified, CombineExitCodes([]int{0, 2, 0}))
	assert.Equal(t, ExitFailed, CombineExitCodes([]int{0, 2, 1}))
	assert.Equal(t, ExitFailed, CombineExitCodes([]int{1, 2}))
}

func TestWriteSummary(t *testing.T) {
	o := testReporter().Finalize(testResult(), nil, rollout.StatusSucceeded, nil, started)

	var buf bytes.Buffer
	o.WriteSummary(&buf)

	out := buf.String()
	assert.Contains(t, out, "deployment/api-gateway -n edge")
	assert.Contains(t, out, "registry.example.com/api-gateway:v2 (was registry.example.com/api-gateway:v1)")
	assert.Contains(t, out, "status:  succeeded (exit 0)")
	assert.Contains(t, out, "1. ok:")
}

func TestWriteJSON(t *testing.T) {
	o := testReporter().Finalize(testResult(), nil, rollout.StatusSucceeded, nil, started)

	var buf bytes.Buffer
	require.NoError(t, o.WriteJSON(&buf))

	var decoded Outcome
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, o.ID, decoded.ID)
	assert.Equal(t, o.Status, decoded.Status)
	assert.Equal(t, o.Diagnostics, decoded.Diagnostics)
}
