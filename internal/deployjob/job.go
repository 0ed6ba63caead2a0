package deployjob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/dominodatalab/stevedore/internal/journal"
	"github.com/dominodatalab/stevedore/internal/kubectl"
	"github.com/dominodatalab/stevedore/internal/message"
	"github.com/dominodatalab/stevedore/internal/relay"
	"github.com/dominodatalab/stevedore/internal/report"
	"github.com/dominodatalab/stevedore/internal/rollout"
	"github.com/dominodatalab/stevedore/internal/update"
	"github.com/dominodatalab/stevedore/internal/util"
)

const (
	// DefaultMaxWait bounds rollout verification when the caller does not
	// choose a budget. Verification never waits forever.
	DefaultMaxWait = 5 * time.Minute

	// DefaultCommandTimeout bounds each remote command.
	DefaultCommandTimeout = 30 * time.Second
)

// Job drives one deployment end to end: update the image over the relay,
// watch the rollout converge, then report the outcome to every sink.
type Job struct {
	log logr.Logger

	target kubectl.Target
	image  string

	relay    relay.Executor
	updater  *update.Updater
	monitor  *rollout.Monitor
	reporter *report.Reporter

	producer message.Producer
	journal  *journal.Journal

	healthURL      string
	maxWait        time.Duration
	commandTimeout time.Duration

	cleanupSteps []func()
}

func New(cfg Config) (*Job, error) {
	log := NewLogger(cfg.Debug)

	kind, err := kubectl.ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	target := kubectl.Target{Kind: kind, Name: cfg.Service, Namespace: cfg.Namespace, Container: cfg.Container}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if cfg.Image == "" {
		return nil, errors.New("image reference is required")
	}

	log.Info("Initializing command relay", "path", cfg.RelayPath.String())

	rly, err := relay.New(cfg.RelayPath, log)
	if err != nil {
		return nil, errors.Wrap(err, "cannot initialize command relay")
	}
	if cfg.Debug {
		rly.Echo = &util.LogrWriter{Logger: log.WithName("remote")}
	}

	var cleanupSteps []func()

	// setup message publisher
	var producer message.Producer
	if cfg.BrokerOpts != nil {
		log.Info("Initializing deployment event publisher")

		if producer, err = message.NewProducer(cfg.BrokerOpts, log); err != nil {
			return nil, err
		}
		cleanupSteps = append(cleanupSteps, func() {
			log.Info("Closing message producer")
			producer.Close()
		})
	}

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		jrnl = journal.New(cfg.JournalPath)
	}

	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	commandTimeout := cfg.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}

	return &Job{
		log:            log,
		target:         target,
		image:          cfg.Image,
		relay:          rly,
		updater:        update.New(rly, commandTimeout, log),
		monitor:        rollout.New(rly, cfg.PollInterval, commandTimeout, log),
		reporter:       report.New(log),
		producer:       producer,
		journal:        jrnl,
		healthURL:      cfg.HealthURL,
		maxWait:        maxWait,
		commandTimeout: commandTimeout,
		cleanupSteps:   cleanupSteps,
	}, nil
}

// Run performs the deployment and always produces an outcome, even when
// the update or the verification fails. The outcome's exit code is the
// process exit code contracted with the calling automation.
func (j *Job) Run(ctx context.Context) *report.Outcome {
	startedAt := time.Now()

	j.log.Info("Applying image update", "target", j.target.String(), "image", j.image)
	mu, muErr := j.updater.Apply(ctx, j.target, j.image)

	rs := rollout.StatusPending
	var rolloutErr error
	if muErr == nil {
		j.log.Info("Verifying rollout", "target", j.target.String(), "maxWait", j.maxWait.String())
		rs, rolloutErr = j.monitor.Await(ctx, j.target, j.maxWait)
	}

	var notes []string
	if muErr == nil && j.healthURL != "" && (rs == rollout.StatusSucceeded || rs == rollout.StatusTimedOut) {
		notes = append(notes, j.probeHealth(ctx))
	}

	outcome := j.reporter.Finalize(mu, muErr, rs, rolloutErr, startedAt, notes...)

	j.publish(outcome)
	j.record(outcome)

	return outcome
}

func (j *Job) Cleanup(forced bool) {
	if forced {
		j.log.Info("Caught kill signal, cleaning up")
	}

	for _, fn := range j.cleanupSteps {
		fn()
	}
}

// probeHealth curls the configured URL from inside the updated container.
// The reading lands in the outcome's diagnostics; it does not change the
// terminal status, which is decided by the mutation and the rollout alone.
func (j *Job) probeHealth(ctx context.Context) string {
	j.log.Info("Probing service health", "url", j.healthURL)

	res, err := j.relay.Execute(ctx, kubectl.ExecProbe(j.target, j.healthURL), j.commandTimeout)
	if err != nil {
		j.log.Info("Health probe failed", "url", j.healthURL, "error", err.Error())
		return fmt.Sprintf("health probe %s failed: %v", j.healthURL, err)
	}

	if body := strings.TrimSpace(res.Stdout); body != "" {
		return fmt.Sprintf("health probe %s answered: %s", j.healthURL, body)
	}
	return fmt.Sprintf("health probe %s answered", j.healthURL)
}

// publish forwards the outcome to the message broker. Delivery problems
// are logged rather than surfaced: the deployment already happened and its
// status must not be rewritten by a reporting sink.
func (j *Job) publish(outcome *report.Outcome) {
	if j.producer == nil {
		return
	}

	if err := j.producer.Publish(outcome); err != nil {
		j.log.Error(err, "Unable to publish deployment outcome")
	}
}

// record appends the outcome to the local journal, best effort.
func (j *Job) record(outcome *report.Outcome) {
	if j.journal == nil {
		return
	}

	if err := j.journal.Record(outcome); err != nil {
		j.log.Error(err, "Unable to record deployment outcome")
	}
}
