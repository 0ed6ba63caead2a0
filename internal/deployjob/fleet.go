package deployjob

import (
	"context"
	"io"
	"io/ioutil"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/dominodatalab/stevedore/internal/relay"
	"github.com/dominodatalab/stevedore/internal/report"
)

// FleetDefaults fill in whatever a fleet target leaves unspecified.
type FleetDefaults struct {
	Kind           string          `json:"kind,omitempty"`
	Namespace      string          `json:"namespace,omitempty"`
	RelayPathFile  string          `json:"relayPathFile,omitempty"`
	MaxWait        metav1.Duration `json:"maxWait,omitempty"`
	PollInterval   metav1.Duration `json:"pollInterval,omitempty"`
	CommandTimeout metav1.Duration `json:"commandTimeout,omitempty"`
}

// FleetTarget is one workload in a fleet manifest.
type FleetTarget struct {
	Service   string `json:"service"`
	Image     string `json:"image"`
	Kind      string `json:"kind,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Container string `json:"container,omitempty"`
	HealthURL string `json:"healthURL,omitempty"`

	// RelayPathFile points at a relay path document for targets reached
	// through a different bastion chain than the rest of the fleet.
	RelayPathFile string `json:"relayPathFile,omitempty"`

	MaxWait        *metav1.Duration `json:"maxWait,omitempty"`
	PollInterval   *metav1.Duration `json:"pollInterval,omitempty"`
	CommandTimeout *metav1.Duration `json:"commandTimeout,omitempty"`
}

// FleetManifest describes a coordinated deployment across many workloads.
type FleetManifest struct {
	Defaults FleetDefaults `json:"defaults,omitempty"`
	Targets  []FleetTarget `json:"targets"`
}

// LoadFleet reads and validates a fleet manifest.
func LoadFleet(filename string) (*FleetManifest, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading fleet manifest")
	}

	manifest := &FleetManifest{}
	if err := yaml.UnmarshalStrict(data, manifest); err != nil {
		return nil, errors.Wrapf(err, "parsing fleet manifest %s", filename)
	}

	if len(manifest.Targets) == 0 {
		return nil, errors.Errorf("fleet manifest %s defines no targets", filename)
	}
	for i, target := range manifest.Targets {
		if target.Service == "" {
			return nil, errors.Errorf("fleet target %d is missing a service name", i)
		}
		if target.Image == "" {
			return nil, errors.Errorf("fleet target %d (%s) is missing an image", i, target.Service)
		}
	}

	return manifest, nil
}

// Configs expands the manifest into one job config per target, layering
// target values over manifest defaults over the base config from the
// command line.
func (m *FleetManifest) Configs(base Config) ([]Config, error) {
	var configs []Config
	for i, target := range m.Targets {
		cfg := base
		cfg.Service = target.Service
		cfg.Image = target.Image

		if v := firstNonEmpty(target.Kind, m.Defaults.Kind); v != "" {
			cfg.Kind = v
		}
		if v := firstNonEmpty(target.Namespace, m.Defaults.Namespace); v != "" {
			cfg.Namespace = v
		}
		if target.Container != "" {
			cfg.Container = target.Container
		}
		if target.HealthURL != "" {
			cfg.HealthURL = target.HealthURL
		}

		if d := pickDuration(target.MaxWait, m.Defaults.MaxWait); d > 0 {
			cfg.MaxWait = d
		}
		if d := pickDuration(target.PollInterval, m.Defaults.PollInterval); d > 0 {
			cfg.PollInterval = d
		}
		if d := pickDuration(target.CommandTimeout, m.Defaults.CommandTimeout); d > 0 {
			cfg.CommandTimeout = d
		}

		if file := firstNonEmpty(target.RelayPathFile, m.Defaults.RelayPathFile); file != "" {
			path, err := relay.LoadPath(file)
			if err != nil {
				return nil, errors.Wrapf(err, "fleet target %d (%s)", i, target.Service)
			}
			cfg.RelayPath = path
		}

		configs = append(configs, cfg)
	}
	return configs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickDuration(override *metav1.Duration, fallback metav1.Duration) time.Duration {
	if override != nil {
		return override.Duration
	}
	return fallback.Duration
}

// RunFleet deploys every job, at most concurrency at a time, and folds the
// per-target exit codes into one process code. Summaries are written in
// manifest order once all targets settle. A single failed target does not
// stop the others; only cancellation does.
func RunFleet(ctx context.Context, jobs []*Job, concurrency int64, out io.Writer, log logr.Logger) int {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	var (
		g        errgroup.Group
		outcomes = make([]*report.Outcome, len(jobs))
		codes    = make([]int, len(jobs))
	)

	for i := range jobs {
		i := i
		job := jobs[i]
		g.Go(func() error {
			defer job.Cleanup(false)

			if err := sem.Acquire(ctx, 1); err != nil {
				codes[i] = report.ExitFailed
				return errors.Wrapf(err, "deployment of %s never started", job.target.Slug())
			}
			defer sem.Release(1)

			outcome := job.Run(ctx)
			outcomes[i] = outcome
			codes[i] = outcome.ExitCode
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Info("Fleet deployment interrupted", "error", err.Error())
	}

	for _, outcome := range outcomes {
		if outcome != nil {
			outcome.WriteSummary(out)
		}
	}
	return report.CombineExitCodes(codes)
}
