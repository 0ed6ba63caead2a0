package deployjob

import (
	"time"

	"github.com/dominodatalab/stevedore/internal/message"
	"github.com/dominodatalab/stevedore/internal/relay"
)

// Config carries everything one deployment needs: the workload to update,
// the image to ship, the relay path that reaches the cluster, and the
// reporting sinks.
type Config struct {
	Service   string
	Image     string
	Kind      string
	Namespace string
	Container string

	RelayPath relay.Path

	MaxWait        time.Duration
	PollInterval   time.Duration
	CommandTimeout time.Duration

	// HealthURL, when set, is curled from inside the updated container
	// after rollout verification and noted in the outcome.
	HealthURL string

	BrokerOpts  *message.Options
	JournalPath string

	Debug bool
}
