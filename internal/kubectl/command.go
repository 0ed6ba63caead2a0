package kubectl

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/dominodatalab/stevedore/internal/relay"
)

// Kind is a workload resource kind the orchestrator knows how to update.
type Kind string

const (
	KindDeployment  Kind = "deployment"
	KindStatefulSet Kind = "statefulset"
)

// SupportedKinds enumerates every kind accepted on the command line.
var SupportedKinds = []Kind{KindDeployment, KindStatefulSet}

// ParseKind normalizes a user-supplied kind, accepting the common kubectl
// short names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "deployment", "deploy", "deployments":
		return KindDeployment, nil
	case "statefulset", "sts", "statefulsets":
		return KindStatefulSet, nil
	default:
		return "", errors.Errorf("resource kind %q is invalid (supported kinds: %v)", s, SupportedKinds)
	}
}

// Target identifies one container of one workload resource on the remote
// cluster.
type Target struct {
	Kind      Kind
	Name      string
	Namespace string

	// Container is the container to update. When empty the container is
	// assumed to share the workload's name.
	Container string
}

// ContainerName resolves the effective container name.
func (t Target) ContainerName() string {
	if t.Container != "" {
		return t.Container
	}
	return t.Name
}

// Slug renders the kind/name form used by kubectl subcommands.
func (t Target) Slug() string {
	return string(t.Kind) + "/" + t.Name
}

func (t Target) String() string {
	return t.Slug() + " -n " + t.Namespace
}

// Validate checks the fields that every remote command needs.
func (t Target) Validate() error {
	if t.Kind != KindDeployment && t.Kind != KindStatefulSet {
		return errors.Errorf("resource kind %q is invalid (supported kinds: %v)", t.Kind, SupportedKinds)
	}
	if t.Name == "" {
		return errors.New("resource name is required")
	}
	if t.Namespace == "" {
		return errors.New("namespace is required")
	}
	return nil
}

// Get builds the read-only query used for discovery and for rollout
// polling. The JSON output is parsed locally instead of scraping kubectl's
// human-readable status text.
func Get(t Target) relay.Command {
	return relay.NewCommand("kubectl", "get", string(t.Kind), t.Name, "-n", t.Namespace, "-o", "json")
}

// SetImage builds the primary image mutation.
func SetImage(t Target, image string) relay.Command {
	return relay.NewCommand("kubectl", "set", "image", t.Slug(), t.ContainerName()+"="+image, "-n", t.Namespace)
}

// PatchImage builds the fallback mutation: a strategic merge patch that
// rewrites only the target container's image. The payload is built from
// local types because serializing the appsv1 structs would emit null for
// their required fields and the patch would apply those nulls.
func PatchImage(t Target, image string) (relay.Command, error) {
	patch := imagePatch{}
	patch.Spec.Template.Spec.Containers = []containerPatch{{Name: t.ContainerName(), Image: image}}

	payload, err := json.Marshal(patch)
	if err != nil {
		return relay.Command{}, errors.Wrap(err, "encoding image patch")
	}

	return relay.NewCommand("kubectl", "patch", string(t.Kind), t.Name, "-n", t.Namespace,
		"--type", "strategic", "-p", string(payload)), nil
}

// RolloutRestart builds the pod recycle nudge issued after a mutation.
func RolloutRestart(t Target) relay.Command {
	return relay.NewCommand("kubectl", "rollout", "restart", t.Slug(), "-n", t.Namespace)
}

// ExecProbe builds an in-pod health check, curling url from inside the
// workload's container.
func ExecProbe(t Target, url string) relay.Command {
	return relay.NewCommand("kubectl", "exec", t.Slug(), "-c", t.ContainerName(), "-n", t.Namespace,
		"--", "curl", "-fsS", "--max-time", "10", url)
}

type containerPatch struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type imagePatch struct {
	Spec struct {
		Template struct {
			Spec struct {
				Containers []containerPatch `json:"containers"`
			} `json:"spec"`
		} `json:"template"`
	} `json:"spec"`
}
