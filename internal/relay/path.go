package relay

import (
	"fmt"
	"io/ioutil"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultPort is used for any hop that does not specify one.
	DefaultPort = 22

	// DefaultConnectTimeout bounds the TCP dial and SSH handshake for any
	// hop that does not specify its own timeout.
	DefaultConnectTimeout = 10 * time.Second
)

// Hop is a single host on the way to the target. Every hop except the last
// only forwards the connection; the last hop is where commands run.
type Hop struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	User string `json:"user"`

	// IdentityFile points at the private key used to authenticate this hop.
	// Key material is read fresh on every execution and never appears in
	// the command line sent to the remote side.
	IdentityFile string `json:"identityFile"`

	ConnectTimeoutSeconds int64 `json:"connectTimeoutSeconds,omitempty"`
}

// Address returns the host:port dial address for the hop.
func (h Hop) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// ConnectTimeout returns the per-hop connect timeout, falling back to
// DefaultConnectTimeout when the path does not set one.
func (h Hop) ConnectTimeout() time.Duration {
	if h.ConnectTimeoutSeconds <= 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(h.ConnectTimeoutSeconds) * time.Second
}

func (h Hop) validate(idx int) error {
	if h.Host == "" {
		return errors.Errorf("hop %d: host is required", idx)
	}
	if h.User == "" {
		return errors.Errorf("hop %d (%s): user is required", idx, h.Host)
	}
	if h.IdentityFile == "" {
		return errors.Errorf("hop %d (%s): identityFile is required", idx, h.Host)
	}
	return nil
}

// Path is an ordered chain of hops ending at the host where remote commands
// execute. A path with a single hop is a direct connection.
type Path struct {
	Hops []Hop `json:"hops"`

	// KnownHostsFile overrides the default ~/.ssh/known_hosts used to
	// verify every hop's host key.
	KnownHostsFile string `json:"knownHostsFile,omitempty"`

	// InsecureSkipHostVerify disables host key verification for all hops.
	// Meant for lab environments only.
	InsecureSkipHostVerify bool `json:"insecureSkipHostVerify,omitempty"`
}

// Target returns the final hop, where commands execute.
func (p Path) Target() Hop {
	return p.Hops[len(p.Hops)-1]
}

// Bastions returns every hop before the target, in dial order.
func (p Path) Bastions() []Hop {
	return p.Hops[:len(p.Hops)-1]
}

// Validate checks that the path can be dialed: at least one hop, and every
// hop fully specified.
func (p Path) Validate() error {
	if len(p.Hops) == 0 {
		return errors.New("relay path requires at least one hop")
	}
	for i, h := range p.Hops {
		if err := h.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (p Path) String() string {
	s := ""
	for i, h := range p.Hops {
		if i > 0 {
			s += " -> "
		}
		s += fmt.Sprintf("%s@%s", h.User, h.Address())
	}
	return s
}

// LoadPath reads and validates a relay path document from a YAML or JSON
// file.
func LoadPath(filename string) (Path, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return Path{}, errors.Wrap(err, "reading relay path")
	}

	var p Path
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return Path{}, errors.Wrapf(err, "parsing relay path %q", filename)
	}
	if err := p.Validate(); err != nil {
		return Path{}, errors.Wrapf(err, "invalid relay path %q", filename)
	}
	return p, nil
}
