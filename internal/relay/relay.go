package relay

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Result captures everything the remote command made observable.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a single command in the shell context of a path's final
// hop. Implementations must treat every call as independent: no retries, no
// reuse of connections between calls.
type Executor interface {
	Execute(ctx context.Context, cmd Command, timeout time.Duration) (Result, error)
}

// Relay executes commands across a chain of SSH hops. Each Execute call
// dials the full chain, runs exactly one command on the final hop, and
// tears the chain down again. Nothing is cached between calls, so a relay
// is safe for concurrent use.
type Relay struct {
	path Path
	log  logr.Logger

	// Echo receives a copy of the remote command's combined output as it
	// arrives. Used to mirror remote output into debug logs.
	Echo io.Writer
}

// New validates the path and returns a relay for it.
func New(path Path, log logr.Logger) (*Relay, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return &Relay{path: path, log: log}, nil
}

// Execute dials the relay path, runs cmd on the final hop, and returns its
// output. A non-zero remote exit is reported as *ExitError alongside the
// captured result. If timeout is positive the command is killed once it
// elapses and *TimeoutError is returned.
func (r *Relay) Execute(ctx context.Context, cmd Command, timeout time.Duration) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, errors.New("relay: empty command")
	}

	chain, err := r.dialChain(ctx)
	if err != nil {
		return Result{}, err
	}
	defer chain.close()

	return r.run(ctx, chain.target(), cmd, timeout)
}

// chain holds the clients for every dialed hop, in dial order.
type chain struct {
	clients []*ssh.Client
}

func (c *chain) target() *ssh.Client {
	return c.clients[len(c.clients)-1]
}

// close tears the chain down innermost-first so each tunnel drains before
// its carrier drops.
func (c *chain) close() {
	for i := len(c.clients) - 1; i >= 0; i-- {
		c.clients[i].Close()
	}
}

func (r *Relay) dialChain(ctx context.Context) (*chain, error) {
	hostKeys, err := r.hostKeyCallback()
	if err != nil {
		return nil, &AuthError{Hop: r.path.Hops[0].Address(), Err: err}
	}

	ch := &chain{}
	for i, hop := range r.path.Hops {
		cfg, err := clientConfig(hop, hostKeys)
		if err != nil {
			ch.close()
			return nil, err
		}

		var client *ssh.Client
		if i == 0 {
			client, err = dialDirect(ctx, hop, cfg)
		} else {
			client, err = dialThrough(ctx, ch.target(), hop, cfg)
		}
		if err != nil {
			ch.close()
			return nil, err
		}

		r.log.V(1).Info("Relay hop established", "hop", hop.Address(), "position", i)
		ch.clients = append(ch.clients, client)
	}
	return ch, nil
}

// dialDirect opens the first hop over plain TCP.
func dialDirect(ctx context.Context, hop Hop, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: hop.ConnectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", hop.Address())
	if err != nil {
		return nil, &ConnectError{Hop: hop.Address(), Err: err}
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, hop.Address(), cfg)
	if err != nil {
		conn.Close()
		return nil, classifyHandshake(hop, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// dialThrough opens the next hop as a TCP tunnel through the previous one.
func dialThrough(ctx context.Context, prev *ssh.Client, hop Hop, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := tunnel(ctx, prev, hop)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, hop.Address(), cfg)
	if err != nil {
		conn.Close()
		return nil, classifyHandshake(hop, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

type dialed struct {
	conn net.Conn
	err  error
}

// tunnel dials hop through prev, bounding the wait because ssh.Client.Dial
// has no timeout of its own.
func tunnel(ctx context.Context, prev *ssh.Client, hop Hop) (net.Conn, error) {
	ch := make(chan dialed, 1)
	go func() {
		conn, err := prev.Dial("tcp", hop.Address())
		ch <- dialed{conn, err}
	}()

	timer := time.NewTimer(hop.ConnectTimeout())
	defer timer.Stop()

	select {
	case d := <-ch:
		if d.err != nil {
			return nil, &ConnectError{Hop: hop.Address(), Err: d.err}
		}
		return d.conn, nil
	case <-timer.C:
		go drainDial(ch)
		return nil, &ConnectError{Hop: hop.Address(), Err: errors.Errorf("tunnel dial timed out after %s", hop.ConnectTimeout())}
	case <-ctx.Done():
		go drainDial(ch)
		return nil, &ConnectError{Hop: hop.Address(), Err: ctx.Err()}
	}
}

func drainDial(ch chan dialed) {
	if d := <-ch; d.conn != nil {
		d.conn.Close()
	}
}

// run executes cmd in a session on the target client. Output is buffered in
// full; these are CLI invocations, not log streams.
func (r *Relay) run(ctx context.Context, client *ssh.Client, cmd Command, timeout time.Duration) (Result, error) {
	target := r.path.Target().Address()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &ConnectError{Hop: target, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	if r.Echo != nil {
		session.Stdout = io.MultiWriter(&stdout, r.Echo)
		session.Stderr = io.MultiWriter(&stderr, r.Echo)
	} else {
		session.Stdout = &stdout
		session.Stderr = &stderr
	}

	line := cmd.String()
	r.log.V(1).Info("Executing remote command", "target", target, "command", line)

	if err := session.Start(line); err != nil {
		return Result{}, &ConnectError{Hop: target, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-done:
		result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, &ExitError{Command: line, Code: result.ExitCode, Stderr: result.Stderr}
		}
		// The session died without delivering an exit status.
		return result, &ConnectError{Hop: target, Err: err}
	case <-expired:
		abandonSession(session, done)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()},
			&TimeoutError{Command: line, Timeout: timeout}
	case <-ctx.Done():
		abandonSession(session, done)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()},
			errors.Wrapf(ctx.Err(), "relay: command aborted: %s", line)
	}
}

// abandonSession kills the remote process and waits for the session to
// unwind so the output buffers are quiescent before callers read them.
func abandonSession(session *ssh.Session, done chan error) {
	session.Signal(ssh.SIGKILL)
	session.Close()
	<-done
}

func clientConfig(hop Hop, hostKeys ssh.HostKeyCallback) (*ssh.ClientConfig, error) {
	key, err := ioutil.ReadFile(hop.IdentityFile)
	if err != nil {
		return nil, &AuthError{Hop: hop.Address(), Err: errors.Wrap(err, "reading identity file")}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &AuthError{Hop: hop.Address(), Err: errors.Wrap(err, "parsing identity file")}
	}

	return &ssh.ClientConfig{
		User:            hop.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         hop.ConnectTimeout(),
	}, nil
}

func (r *Relay) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if r.path.InsecureSkipHostVerify {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := r.path.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "known hosts file not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// classifyHandshake sorts handshake failures into auth and connect errors.
// x/crypto/ssh flattens every handshake failure into an opaque string, so
// the message text is the only discriminator available.
func classifyHandshake(hop Hop, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "knownhosts:"),
		strings.Contains(msg, "host key"):
		return &AuthError{Hop: hop.Address(), Err: err}
	default:
		return &ConnectError{Hop: hop.Address(), Err: err}
	}
}
