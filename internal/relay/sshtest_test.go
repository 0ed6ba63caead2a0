package relay

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testKey is a freshly generated RSA key pair with the private half written
// to disk the way a CI runner would hold an identity file.
type testKey struct {
	signer ssh.Signer
	file   string
}

func newTestKey(t *testing.T) testKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	file := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, ioutil.WriteFile(file, pemBytes, 0600))

	return testKey{signer: signer, file: file}
}

// execHandler scripts the remote side of an exec request.
type execHandler func(cmd string, ch ssh.Channel)

func exitWith(code int, stdout, stderr string) execHandler {
	return func(cmd string, ch ssh.Channel) {
		if stdout != "" {
			ch.Write([]byte(stdout))
		}
		if stderr != "" {
			ch.Stderr().Write([]byte(stderr))
		}
		sendExitStatus(ch, code)
	}
}

func sendExitStatus(ch ssh.Channel, code int) {
	status := struct{ Status uint32 }{uint32(code)}
	ch.SendRequest("exit-status", false, ssh.Marshal(&status))
	ch.Close()
}

// testServer is a minimal SSH daemon for exercising the relay: it accepts
// public key auth, executes scripted commands, and forwards direct-tcpip
// channels so it can stand in as a bastion.
type testServer struct {
	t          *testing.T
	listener   net.Listener
	config     *ssh.ServerConfig
	hostSigner ssh.Signer
	handler    execHandler

	mu    sync.Mutex
	conns int
	execs []string
}

func newTestServer(t *testing.T, authorized ssh.PublicKey, handler execHandler) *testServer {
	t.Helper()

	hostKey := newTestKey(t)
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", meta.User())
		},
	}
	config.AddHostKey(hostKey.signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{t: t, listener: listener, config: config, hostSigner: hostKey.signer, handler: handler}
	go s.serve()
	t.Cleanup(func() { listener.Close() })

	return s
}

func (s *testServer) addr() string { return s.listener.Addr().String() }

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testServer) hostPublicKey() ssh.PublicKey {
	return s.hostSigner.PublicKey()
}

func (s *testServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *testServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(nConn net.Conn) {
	s.mu.Lock()
	s.conns++
	s.mu.Unlock()

	conn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		nConn.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		switch newCh.ChannelType() {
		case "session":
			go s.handleSession(newCh)
		case "direct-tcpip":
			go s.handleTunnel(newCh)
		default:
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *testServer) handleSession(newCh ssh.NewChannel) {
	ch, requests, err := newCh.Accept()
	if err != nil {
		return
	}

	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		s.mu.Lock()
		s.execs = append(s.execs, payload.Command)
		s.mu.Unlock()

		go ssh.DiscardRequests(requests)
		if s.handler != nil {
			s.handler(payload.Command, ch)
		} else {
			sendExitStatus(ch, 0)
		}
		return
	}
}

func (s *testServer) handleTunnel(newCh ssh.NewChannel) {
	var msg struct {
		DestAddr   string
		DestPort   uint32
		OriginAddr string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newCh.ExtraData(), &msg); err != nil {
		newCh.Reject(ssh.ConnectionFailed, "malformed open request")
		return
	}

	dst, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort))))
	if err != nil {
		newCh.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	ch, requests, err := newCh.Accept()
	if err != nil {
		dst.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	go func() {
		io.Copy(dst, ch)
		dst.Close()
	}()
	go func() {
		io.Copy(ch, dst)
		ch.Close()
	}()
}
