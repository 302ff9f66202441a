package server

import (
	"bufio"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServerWithSSH starts only the SSH listener on a random port.
// SSHPort=0 disables SSH in Start, so the listener is set up by hand.
func testServerWithSSH(t *testing.T) (*Server, *recordingSink, string) {
	t.Helper()
	initTestLoggers(t)

	cfg := DefaultConfig()
	cfg.SSHHostKeyPath = filepath.Join(t.TempDir(), "ssh_host_key")

	sink := &recordingSink{}
	srv := NewServer(cfg, sink, "")

	sshConfig, err := srv.sshServerConfig()
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.sshListener = listener

	srv.wg.Add(1)
	go srv.acceptSSHLoop(listener, sshConfig)

	t.Cleanup(func() { srv.Stop() })
	return srv, sink, listener.Addr().String()
}

type sshTestClient struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  *bufio.Reader
}

func dialSSH(t *testing.T, addr string) *sshTestClient {
	t.Helper()

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "anyone",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         testTimeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	session, err := client.NewSession()
	require.NoError(t, err)

	stdin, err := session.StdinPipe()
	require.NoError(t, err)
	stdout, err := session.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, session.Shell())

	return &sshTestClient{client: client, session: session, stdin: stdin, stdout: bufio.NewReader(stdout)}
}

func (c *sshTestClient) expect(t *testing.T, want string) {
	t.Helper()

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := c.stdout.ReadString('\n')
		done <- result{strings.TrimSuffix(line, "\n"), err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, want, r.line)
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestSSHSession(t *testing.T) {
	srv, sink, addr := testServerWithSSH(t)

	c := dialSSH(t, addr)
	c.expect(t, protocol.NickPrompt)

	_, err := io.WriteString(c.stdin, "alice\n")
	require.NoError(t, err)

	c.expect(t, protocol.FormatJoined("alice"))
	c.expect(t, protocol.FormatConnectedAs("alice"))
	c.expect(t, protocol.FormatList([]string{"alice"}))

	assert.Equal(t, []string{"alice"}, srv.Sessions().Names())
	assert.Equal(t, 1, sink.Count("Connected: alice"))

	require.NoError(t, srv.Stop())
	c.expect(t, protocol.ShutdownNotice)
}

func TestSSHHostKeyPersists(t *testing.T) {
	initTestLoggers(t)

	cfg := DefaultConfig()
	cfg.SSHHostKeyPath = filepath.Join(t.TempDir(), "keys", "host")
	srv := NewServer(cfg, nil, "")

	generated, err := srv.loadOrGenerateHostKey()
	require.NoError(t, err)
	loaded, err := srv.loadOrGenerateHostKey()
	require.NoError(t, err)

	assert.Equal(t, ssh.FingerprintSHA256(generated.PublicKey()), ssh.FingerprintSHA256(loaded.PublicKey()))
	assert.Equal(t, ssh.KeyAlgoED25519, generated.PublicKey().Type())
}

func TestSSHHostKeyEmptyPath(t *testing.T) {
	initTestLoggers(t)

	cfg := DefaultConfig()
	cfg.SSHHostKeyPath = "  "
	srv := NewServer(cfg, nil, "/etc/linechat.toml")

	_, err := srv.loadOrGenerateHostKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/etc/linechat.toml")
}
