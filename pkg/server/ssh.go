package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// startSSHServer starts the SSH server on the configured port
func (s *Server) startSSHServer() error {
	if s.config.SSHPort <= 0 {
		debugLog.Printf("SSH server disabled (ssh_port=%d)", s.config.SSHPort)
		return nil
	}

	config, err := s.sshServerConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.SSHPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.sshListener = listener

	log.Printf("SSH server listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptSSHLoop(listener, config)

	return nil
}

// sshServerConfig builds the anonymous SSH server configuration
func (s *Server) sshServerConfig() (*ssh.ServerConfig, error) {
	hostKey, err := s.loadOrGenerateHostKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load host key: %w", err)
	}

	config := &ssh.ServerConfig{
		// Anyone may connect; the chat handshake does the naming
		NoClientAuth: true,
	}
	config.ServerVersion = "SSH-2.0-linechat"
	config.AddHostKey(hostKey)
	return config, nil
}

// acceptSSHLoop accepts incoming SSH connections
func (s *Server) acceptSSHLoop(listener net.Listener, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("SSH accept error: %v", err)
			continue
		}

		s.conns.Add(1)
		go s.handleSSHConnection(conn, config)
	}
}

// handleSSHConnection handles a single SSH connection. Every "session"
// channel on it becomes one chat connection.
func (s *Server) handleSSHConnection(conn net.Conn, config *ssh.ServerConfig) {
	defer s.conns.Done()
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		debugLog.Printf("SSH handshake failed: %v", err)
		return
	}
	defer sshConn.Close()

	// The channel loop below only ends when the transport does
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.shutdown:
			sshConn.Close()
		case <-done:
		}
	}()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			debugLog.Printf("Could not accept channel: %v", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			go handleSSHChannelRequests(requests)
			s.sessions.Serve("ssh", &sshChannelConn{channel: channel, remote: sshConn.RemoteAddr(), local: sshConn.LocalAddr()})
		}()
	}
}

func handleSSHChannelRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// sshChannelConn wraps ssh.Channel to implement net.Conn interface
type sshChannelConn struct {
	channel ssh.Channel
	remote  net.Addr
	local   net.Addr
}

func (c *sshChannelConn) Read(b []byte) (int, error) {
	return c.channel.Read(b)
}

func (c *sshChannelConn) Write(b []byte) (int, error) {
	return c.channel.Write(b)
}

func (c *sshChannelConn) Close() error {
	return c.channel.Close()
}

func (c *sshChannelConn) LocalAddr() net.Addr {
	return c.local
}

func (c *sshChannelConn) RemoteAddr() net.Addr {
	return c.remote
}

// SSH channels have no deadlines
func (c *sshChannelConn) SetDeadline(t time.Time) error      { return nil }
func (c *sshChannelConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *sshChannelConn) SetWriteDeadline(t time.Time) error { return nil }

// loadOrGenerateHostKey loads the SSH host key or generates one if it doesn't exist
func (s *Server) loadOrGenerateHostKey() (ssh.Signer, error) {
	if strings.TrimSpace(s.config.SSHHostKeyPath) == "" {
		configTarget := "server config file"
		if strings.TrimSpace(s.configPath) != "" {
			configTarget = s.configPath
		}
		return nil, fmt.Errorf("ssh host key path is empty; update [server].ssh_host_key in %s or remove it to use the default (%s)", configTarget, DefaultConfig().SSHHostKeyPath)
	}

	keyPath, err := expandHome(s.config.SSHHostKeyPath)
	if err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key: %w", err)
		}
		log.Printf("Loaded SSH host key from %s", keyPath)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	log.Printf("Generating new SSH host key at %s...", keyPath)

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(privateKey, "linechat host key")
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(block)

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write key: %w", err)
	}

	key, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated key: %w", err)
	}

	log.Printf("Generated and saved new SSH host key")
	return key, nil
}
