package checks

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"atlas-system/internal/storage"
)

// execHandler writes the command's output and returns its exit status.
type execHandler func(cmd string, stdout, stderr io.Writer) uint32

// sshServer is an in-process SSH server answering exec requests.
type sshServer struct {
	addr   string
	closed chan struct{}
}

type sshServerOptions struct {
	password   string
	authorized ssh.PublicKey
	handle     execHandler
}

func newSSHServer(t *testing.T, opts sshServerOptions) *sshServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("Failed to create host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if opts.password != "" && meta.User() == "atlas" && string(password) == opts.password {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if opts.authorized != nil && bytes.Equal(key.Marshal(), opts.authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("key rejected")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		_ = ln.Close()
	})

	srv := &sshServer{addr: ln.Addr().String(), closed: make(chan struct{}, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg, opts.handle, release)
		}
	}()
	return srv
}

func (s *sshServer) serve(conn net.Conn, cfg *ssh.ServerConfig, handle execHandler, release <-chan struct{}) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	go func() {
		for newChannel := range chans {
			if newChannel.ChannelType() != "session" {
				_ = newChannel.Reject(ssh.UnknownChannelType, "session only")
				continue
			}
			ch, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			go func() {
				for req := range requests {
					if req.Type != "exec" {
						_ = req.Reply(false, nil)
						continue
					}
					var payload struct{ Command string }
					if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
						_ = req.Reply(false, nil)
						continue
					}
					_ = req.Reply(true, nil)

					if payload.Command == "hang" {
						<-release
						return
					}
					status := handle(payload.Command, ch, ch.Stderr())
					_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
					_ = ch.Close()
					return
				}
			}()
		}
	}()

	_ = sconn.Wait()
	s.closed <- struct{}{}
}

// waitClosed fails unless the client closes one connection in time.
func (s *sshServer) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Error("Expected the client to close the connection")
	}
}

func (s *sshServer) monitor(t *testing.T) *storage.Monitor {
	t.Helper()
	host, port, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("Failed to split address: %v", err)
	}
	p, _ := strconv.Atoi(port)
	return &storage.Monitor{ID: 1, Title: "web01", Type: storage.MonitorTypeUbuntu, Host: host, Port: p, Username: "atlas"}
}

func echoHandler(cmd string, stdout, stderr io.Writer) uint32 {
	switch cmd {
	case "hostname":
		_, _ = io.WriteString(stdout, "web01\n")
		return 0
	case "df /missing":
		_, _ = io.WriteString(stdout, "partial\n")
		_, _ = io.WriteString(stderr, "df: /missing: No such file or directory\n")
		return 2
	}
	_, _ = io.WriteString(stderr, "unknown command\n")
	return 127
}

func testRunner() *sshRunner {
	return &sshRunner{BaseChecker: NewBaseChecker(plainSecrets{}), timeout: 2 * time.Second}
}

func TestSSHRun(t *testing.T) {
	srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: echoHandler})
	m := srv.monitor(t)
	m.Password = "s3cret"
	ctx := context.Background()

	client, err := testRunner().dial(ctx, m)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	t.Run("Successful command returns stdout", func(t *testing.T) {
		out, err := client.run(ctx, "hostname", "hostname")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if out != "web01\n" {
			t.Errorf("Expected 'web01\\n', got %q", out)
		}
	})

	t.Run("Non-zero exit carries the output", func(t *testing.T) {
		_, err := client.run(ctx, "df", "df /missing")
		var failure *Failure
		if !errors.As(err, &failure) {
			t.Fatalf("Expected a Failure, got %v", err)
		}
		if failure.Code != CodeExit || failure.Op != "df" {
			t.Errorf("Expected exit failure of df, got %s/%s", failure.Op, failure.Code)
		}
		if !strings.Contains(failure.Output, "No such file or directory") || !strings.Contains(failure.Output, "partial") {
			t.Errorf("Expected stdout and stderr in the output, got %q", failure.Output)
		}
		if failure.Err == nil || failure.Err.Error() != "exit status 2" {
			t.Errorf("Expected 'exit status 2', got %v", failure.Err)
		}
	})

	t.Run("Connection stays usable after a failed command", func(t *testing.T) {
		if _, err := client.run(ctx, "hostname", "hostname"); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestSSHRunTimeout(t *testing.T) {
	srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: echoHandler})
	m := srv.monitor(t)
	m.Password = "s3cret"

	client, err := testRunner().dial(context.Background(), m)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = client.run(ctx, "collector", "hang")
	var failure *Failure
	if !errors.As(err, &failure) || failure.Code != CodeTimeout {
		t.Fatalf("Expected timeout failure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected the run to be abandoned quickly, took %v", elapsed)
	}
	srv.waitClosed(t)
}

func TestSSHDial(t *testing.T) {
	ctx := context.Background()

	t.Run("Wrong password is an auth failure", func(t *testing.T) {
		srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: echoHandler})
		m := srv.monitor(t)
		m.Password = "guess"

		_, err := testRunner().dial(ctx, m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeAuth {
			t.Errorf("Expected auth failure, got %v", err)
		}
	})

	t.Run("Private key authenticates", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		sshPub, err := ssh.NewPublicKey(pub)
		if err != nil {
			t.Fatalf("Failed to convert key: %v", err)
		}
		block, err := ssh.MarshalPrivateKey(priv, "")
		if err != nil {
			t.Fatalf("Failed to marshal key: %v", err)
		}

		srv := newSSHServer(t, sshServerOptions{authorized: sshPub, handle: echoHandler})
		m := srv.monitor(t)
		m.PrivateKey = string(pem.EncodeToMemory(block))

		client, err := testRunner().dial(ctx, m)
		if err != nil {
			t.Fatalf("Expected key auth to succeed, got %v", err)
		}
		defer client.Close()
		if out, err := client.run(ctx, "hostname", "hostname"); err != nil || out != "web01\n" {
			t.Errorf("Expected web01, got %q (%v)", out, err)
		}
	})

	t.Run("Protected private key uses the password as passphrase", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		sshPub, _ := ssh.NewPublicKey(pub)
		block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("unlock"))
		if err != nil {
			t.Fatalf("Failed to marshal key: %v", err)
		}

		srv := newSSHServer(t, sshServerOptions{authorized: sshPub, handle: echoHandler})
		m := srv.monitor(t)
		m.PrivateKey = string(pem.EncodeToMemory(block))
		m.Password = "unlock"

		client, err := testRunner().dial(ctx, m)
		if err != nil {
			t.Fatalf("Expected key auth to succeed, got %v", err)
		}
		client.Close()
	})

	t.Run("Unparseable private key", func(t *testing.T) {
		srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: echoHandler})
		m := srv.monitor(t)
		m.PrivateKey = "not a key"

		_, err := testRunner().dial(ctx, m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeSecret {
			t.Errorf("Expected secret failure, got %v", err)
		}
		if strings.Contains(err.Error(), "not a key") {
			t.Errorf("Expected the key to stay out of the error, got %q", err.Error())
		}
	})

	t.Run("Undecryptable password", func(t *testing.T) {
		srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: echoHandler})
		m := srv.monitor(t)
		m.Password = "enc:broken"

		r := &sshRunner{BaseChecker: NewBaseChecker(brokenSecrets{}), timeout: time.Second}
		_, err := r.dial(ctx, m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeSecret {
			t.Errorf("Expected secret failure, got %v", err)
		}
	})

	t.Run("Closed port is refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}
		addr := ln.Addr().(*net.TCPAddr)
		_ = ln.Close()

		m := &storage.Monitor{Host: "127.0.0.1", Port: addr.Port, Username: "atlas", Password: "s3cret"}
		_, err = testRunner().dial(ctx, m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeRefused {
			t.Errorf("Expected refused failure, got %v", err)
		}
	})
}

func TestUbuntuCheckOverSSH(t *testing.T) {
	handle := func(fail bool) execHandler {
		return func(cmd string, stdout, stderr io.Writer) uint32 {
			switch cmd {
			case ubuntuCollector:
				if fail {
					_, _ = io.WriteString(stderr, ".: /etc/os-release: not found\n")
					return 1
				}
				_, _ = io.WriteString(stdout, ubuntuCollected)
			case lscpuCommand:
				_, _ = io.WriteString(stdout, ubuntuLscpu)
			case lsblkCommand:
				_, _ = io.WriteString(stdout, ubuntuLsblk)
			default:
				return 127
			}
			return 0
		}
	}

	cfg := testConfig()
	cfg.Checks.SSHTimeout = 5 * time.Second

	t.Run("Snapshot is collected and the connection closed", func(t *testing.T) {
		srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: handle(false)})
		m := srv.monitor(t)
		m.Password = "s3cret"

		snap, err := NewUbuntuChecker(cfg, plainSecrets{}).Check(context.Background(), m)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if snap.Facts.Name != "web01" || len(snap.Drives) != 2 {
			t.Errorf("Expected web01 with 2 drives, got %q with %d", snap.Facts.Name, len(snap.Drives))
		}
		if snap.Feed.Ping == nil {
			t.Error("Expected a ping sample")
		}
		srv.waitClosed(t)
	})

	t.Run("Failed collector still closes the connection", func(t *testing.T) {
		srv := newSSHServer(t, sshServerOptions{password: "s3cret", handle: handle(true)})
		m := srv.monitor(t)
		m.Password = "s3cret"

		_, err := NewUbuntuChecker(cfg, plainSecrets{}).Check(context.Background(), m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeExit {
			t.Fatalf("Expected exit failure, got %v", err)
		}
		if !strings.Contains(failure.Output, "os-release") {
			t.Errorf("Expected stderr in the output, got %q", failure.Output)
		}
		srv.waitClosed(t)
	})
}
