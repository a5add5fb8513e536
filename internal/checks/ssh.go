package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"atlas-system/internal/storage"
)

// sshRunner opens SSH sessions for the windows and ubuntu checkers.
type sshRunner struct {
	*BaseChecker
	timeout time.Duration
}

// sshClient is one SSH connection to a monitored host.
type sshClient struct {
	runner *sshRunner
	client *ssh.Client
}

// dial connects and authenticates with the monitor's decrypted password or
// private key. The private key may be protected by the password.
func (r *sshRunner) dial(ctx context.Context, m *storage.Monitor) (*sshClient, error) {
	var auth []ssh.AuthMethod

	password, err := r.reveal("password", m.Password)
	if err != nil {
		return nil, err
	}

	if m.PrivateKey != "" {
		key, err := r.reveal("private key", m.PrivateKey)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey([]byte(key))
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) && password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(password))
		}
		if err != nil {
			return nil, &Failure{Op: "ssh auth", Code: CodeSecret, Err: errors.New("private key could not be parsed")}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}

	port := m.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, r.failure("ssh dial", err, "")
	}

	clientConfig := &ssh.ClientConfig{
		User: m.Username,
		Auth: auth,
		// Host keys are not pinned per monitor.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.timeout,
	}

	_ = conn.SetDeadline(time.Now().Add(r.timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &Failure{Op: "ssh auth", Code: CodeAuth, Err: err}
		}
		return nil, r.failure("ssh handshake", err, "")
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshClient{runner: r, client: ssh.NewClient(c, chans, reqs)}, nil
}

// run executes cmd in a new session and returns its stdout. A non-zero exit
// status becomes a Failure carrying stdout and stderr. The session is
// abandoned when ctx ends.
func (c *sshClient) run(ctx context.Context, op, cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", c.runner.failure(op, err, "")
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = c.client.Close()
		return "", &Failure{Op: op, Code: CodeTimeout, Err: ctx.Err()}
	}

	if err != nil {
		output := truncate(stdout.String() + "\n" + stderr.String())
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return "", &Failure{Op: op, Code: CodeExit, Output: output, Err: fmt.Errorf("exit status %d", exitErr.ExitStatus())}
		}
		return "", c.runner.failure(op, err, output)
	}
	return stdout.String(), nil
}

// Close closes the connection. Errors after the session is done carry no
// information about the check and are dropped.
func (c *sshClient) Close() {
	_ = c.client.Close()
}
