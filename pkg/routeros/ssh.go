package routeros

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// sshTransport is the fallback transport used when REST is unreachable or
// returns a transport-level failure.
type sshTransport struct {
	timeout time.Duration
}

func newSSHTransport(timeout time.Duration) *sshTransport {
	return &sshTransport{timeout: timeout}
}

// run dials endpoint over SSH, authenticates with username/password, runs
// a single command, and returns its combined stdout and stderr.
func (t *sshTransport) run(ctx context.Context, endpoint, username, password, command string) (string, error) {
	host := endpoint
	if !strings.Contains(host, ":") {
		host += ":22"
	}

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // device host keys are not pinned; management network is trusted
		Timeout:         t.timeout,
	}

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", host, err)
	}
	defer func() { _ = conn.Close() }()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host, config)
	if err != nil {
		return "", fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	defer func() { _ = session.Close() }()

	out, err := session.CombinedOutput(command)
	if err != nil {
		return string(out), fmt.Errorf("running command: %w", err)
	}
	return string(out), nil
}
