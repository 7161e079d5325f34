package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// CredentialSource resolves SSH credentials for a vendor and role.
type CredentialSource interface {
	Credentials(v model.Vendor, role model.DeviceRole) (util.DeviceCredentials, error)
}

// SSHExecutor runs commands over a fresh SSH connection per call.
type SSHExecutor struct {
	creds          CredentialSource
	dialTimeout    time.Duration
	commandTimeout time.Duration
	hostKeys       ssh.HostKeyCallback
	log            *slog.Logger
}

// NewSSHExecutor creates an executor from the application config.
func NewSSHExecutor(cfg *util.Config) (*SSHExecutor, error) {
	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.Probe.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.Probe.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeys = cb
	}
	return &SSHExecutor{
		creds:          cfg,
		dialTimeout:    cfg.Probe.DialTimeout,
		commandTimeout: cfg.Probe.CommandTimeout,
		hostKeys:       hostKeys,
		log:            util.Component("session"),
	}, nil
}

// interactive vendors do not support exec requests and need a shell.
func interactive(v model.Vendor) bool {
	return v == model.VendorAccedian
}

// ExecuteCommand dials the target, runs command and closes the connection.
func (e *SSHExecutor) ExecuteCommand(ctx context.Context, target Target, command string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &TransportError{Target: target.String(), Command: command, Err: err}
	}

	if target.Host == "" {
		return fail(errors.New("no management address"))
	}
	creds, err := e.creds.Credentials(target.Vendor, target.Role)
	if err != nil {
		return fail(err)
	}

	if e.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	client, err := e.dial(ctx, target, creds)
	if err != nil {
		return fail(err)
	}
	defer client.Close()

	// Unblock a hung command when the context ends.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	start := time.Now()
	var out string
	if interactive(target.Vendor) {
		out, err = runShell(client, command)
	} else {
		out, err = runExec(client, command)
	}
	if ctx.Err() != nil {
		return fail(ctx.Err())
	}
	if err != nil {
		return fail(err)
	}

	e.log.Debug("command finished", "target", target.String(), "command", command,
		"bytes", len(out), "elapsed", time.Since(start))
	return out, nil
}

func (e *SSHExecutor) dial(ctx context.Context, target Target, creds util.DeviceCredentials) (*ssh.Client, error) {
	addr := net.JoinHostPort(target.Host, strconv.Itoa(creds.Port))

	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	password := creds.Password
	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: e.hostKeys,
		Timeout:         e.dialTimeout,
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func runExec(client *ssh.Client, command string) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(command)
	if err != nil && !commandRan(err) {
		return string(out), err
	}
	return string(out), nil
}

func runShell(client *ssh.Client, command string) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin: %w", err)
	}
	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	if err := sess.RequestPty("vt100", 0, 200, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
		return "", fmt.Errorf("request pty: %w", err)
	}
	if err := sess.Shell(); err != nil {
		return "", fmt.Errorf("start shell: %w", err)
	}
	if _, err := io.WriteString(stdin, command+"\nexit\n"); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}
	stdin.Close()

	if err := sess.Wait(); err != nil && !commandRan(err) {
		return out.String(), err
	}
	return out.String(), nil
}

// commandRan reports whether err only describes the remote exit status.
// Devices exit non-zero for failed pings and some never send a status.
func commandRan(err error) bool {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	return errors.As(err, &exitErr) || errors.As(err, &missing)
}
