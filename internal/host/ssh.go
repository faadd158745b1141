package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig is the connection config for an SSHHost (user@host, port,
// options).
type SSHConfig struct {
	User            string
	Address         string // host:port
	Timeout         time.Duration
	ClientConfig    *ssh.ClientConfig // auth method, host key callback, etc.
	MaxSessions     int               // configurable max concurrent sessions (default 8)
}

// SSHHost runs everything over SSH on a remote machine. Each operation dials
// its own connection, and at most MaxSessions operations run at once;
// connections are not reused between operations.
type SSHHost struct {
	cfg      SSHConfig
	hostname string
	dial     func(ctx context.Context) (*ssh.Client, error)
	sessions chan struct{}
}

// NewSSH returns an SSHHost that dials address fresh for every operation.
// Real deployments are expected to wrap dial with connection reuse; kept
// simple here since only the capability set matters, not a specific
// pooling strategy.
func NewSSH(name string, cfg SSHConfig) *SSHHost {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 8
	}
	return &SSHHost{
		cfg:      cfg,
		hostname: name,
		sessions: make(chan struct{}, maxSessions),
		dial: func(ctx context.Context) (*ssh.Client, error) {
			d := net.Dialer{Timeout: cfg.Timeout}
			conn, err := d.DialContext(ctx, "tcp", cfg.Address)
			if err != nil {
				return nil, err
			}
			c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Address, cfg.ClientConfig)
			if err != nil {
				return nil, err
			}
			return ssh.NewClient(c, chans, reqs), nil
		},
	}
}

func (h *SSHHost) Name() string { return h.hostname }

func (h *SSHHost) acquire(ctx context.Context) (func(), error) {
	select {
	case h.sessions <- struct{}{}:
		return func() { <-h.sessions }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrHostUnreachable, ctx.Err())
	}
}

func (h *SSHHost) withSession(ctx context.Context, fn func(*ssh.Session) error) error {
	release, err := h.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	client, err := h.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrHostUnreachable, h.cfg.Address, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: new session on %s: %v", ErrHostUnreachable, h.cfg.Address, err)
	}
	defer session.Close()

	return fn(session)
}

// EnsureDirectory shells out to mkdir -p over the session, since SSH alone
// has no filesystem RPCs without an additional SFTP dependency the retrieved
// example pack does not carry (see DESIGN.md).
func (h *SSHHost) EnsureDirectory(ctx context.Context, path string) error {
	res, err := h.RunCommand(ctx, "mkdir -p "+shellQuoteHost(path))
	if err != nil {
		return err
	}
	if res.Exit != 0 {
		return fmt.Errorf("%w: mkdir -p %s exited %d: %s", ErrFilesystemError, path, res.Exit, res.Stderr)
	}
	return nil
}

// PutFile streams data into path by piping it to `cat > path` on the
// session's stdin, avoiding an SFTP dependency for the common case of
// writing a monitored script or small payload.
func (h *SSHHost) PutFile(ctx context.Context, path string, data []byte) error {
	return h.withSession(ctx, func(s *ssh.Session) error {
		s.Stdin = bytes.NewReader(data)
		var stderr bytes.Buffer
		s.Stderr = &stderr
		if err := s.Run("cat > " + shellQuoteHost(path)); err != nil {
			return fmt.Errorf("%w: put %s: %v: %s", ErrFilesystemError, path, err, stderr.String())
		}
		return nil
	})
}

func (h *SSHHost) GetFile(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := h.withSession(ctx, func(s *ssh.Session) error {
		var stdout, stderr bytes.Buffer
		s.Stdout = &stdout
		s.Stderr = &stderr
		if err := s.Run("cat " + shellQuoteHost(path)); err != nil {
			if stderr.Len() > 0 {
				return fmt.Errorf("%w: %s", ErrMissingFile, stderr.String())
			}
			return fmt.Errorf("%w: get %s: %v", ErrMissingFile, path, err)
		}
		out = stdout.Bytes()
		return nil
	})
	return out, err
}

func (h *SSHHost) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	var res CommandResult
	err := h.withSession(ctx, func(s *ssh.Session) error {
		var stdout, stderr bytes.Buffer
		s.Stdout = &stdout
		s.Stderr = &stderr
		runErr := s.Run(cmd)
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
		res.Exit = exitCodeOf(runErr)
		if res.Exit < 0 {
			return fmt.Errorf("%w: run %q: %v", ErrHostUnreachable, cmd, runErr)
		}
		return nil
	})
	return res, err
}

// Execute quotes argv into a single command line, since the SSH protocol
// only carries a single command string per session (no native argv form).
func (h *SSHHost) Execute(ctx context.Context, argv []string) (CommandResult, error) {
	if len(argv) == 0 {
		return CommandResult{}, fmt.Errorf("%w: empty argv", ErrFilesystemError)
	}
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuoteHost(a)
	}
	return h.RunCommand(ctx, strings.Join(quoted, " "))
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus()
	}
	if err == io.EOF {
		return -1
	}
	return -1
}

func shellQuoteHost(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
