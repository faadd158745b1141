package host

import "context"

// LoginNodeHost is an SSHHost with one added assumption: scheduler client
// binaries (qsub, bsub, qstat, ...) are only on PATH from the login node, so
// every RunCommand is routed through a login shell that sources the
// cluster's environment first. This is the "ssh via login node" Host
// flavor, layered on top of SSHHost rather than duplicating its transport.
type LoginNodeHost struct {
	*SSHHost
	loginShellPrefix string
}

// NewLoginNode wraps an SSH connection to a login node. loginShellPrefix, if
// non-empty, is prepended to every command (e.g. "source /etc/profile.d/cluster.sh &&").
func NewLoginNode(name string, cfg SSHConfig, loginShellPrefix string) *LoginNodeHost {
	return &LoginNodeHost{SSHHost: NewSSH(name, cfg), loginShellPrefix: loginShellPrefix}
}

func (h *LoginNodeHost) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	if h.loginShellPrefix == "" {
		return h.SSHHost.RunCommand(ctx, cmd)
	}
	return h.SSHHost.RunCommand(ctx, h.loginShellPrefix+" "+cmd)
}
