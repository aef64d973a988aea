package manager

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/infodancer/httpd/internal/peer"
)

// Process is one spawned worker: the re-exec'd child plus the manager's
// end of the seqpacket the child inherits at fd 3.
type Process struct {
	role string
	peer *peer.Peer
	cmd  *exec.Cmd
}

// startProcess re-executes execPath with the given role. The child
// inherits one seqpacket at fd 3 (ExtraFiles[0]) and the manager's
// stderr; it receives everything else over that socket.
func startProcess(execPath, role, configPath string, logger *slog.Logger) (*Process, error) {
	local, remote, err := peer.Pair()
	if err != nil {
		return nil, err
	}

	remoteFile, err := remote.File()
	remote.Close()
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("dup child socket: %w", err)
	}

	cmd := exec.Command(execPath, "-p", role, "-config", configPath)
	cmd.ExtraFiles = []*os.File{remoteFile} // child fd 3
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		remoteFile.Close()
		local.Close()
		return nil, fmt.Errorf("start %s worker: %w", role, err)
	}
	remoteFile.Close()

	logger.Debug("spawned worker",
		slog.String("role", role),
		slog.Int("pid", cmd.Process.Pid))

	return &Process{role: role, peer: local, cmd: cmd}, nil
}

// Peer returns the manager's end of the worker's control socket.
func (p *Process) Peer() *peer.Peer {
	return p.peer
}

// Stop terminates the worker with SIGTERM and reaps it.
func (p *Process) Stop() error {
	p.peer.Close()
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal %s worker: %w", p.role, err)
	}
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("wait %s worker: %w", p.role, err)
	}
	return nil
}
