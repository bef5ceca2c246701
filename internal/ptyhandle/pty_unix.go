//go:build !windows

package ptyhandle

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// unixPTY wraps a Unix PTY master file descriptor.
type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

func startPTYWithSize(cmd *exec.Cmd, cols, rows int) (device, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}

// killProcessTree kills the process and its session. pty.Start makes the
// child a session leader, so its pid is also its process group id.
func killProcessTree(proc *os.Process) error {
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return proc.Kill()
	}
	return nil
}

// waitPtyProcess waits for exit. A signalled process reports 128+signal.
func waitPtyProcess(cmd *exec.Cmd) (exitCode int, signalName string, err error) {
	err = cmd.Wait()
	if err == nil {
		return 0, "", nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1, "", err
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1, "", err
	}
	if status.Signaled() {
		return 128 + int(status.Signal()), status.Signal().String(), err
	}
	return status.ExitStatus(), "", err
}
