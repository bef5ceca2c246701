package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/TayTech/claude-remote/internal/client/connection"
	"github.com/TayTech/claude-remote/internal/client/session"
	"github.com/TayTech/claude-remote/internal/client/terminal"
	"github.com/TayTech/claude-remote/internal/client/wsclient"
	"github.com/TayTech/claude-remote/internal/common/logger"
)

// detachKey (Ctrl-]) ends the client. Everything else, Ctrl-C included,
// goes to the remote session.
const detachKey = 0x1d

func runInteractive(
	ctx context.Context,
	manager *connection.Manager,
	sess *session.Session,
	target wsclient.Target,
	projectID string,
	sessionID *string,
	log *logger.Logger,
) error {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return &exitError{code: 2, err: errors.New("interactive mode needs a terminal; use --command")}
	}
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return err
	}
	defer func() {
		_ = term.Restore(stdinFd, oldState)
	}()

	size := func() (int, int) {
		cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || cols <= 0 || rows <= 0 {
			return 80, 24
		}
		return cols, rows
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	restarter := session.NewAutoRestart(sess, terminal.NewWriter(os.Stdout), session.RestartConfig{
		ProjectID: projectID,
		SessionID: sessionID,
		Size:      size,
	}, log)

	states, unsubscribe := manager.Subscribe()
	defer unsubscribe()
	manager.Connect(target)

	go forwardInput(ctx, cancel, os.Stdin, sess, log)
	go watchResize(ctx, func() {
		cols, rows := size()
		if err := sess.Resize(ctx, cols, rows); err != nil && !quietInputError(err) {
			log.Debug("resize failed", zap.Error(err))
		}
	})

	running := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			reportState(st)
			switch st.Phase {
			case connection.Connected:
				if !attach(ctx, manager, sess) {
					continue
				}
				if !running {
					running = true
					go func() {
						_ = restarter.Run(ctx)
					}()
				} else {
					restarter.Restart()
				}
			case connection.Failed:
				return connectionFailed(st)
			}
		}
	}
}

func forwardInput(ctx context.Context, detach context.CancelFunc, in io.Reader, sess *session.Session, log *logger.Logger) {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			data := buf[:n]
			if i := bytes.IndexByte(data, detachKey); i >= 0 {
				if i > 0 {
					_ = sess.SendInput(ctx, string(data[:i]))
				}
				detach()
				return
			}
			if err := sess.SendInput(ctx, string(data)); err != nil && !quietInputError(err) {
				log.Debug("input dropped", zap.Error(err))
			}
		}
		if err != nil {
			detach()
			return
		}
	}
}

// quietInputError reports errors expected while no session is running.
func quietInputError(err error) bool {
	return errors.Is(err, session.ErrNoSession) || errors.Is(err, wsclient.ErrClosed) || errors.Is(err, context.Canceled)
}
