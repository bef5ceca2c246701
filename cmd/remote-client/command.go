package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/TayTech/claude-remote/internal/client/connection"
	"github.com/TayTech/claude-remote/internal/client/session"
	"github.com/TayTech/claude-remote/internal/client/terminal"
	"github.com/TayTech/claude-remote/internal/client/wsclient"
)

// exitInterrupted follows the shell convention for SIGINT.
const exitInterrupted = 130

func runCommand(
	ctx context.Context,
	manager *connection.Manager,
	sess *session.Session,
	target wsclient.Target,
	projectID string,
	sessionID *string,
	command string,
	plain bool,
) error {
	var out session.Feeder = terminal.NewWriter(os.Stdout)
	var screen *terminal.Screen
	if plain {
		cols, rows := 120, 40
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			cols, rows = w, h
		}
		screen = terminal.NewScreen(cols, rows)
		out = screen
	}
	flush := func() {
		if screen != nil {
			fmt.Println(screen.Text())
		}
	}

	states, unsubscribe := manager.Subscribe()
	defer unsubscribe()
	manager.Connect(target)

	if err := awaitConnected(ctx, manager, sess, states); err != nil {
		return err
	}

	if _, err := sess.RunCommand(ctx, projectID, sessionID, command, ""); err != nil {
		return &exitError{code: 1, err: err}
	}

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = sess.Cancel(cancelCtx)
			cancel()
			flush()
			return &exitError{code: exitInterrupted}
		case st := <-states:
			reportState(st)
			switch st.Phase {
			case connection.Reconnecting, connection.Disconnected:
				flush()
				return &exitError{code: 1, err: errors.New("connection lost while the command was running")}
			case connection.Failed:
				flush()
				return connectionFailed(st)
			}
		case ev, ok := <-sess.Events():
			if !ok {
				return &exitError{code: 1, err: errors.New("session closed")}
			}
			switch {
			case ev.Output != nil:
				out.Feed(ev.Output.Content)
			case ev.Complete != nil:
				flush()
				if ev.Complete.ExitCode != 0 {
					return &exitError{code: ev.Complete.ExitCode}
				}
				return nil
			case ev.Error != nil:
				flush()
				return &exitError{code: 1, err: fmt.Errorf("%s: %s", ev.Error.Code, ev.Error.Error)}
			}
		}
	}
}

// awaitConnected blocks through connection retries until the first
// connection is up and attached to sess.
func awaitConnected(ctx context.Context, manager *connection.Manager, sess *session.Session, states <-chan connection.State) error {
	for {
		select {
		case <-ctx.Done():
			return &exitError{code: exitInterrupted}
		case st := <-states:
			reportState(st)
			switch st.Phase {
			case connection.Connected:
				if attach(ctx, manager, sess) {
					return nil
				}
			case connection.Failed:
				return connectionFailed(st)
			}
		}
	}
}
