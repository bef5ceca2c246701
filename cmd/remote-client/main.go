// remote-client attaches the local terminal to a session on a remote PTY
// server, or runs a single command there and exits with its exit code.
//
// Interactive mode (default) puts the terminal in raw mode and keeps a
// session running: when it ends, a new one resumes the same conversation.
// Connection loss is retried with exponential backoff.
//
// Command mode (--command) runs one prompt and prints its output. With
// --plain the output is rendered through a terminal emulator and printed
// as text once the command finishes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/TayTech/claude-remote/internal/client/connection"
	"github.com/TayTech/claude-remote/internal/client/session"
	"github.com/TayTech/claude-remote/internal/client/wsclient"
	"github.com/TayTech/claude-remote/internal/common/config"
	"github.com/TayTech/claude-remote/internal/common/logger"
)

const clientName = "remote-client"

// exitError carries the exit code of a remote command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			if msg := err.Error(); msg != "" {
				fmt.Fprintf(os.Stderr, "%s: %v\n", clientName, err)
			}
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", clientName, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	host       string
	port       int
	path       string
	token      string
	projectID  string
	sessionID  string
	command    string
	plain      bool
	verbose    bool
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet(clientName, pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "directory containing config.yaml")
	flagSet.StringVar(&opts.host, "host", "", "server host (default from client.host)")
	flagSet.IntVar(&opts.port, "port", 0, "server port (default from client.port)")
	flagSet.StringVar(&opts.path, "path", "", "websocket path (default from client.path)")
	flagSet.StringVar(&opts.token, "token", "", "bearer token (default from auth.token)")
	flagSet.StringVarP(&opts.projectID, "project", "p", "", "project ID to run in")
	flagSet.StringVarP(&opts.sessionID, "session", "s", "", "conversation session ID to resume")
	flagSet.StringVarP(&opts.command, "command", "c", "", "run one prompt and exit with its exit code")
	flagSet.BoolVar(&opts.plain, "plain", false, "render command output as plain text")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection details to stderr")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{code: 2, err: err}
	}
	if opts.projectID == "" {
		return &exitError{code: 2, err: errors.New("--project is required")}
	}

	cfg, err := config.LoadWithPath(opts.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: level, Format: "console", OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := connection.NewManager(connection.WSDialer(log), backoffFrom(&cfg.Client), nil, log)
	defer manager.Close()

	sess := session.New(&liveConn{manager: manager}, cfg.Client.RequestTimeout(), log)

	target := targetFrom(cfg, &opts)
	var sessionID *string
	if opts.sessionID != "" {
		sessionID = &opts.sessionID
	}

	if opts.command != "" {
		return runCommand(ctx, manager, sess, target, opts.projectID, sessionID, opts.command, opts.plain)
	}
	return runInteractive(ctx, manager, sess, target, opts.projectID, sessionID, log)
}

func targetFrom(cfg *config.Config, opts *options) wsclient.Target {
	t := wsclient.Target{
		Host:  cfg.Client.Host,
		Port:  cfg.Client.Port,
		Path:  cfg.Client.Path,
		Token: cfg.Auth.Token,
	}
	if opts.host != "" {
		t.Host = opts.host
	}
	if opts.port != 0 {
		t.Port = opts.port
	}
	if opts.path != "" {
		t.Path = opts.path
	}
	if opts.token != "" {
		t.Token = opts.token
	}
	return t
}

func backoffFrom(c *config.ClientConfig) connection.Backoff {
	b := connection.DefaultBackoff()
	if c.InitialDelayMs > 0 {
		b.Initial = c.InitialDelay()
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	if c.MaxDelayMs > 0 {
		b.Max = c.MaxDelay()
	}
	if c.MaxAttempts > 0 {
		b.MaxAttempts = c.MaxAttempts
	}
	return b
}

// liveConn sends requests over whichever connection the manager currently holds.
type liveConn struct {
	manager *connection.Manager
}

func (l *liveConn) RequestPayload(ctx context.Context, action string, payload, result any) error {
	conn, ok := l.manager.Transport().(session.Requester)
	if !ok {
		return wsclient.ErrClosed
	}
	return conn.RequestPayload(ctx, action, payload, result)
}

// attach starts delivering the current connection's notifications to sess.
func attach(ctx context.Context, manager *connection.Manager, sess *session.Session) bool {
	conn, ok := manager.Transport().(*wsclient.Conn)
	if !ok {
		return false
	}
	go sess.Run(ctx, conn.Notifications())
	return true
}

func reportState(st connection.State) {
	if st.Phase == connection.Disconnected {
		return
	}
	fmt.Fprintf(os.Stderr, "\r[%s]\r\n", st)
}

func connectionFailed(st connection.State) error {
	return &exitError{code: 1, err: fmt.Errorf("connection failed: %s", st.Message)}
}
