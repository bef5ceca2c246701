// Package execution implements the server-side execution registry: it
// admits start requests against a concurrency ceiling, owns every live
// PTY handle, resolves cancel/complete races and relays process output
// to the client that started each execution.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/constants"
	"github.com/TayTech/claude-remote/internal/common/logger"
	"github.com/TayTech/claude-remote/internal/events"
	"github.com/TayTech/claude-remote/internal/events/bus"
	"github.com/TayTech/claude-remote/internal/project"
	"github.com/TayTech/claude-remote/internal/ptyhandle"
	"github.com/TayTech/claude-remote/internal/tracing"
)

// Config holds the registry limits and collaborators that tests replace.
type Config struct {
	MaxConcurrent    int
	CommandTimeout   time.Duration
	MarkerTTL        time.Duration
	MaxCommandLength int
	DefaultCols      int
	DefaultRows      int
	Launcher         Launcher

	// Clock defaults to the wall clock.
	Clock clock.Clock
	// NewID generates execution IDs. Defaults to UUIDs.
	NewID func() string
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    20,
		CommandTimeout:   300 * time.Second,
		MarkerTTL:        time.Minute,
		MaxCommandLength: 10000,
		DefaultCols:      80,
		DefaultRows:      24,
		Launcher:         DefaultLauncher(),
	}
}

// Projects resolves project paths and tracks agent sessions.
type Projects interface {
	project.Resolver
	project.SessionIndex
}

// CommandRequest starts a one-shot command.
type CommandRequest struct {
	ProjectID     string
	SessionID     *string
	Command       string
	CorrelationID string
}

// InteractiveRequest starts an interactive session.
type InteractiveRequest struct {
	ProjectID string
	SessionID *string
	Cols      int
	Rows      int
}

// Registry owns all live executions. A single mutex guards both the
// execution map and the cancellation markers.
type Registry struct {
	cfg      Config
	spawner  ptyhandle.Spawner
	projects Projects
	eventBus bus.EventBus
	clock    clock.Clock
	newID    func() string
	logger   *logger.Logger

	mu         sync.Mutex
	executions map[string]*Context
	markers    map[string]time.Time
}

// NewRegistry creates a registry. eventBus may be nil.
func NewRegistry(spawner ptyhandle.Spawner, projects Projects, eventBus bus.EventBus, log *logger.Logger, cfg Config) *Registry {
	defaults := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.MarkerTTL <= 0 {
		cfg.MarkerTTL = defaults.MarkerTTL
	}
	if cfg.MaxCommandLength <= 0 {
		cfg.MaxCommandLength = defaults.MaxCommandLength
	}
	if cfg.DefaultCols <= 0 || cfg.DefaultRows <= 0 {
		cfg.DefaultCols, cfg.DefaultRows = defaults.DefaultCols, defaults.DefaultRows
	}
	if cfg.Launcher.Program == "" {
		cfg.Launcher = defaults.Launcher
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Registry{
		cfg:        cfg,
		spawner:    spawner,
		projects:   projects,
		eventBus:   eventBus,
		clock:      clk,
		newID:      newID,
		logger:     log.WithFields(zap.String("component", "execution_registry")),
		executions: make(map[string]*Context),
		markers:    make(map[string]time.Time),
	}
}

// StartCommand admits a one-shot command and registers it. The process is
// not spawned until Launch is called, so the caller can deliver the ack first.
func (r *Registry) StartCommand(ctx context.Context, req CommandRequest, sink Sink) (Snapshot, error) {
	if err := r.checkCapacity(); err != nil {
		return Snapshot{}, err
	}
	if req.CorrelationID == "" {
		return Snapshot{}, newError(CodeValidation, "correlationId is required")
	}
	if err := validateCommand(req.Command, r.cfg.MaxCommandLength); err != nil {
		return Snapshot{}, err
	}
	if r.consumeMarker(req.CorrelationID) {
		r.logger.Info("start rejected, cancelled before registration",
			zap.String("correlation_id", req.CorrelationID))
		return Snapshot{}, newError(CodeCancelled, "Execution was cancelled before it started")
	}
	path, err := r.resolveProject(ctx, req.ProjectID)
	if err != nil {
		return Snapshot{}, err
	}

	id := r.newID()
	ec := &Context{
		ExecutionID:   id,
		CorrelationID: req.CorrelationID,
		Kind:          KindCommand,
		ProjectID:     req.ProjectID,
		ProjectPath:   path,
		SessionID:     req.SessionID,
		Command:       req.Command,
		sink:          sink,
		cols:          r.cfg.DefaultCols,
		rows:          r.cfg.DefaultRows,
	}
	return r.admit(ctx, ec)
}

// StartInteractive admits an interactive session. Its correlation ID is
// its execution ID and it has no timeout.
func (r *Registry) StartInteractive(ctx context.Context, req InteractiveRequest, sink Sink) (Snapshot, error) {
	if err := r.checkCapacity(); err != nil {
		return Snapshot{}, err
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 && rows == 0 {
		cols, rows = r.cfg.DefaultCols, r.cfg.DefaultRows
	}
	if err := validateSize(cols, rows); err != nil {
		return Snapshot{}, err
	}
	path, err := r.resolveProject(ctx, req.ProjectID)
	if err != nil {
		return Snapshot{}, err
	}

	id := r.newID()
	ec := &Context{
		ExecutionID:   id,
		CorrelationID: id,
		Kind:          KindInteractive,
		ProjectID:     req.ProjectID,
		ProjectPath:   path,
		SessionID:     req.SessionID,
		sink:          sink,
		cols:          cols,
		rows:          rows,
	}
	return r.admit(ctx, ec)
}

func tooMany(max int) *Error {
	return newError(CodeTooManyExecutions, "Too many concurrent executions (max: %d)", max)
}

func (r *Registry) checkCapacity() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.executions) >= r.cfg.MaxConcurrent {
		return tooMany(r.cfg.MaxConcurrent)
	}
	return nil
}

func (r *Registry) consumeMarker(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markers[correlationID]; ok {
		delete(r.markers, correlationID)
		return true
	}
	return false
}

func (r *Registry) resolveProject(ctx context.Context, projectID string) (string, error) {
	if projectID == "" {
		return "", newError(CodeProjectNotFound, "Project not found: (empty)")
	}
	path, err := r.projects.Resolve(ctx, projectID)
	if errors.Is(err, project.ErrNotFound) {
		return "", newError(CodeProjectNotFound, "Project not found: %s", projectID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve project %s: %w", projectID, err)
	}
	return path, nil
}

// admit inserts ec unless the ceiling was reached since checkCapacity.
func (r *Registry) admit(ctx context.Context, ec *Context) (Snapshot, error) {
	_, ec.span = tracing.TraceExecution(ctx, ec.ExecutionID, ec.CorrelationID, ec.ProjectID, string(ec.Kind))

	r.mu.Lock()
	if len(r.executions) >= r.cfg.MaxConcurrent {
		r.mu.Unlock()
		err := tooMany(r.cfg.MaxConcurrent)
		tracing.TraceExecutionResult(ec.span, -1, string(err.Code), err)
		return Snapshot{}, err
	}
	ec.StartTime = r.clock.Now()
	r.executions[ec.ExecutionID] = ec
	snap := ec.snapshot()
	live := len(r.executions)
	r.mu.Unlock()

	r.logger.WithExecutionID(ec.ExecutionID).Info("execution registered",
		zap.String("correlation_id", ec.CorrelationID),
		zap.String("kind", string(ec.Kind)),
		zap.String("project_id", ec.ProjectID),
		zap.Int("live", live))
	return snap, nil
}

// Launch spawns the process of a registered execution in the background.
// Calling it again, or for an execution that is already gone, does nothing.
func (r *Registry) Launch(executionID string) {
	r.mu.Lock()
	ec, ok := r.executions[executionID]
	if !ok || ec.launched {
		r.mu.Unlock()
		return
	}
	ec.launched = true
	r.mu.Unlock()

	go r.run(ec)
}

func (r *Registry) run(ec *Context) {
	log := r.logger.WithExecutionID(ec.ExecutionID)
	if !r.isLive(ec) {
		return
	}

	sessionID, resume, err := r.resolveSession(ec)
	if err != nil {
		var e *sessionError
		if errors.As(err, &e) {
			r.fail(ec, RuntimeSessionNotFound, e.Error())
			return
		}
		r.fail(ec, RuntimeProcessFailed, err.Error())
		return
	}

	ec.ioMu.Lock()
	cols, rows := ec.cols, ec.rows
	ec.agentSession = sessionID
	ec.ioMu.Unlock()

	spec := ptyhandle.Spec{
		Argv: r.cfg.Launcher.Argv(ec.Command, sessionID, resume),
		Dir:  ec.ProjectPath,
		Env:  ptyhandle.BuildEnv(ec.ProjectPath),
		Cols: cols,
		Rows: rows,
	}
	if ec.Kind == KindCommand {
		spec.Timeout = r.cfg.CommandTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.SpawnTimeout)
	h, err := r.spawner.Spawn(ctx, spec)
	cancel()
	if err != nil {
		log.Warn("spawn failed", zap.Error(err))
		r.fail(ec, RuntimeProcessFailed, fmt.Sprintf("Failed to start process: %v", err))
		return
	}

	if !r.attach(ec, h, cols, rows) {
		log.Debug("execution cancelled during spawn")
		_ = h.Kill()
		go drain(h)
		return
	}

	log.Info("execution started", zap.Int("pid", h.Pid()), zap.Bool("resume", resume))
	r.publish(events.ExecutionStarted, ec, map[string]any{"session_id": sessionID, "pid": h.Pid()})
	r.pump(ec, h)
}

type sessionError struct{ sessionID string }

func (e *sessionError) Error() string { return fmt.Sprintf("Session not found: %s", e.sessionID) }

// resolveSession returns the session to pass to the program and whether
// it is resumed. A missing session ID gets a fresh one.
func (r *Registry) resolveSession(ec *Context) (string, bool, error) {
	if ec.SessionID == nil || *ec.SessionID == "" {
		return uuid.NewString(), false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.SpawnTimeout)
	defer cancel()
	ok, err := r.projects.HasSession(ctx, ec.ProjectID, *ec.SessionID)
	if err != nil {
		return "", false, fmt.Errorf("look up session: %w", err)
	}
	if !ok {
		return "", false, &sessionError{sessionID: *ec.SessionID}
	}
	return *ec.SessionID, true, nil
}

// attach hands h to ec and flushes input that arrived during the spawn.
// It reports false when ec was removed meanwhile; the caller must kill h.
func (r *Registry) attach(ec *Context, h ptyhandle.Handle, cols, rows int) bool {
	ec.ioMu.Lock()
	ec.handle = h
	for _, data := range ec.pendingInput {
		if err := h.Write(data); err != nil {
			r.logger.WithExecutionID(ec.ExecutionID).Warn("failed to flush input", zap.Error(err))
		}
	}
	ec.pendingInput = nil
	if ec.resized && (ec.cols != cols || ec.rows != rows) {
		_ = h.Resize(ec.cols, ec.rows)
	}
	ec.ioMu.Unlock()

	// Cancel removes first and reads the handle second, so one of the
	// two sides always sees the other and kills the process.
	return r.isLive(ec)
}

func (r *Registry) pump(ec *Context, h ptyhandle.Handle) {
	for ev := range h.Events() {
		switch ev.Kind {
		case ptyhandle.EventData:
			out := Output{
				ExecutionID:   ec.ExecutionID,
				CorrelationID: ec.CorrelationID,
				Stream:        StreamStdout,
				Content:       string(ev.Data),
				Timestamp:     r.clock.Now(),
			}
			ec.emit(false, func(s Sink) { s.Output(out) })
		case ptyhandle.EventExit:
			r.onExit(ec, ev)
		}
	}
}

func (r *Registry) onExit(ec *Context, ev ptyhandle.Event) {
	if ev.Err != nil {
		code := classifyRuntimeError(r.isCancelled(ec), ev.Err)
		msg := ev.Err.Error()
		if code == RuntimeTimeout {
			msg = fmt.Sprintf("Command timed out after %s", r.cfg.CommandTimeout)
		}
		r.fail(ec, code, msg)
		return
	}

	if ev.ExitCode == 0 && ec.agentSession != "" {
		ctx, cancel := context.WithTimeout(context.Background(), constants.SpawnTimeout)
		if err := r.projects.RecordSession(ctx, ec.ProjectID, ec.agentSession); err != nil {
			r.logger.WithExecutionID(ec.ExecutionID).Warn("failed to record session", zap.Error(err))
		}
		cancel()
	}
	r.complete(ec, ev.ExitCode)
}

func (r *Registry) complete(ec *Context, exitCode int) {
	r.remove(ec)
	now := r.clock.Now()
	done := Completion{
		ExecutionID:   ec.ExecutionID,
		CorrelationID: ec.CorrelationID,
		ExitCode:      exitCode,
		SessionID:     ec.agentSession,
		Duration:      now.Sub(ec.StartTime),
	}
	notice := Output{
		ExecutionID:   ec.ExecutionID,
		CorrelationID: ec.CorrelationID,
		Stream:        StreamSystem,
		Content:       fmt.Sprintf("\r\nProcess exited with code %d\r\n", exitCode),
		Timestamp:     now,
	}
	if !ec.emit(true, func(s Sink) {
		s.Output(notice)
		s.Complete(done)
	}) {
		return
	}

	r.logger.WithExecutionID(ec.ExecutionID).Info("execution completed",
		zap.Int("exit_code", exitCode),
		zap.Duration("duration", done.Duration))
	r.publish(events.ExecutionCompleted, ec, map[string]any{"exit_code": exitCode, "session_id": ec.agentSession})
	tracing.TraceExecutionResult(ec.span, exitCode, "", nil)
}

func (r *Registry) fail(ec *Context, code RuntimeCode, message string) {
	r.remove(ec)
	failure := Failure{
		ExecutionID:   ec.ExecutionID,
		CorrelationID: ec.CorrelationID,
		Code:          code,
		Message:       message,
	}
	if !ec.emit(true, func(s Sink) { s.Fail(failure) }) {
		return
	}

	r.logger.WithExecutionID(ec.ExecutionID).Info("execution failed",
		zap.String("code", string(code)),
		zap.String("error", message))
	subject := events.ExecutionFailed
	if code == RuntimeCancelled {
		subject = events.ExecutionCancelled
	}
	r.publish(subject, ec, map[string]any{"code": string(code), "error": message})
	tracing.TraceExecutionResult(ec.span, -1, string(code), errors.New(message))
}

// Cancel ends the execution whose execution or correlation ID is id. When
// none is live it records a marker so a later start with that correlation
// ID is rejected. It never fails and reports whether an execution was found.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	ec := r.findLocked(id)
	if ec == nil {
		r.markers[id] = r.clock.Now()
		r.mu.Unlock()
		r.logger.Debug("cancel for unknown execution, marker recorded", zap.String("id", id))
		return false
	}
	ec.cancelled = true
	delete(r.executions, ec.ExecutionID)
	r.mu.Unlock()

	r.fail(ec, RuntimeCancelled, "Execution cancelled")
	r.kill(ec)
	return true
}

func (r *Registry) findLocked(id string) *Context {
	if ec, ok := r.executions[id]; ok {
		return ec
	}
	for _, ec := range r.executions {
		if ec.CorrelationID == id {
			return ec
		}
	}
	return nil
}

// OnDisconnect kills and removes every execution. Nothing is sent to the
// sinks since their client is gone.
func (r *Registry) OnDisconnect() int {
	r.mu.Lock()
	all := r.executions
	r.executions = make(map[string]*Context)
	for _, ec := range all {
		ec.cancelled = true
	}
	r.mu.Unlock()

	for _, ec := range all {
		if ec.emit(true, nil) {
			r.publish(events.ExecutionCancelled, ec, map[string]any{"reason": "disconnect"})
			tracing.TraceExecutionResult(ec.span, -1, string(RuntimeCancelled), nil)
		}
		r.kill(ec)
	}
	if len(all) > 0 {
		r.logger.Info("client disconnected, executions killed", zap.Int("count", len(all)))
	}
	return len(all)
}

func (r *Registry) kill(ec *Context) {
	ec.ioMu.Lock()
	h := ec.handle
	ec.pendingInput = nil
	ec.ioMu.Unlock()
	if h == nil {
		return
	}
	if err := h.Kill(); err != nil {
		r.logger.WithExecutionID(ec.ExecutionID).Warn("failed to kill process", zap.Error(err))
	}
}

// ForwardInput writes data to the execution's terminal. Input sent before
// the process is up is queued and flushed in order once it starts.
func (r *Registry) ForwardInput(executionID string, data []byte) error {
	ec := r.lookup(executionID)
	if ec == nil {
		return newError(CodeNotFound, "Execution not found: %s", executionID)
	}
	ec.ioMu.Lock()
	defer ec.ioMu.Unlock()
	if ec.handle == nil {
		ec.pendingInput = append(ec.pendingInput, append([]byte(nil), data...))
		return nil
	}
	if err := ec.handle.Write(data); err != nil {
		return fmt.Errorf("write to execution %s: %w", executionID, err)
	}
	return nil
}

// Resize changes the execution's terminal size.
func (r *Registry) Resize(executionID string, cols, rows int) error {
	if err := validateSize(cols, rows); err != nil {
		return err
	}
	ec := r.lookup(executionID)
	if ec == nil {
		return newError(CodeNotFound, "Execution not found: %s", executionID)
	}
	ec.ioMu.Lock()
	defer ec.ioMu.Unlock()
	if ec.handle == nil {
		ec.cols, ec.rows, ec.resized = cols, rows, true
		return nil
	}
	if err := ec.handle.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize execution %s: %w", executionID, err)
	}
	return nil
}

// Run purges expired cancellation markers every TTL until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.MarkerTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.sweepMarkers(); n > 0 {
				r.logger.Debug("expired cancellation markers purged", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) sweepMarkers() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, at := range r.markers {
		if now.Sub(at) >= r.cfg.MarkerTTL {
			delete(r.markers, id)
			n++
		}
	}
	return n
}

// Count returns the number of live executions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executions)
}

// MarkerCount returns the number of pending cancellation markers.
func (r *Registry) MarkerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// Get returns a snapshot of a live execution.
func (r *Registry) Get(executionID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec, ok := r.executions[executionID]
	if !ok {
		return Snapshot{}, false
	}
	return ec.snapshot(), true
}

func (r *Registry) lookup(executionID string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[executionID]
}

func (r *Registry) isLive(ec *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[ec.ExecutionID] == ec
}

func (r *Registry) isCancelled(ec *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ec.cancelled
}

func (r *Registry) remove(ec *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executions[ec.ExecutionID] == ec {
		delete(r.executions, ec.ExecutionID)
	}
}

func (r *Registry) publish(subject string, ec *Context, extra map[string]any) {
	if r.eventBus == nil {
		return
	}
	data := map[string]any{
		"execution_id":   ec.ExecutionID,
		"correlation_id": ec.CorrelationID,
		"project_id":     ec.ProjectID,
		"kind":           string(ec.Kind),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := r.eventBus.Publish(context.Background(), subject, bus.NewEvent(subject, events.Source, data)); err != nil {
		r.logger.Debug("failed to publish execution event", zap.String("subject", subject), zap.Error(err))
	}
}

// drain consumes the events of a handle nobody else will read.
func drain(h ptyhandle.Handle) {
	for range h.Events() {
	}
}
