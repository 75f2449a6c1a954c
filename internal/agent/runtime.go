// Package agent runs tool-using conversations against an LLM backend.
//
// The package is layered:
//
//	┌─────────────────────────────────────────┐
//	│              Runtime                    │  lanes, session cache, persistence
//	├─────────────────────────────────────────┤
//	│              Engine                     │  one turn: model calls, approvals, tools
//	├─────────────────────────────────────────┤
//	│  ToolRegistry / Executor │ LLMProvider  │  tool execution, backend adapters
//	└─────────────────────────────────────────┘
//
// A Runtime serializes the turns of each session through a lane, so history
// is only ever mutated by one turn at a time, while different sessions
// progress concurrently:
//
//	rt, _ := agent.NewRuntime(agent.RuntimeConfig{
//	    Engine: engine,
//	    Lanes:  lanes.New(lanes.Config{}),
//	    Store:  sessions.NewMemoryStore(),
//	})
//	result, err := rt.EnqueueTurn(ctx, "user-123", "list the workspace", agent.TurnOptions{})
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/audit"
	"github.com/haasonsaas/warden/internal/lanes"
	"github.com/haasonsaas/warden/internal/sessions"
	"github.com/haasonsaas/warden/pkg/models"
)

// ErrInvalidSessionID is returned for an empty session id.
var ErrInvalidSessionID = errors.New("session id is required")

// persistTimeout bounds the post-turn side effects of one turn.
const persistTimeout = 30 * time.Second

// MemoryLog records conversation lines for later retrieval.
// *memory.Logger satisfies it.
type MemoryLog interface {
	Append(ctx context.Context, sessionID, role, content string) error
}

// RuntimeConfig wires a Runtime. Engine, Lanes and Store are required.
type RuntimeConfig struct {
	Engine *Engine
	Lanes  *lanes.Scheduler
	Store  sessions.Store

	// Approvals is used for operator decisions. Nil disables them.
	Approvals *approval.Gateway

	Audit     *audit.Logger
	MemoryLog MemoryLog

	// DefaultSystemPrompt and DefaultModel seed newly created sessions.
	DefaultSystemPrompt string
	DefaultModel        string

	// WriteBehind defers saves to FlushSessions instead of saving after
	// every turn.
	WriteBehind bool

	Logger *slog.Logger
}

// cachedSession is the in-memory copy of a session. live is owned by the
// session's lane; everything else is guarded by mu.
type cachedSession struct {
	live *models.Session

	mu       sync.Mutex
	snapshot *models.Session
	seq      uint64
	savedSeq uint64
	lastUsed time.Time

	// saveMu serializes store writes for this session.
	saveMu sync.Mutex
}

func (c *cachedSession) dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq > c.savedSeq
}

// Runtime accepts turns for many sessions and runs each session's turns in
// order.
type Runtime struct {
	cfg    RuntimeConfig
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*cachedSession

	// pending tracks post-turn side effects still in flight.
	pending sync.WaitGroup
	now     func() time.Time
}

// NewRuntime validates cfg and hooks approval events into the audit log.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Engine == nil {
		return nil, errors.New("runtime: engine is required")
	}
	if cfg.Lanes == nil {
		return nil, errors.New("runtime: lane scheduler is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("runtime: session store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Runtime{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "runtime"),
		cache:  make(map[string]*cachedSession),
		now:    time.Now,
	}

	if cfg.Approvals != nil {
		cfg.Approvals.OnRequest(func(req approval.Request) {
			platform := ""
			if req.Context != nil {
				platform = req.Context.Platform
			}
			cfg.Audit.LogApprovalRequested(context.Background(), req.ID, req.SessionID, req.ToolName,
				req.Classification.Level.String(), platform)
		})
		cfg.Approvals.OnResolved(func(rec approval.Record) {
			var wait time.Duration
			if !rec.Request.CreatedAt.IsZero() && rec.Response.Timestamp.After(rec.Request.CreatedAt) {
				wait = rec.Response.Timestamp.Sub(rec.Request.CreatedAt)
			}
			cfg.Audit.LogApprovalDecided(context.Background(), rec.Request.ID, rec.Request.SessionID,
				rec.Request.ToolName, rec.Response.Approved, string(rec.Response.Source),
				rec.Response.Reason, rec.Response.DecidedBy, wait)
		})
	}
	return r, nil
}

type turnOutcome struct {
	result *TurnResult
	done   <-chan struct{}
}

// EnqueueTurn runs one turn for sessionID after every turn submitted
// earlier for the same session has finished.
//
// Cancelling ctx while the turn is queued withdraws it. Once the turn has
// started it runs to completion; the caller may stop waiting, and the
// session is still saved afterwards.
func (r *Runtime) EnqueueTurn(ctx context.Context, sessionID, text string, opts TurnOptions) (*TurnResult, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	out, err := lanes.Enqueue(ctx, r.cfg.Lanes, sessionID, func(ctx context.Context) (turnOutcome, error) {
		cs, err := r.session(ctx, sessionID)
		if err != nil {
			return turnOutcome{}, err
		}

		channel := ""
		if opts.Channel != nil {
			channel = opts.Channel.Platform
		}
		r.cfg.Audit.LogTurnStarted(ctx, sessionID, channel)

		started := r.now()
		result := r.cfg.Engine.RunTurn(ctx, cs.live, text, opts)
		elapsed := r.now().Sub(started)

		cs.mu.Lock()
		cs.seq++
		cs.snapshot = cs.live.Clone()
		cs.lastUsed = r.now()
		cs.mu.Unlock()

		// Side effects run outside the lane so the next turn can start.
		done := make(chan struct{})
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			defer close(done)
			r.afterTurn(context.WithoutCancel(ctx), cs, text, result, elapsed)
		}()
		return turnOutcome{result: result, done: done}, nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-out.done:
	case <-ctx.Done():
	}
	return out.result, nil
}

// session returns the cached session, loading or creating it on first use.
// It must be called from inside the session's lane.
func (r *Runtime) session(ctx context.Context, id string) (*cachedSession, error) {
	r.mu.Lock()
	cs, ok := r.cache[id]
	r.mu.Unlock()
	if ok {
		return cs, nil
	}

	loaded, err := r.cfg.Store.Load(ctx, id)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		loaded = models.NewSession(id)
		loaded.SystemPrompt = r.cfg.DefaultSystemPrompt
		loaded.Model = r.cfg.DefaultModel
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	cs = &cachedSession{live: loaded, snapshot: loaded.Clone(), lastUsed: r.now()}
	r.mu.Lock()
	r.cache[id] = cs
	r.mu.Unlock()
	return cs, nil
}

func (r *Runtime) afterTurn(ctx context.Context, cs *cachedSession, text string, result *TurnResult, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	sessionID := cs.live.ID
	code := ""
	if result.Error != nil {
		code = string(result.Error.Code)
	}
	r.cfg.Audit.LogTurnCompleted(ctx, sessionID, string(result.Kind), code, result.Iterations, result.ToolCalls, elapsed)
	r.auditTools(ctx, sessionID, result.Messages)

	if r.cfg.MemoryLog != nil {
		if err := r.cfg.MemoryLog.Append(ctx, sessionID, string(models.RoleUser), text); err != nil {
			r.logger.Warn("memory log append failed", "session_id", sessionID, "error", err)
		}
		if result.Kind == ResultText && result.Text != "" {
			if err := r.cfg.MemoryLog.Append(ctx, sessionID, string(models.RoleAssistant), result.Text); err != nil {
				r.logger.Warn("memory log append failed", "session_id", sessionID, "error", err)
			}
		}
	}

	if !r.cfg.WriteBehind {
		_ = r.save(ctx, cs)
	}
}

// auditTools records every tool call of the turn and how it ended.
func (r *Runtime) auditTools(ctx context.Context, sessionID string, messages []models.Message) {
	names := make(map[string]string)
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				names[call.ID] = call.Name
				r.cfg.Audit.LogToolInvocation(ctx, sessionID, call.Name, call.ID, call.Input)
			}
		case models.RoleTool:
			for _, res := range msg.ToolResults {
				name := names[res.ToolCallID]
				if res.Content == DeniedToolResult {
					r.cfg.Audit.LogToolDenied(ctx, sessionID, name, res.ToolCallID, "not approved")
					continue
				}
				r.cfg.Audit.LogToolCompletion(ctx, sessionID, name, res.ToolCallID, !res.IsError, res.Content)
			}
		}
	}
}

// save writes the newest snapshot unless a newer or equal one is already
// stored.
func (r *Runtime) save(ctx context.Context, cs *cachedSession) error {
	cs.saveMu.Lock()
	defer cs.saveMu.Unlock()

	cs.mu.Lock()
	snapshot, seq := cs.snapshot, cs.seq
	if seq <= cs.savedSeq {
		cs.mu.Unlock()
		return nil
	}
	cs.mu.Unlock()

	if err := r.cfg.Store.Save(ctx, snapshot); err != nil {
		r.logger.Error("session save failed", "session_id", snapshot.ID, "error", err)
		r.cfg.Audit.LogError(ctx, audit.EventSessionSaveErr, snapshot.ID, "session_save", err)
		return err
	}

	cs.mu.Lock()
	if seq > cs.savedSeq {
		cs.savedSeq = seq
	}
	cs.mu.Unlock()
	return nil
}

func (r *Runtime) cached() []*cachedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*cachedSession, 0, len(r.cache))
	for _, cs := range r.cache {
		out = append(out, cs)
	}
	return out
}

// FlushSessions saves every session with unsaved turns and returns how many
// were written. Failures are joined; the remaining sessions are still tried.
func (r *Runtime) FlushSessions(ctx context.Context) (int, error) {
	var errs []error
	flushed := 0
	for _, cs := range r.cached() {
		if !cs.dirty() {
			continue
		}
		if err := r.save(ctx, cs); err != nil {
			errs = append(errs, err)
			continue
		}
		flushed++
	}
	return flushed, errors.Join(errs...)
}

// EvictIdleSessions drops cached sessions unused for longer than idle. Only
// sessions whose latest turn is saved are dropped; eviction runs inside the
// session's lane so it never races a turn.
func (r *Runtime) EvictIdleSessions(ctx context.Context, idle time.Duration) int {
	evicted := 0
	cutoff := r.now().Add(-idle)
	for _, cs := range r.cached() {
		cs.mu.Lock()
		stale := cs.lastUsed.Before(cutoff) && cs.seq <= cs.savedSeq
		id := cs.live.ID
		cs.mu.Unlock()
		if !stale {
			continue
		}

		removed, err := lanes.Enqueue(ctx, r.cfg.Lanes, id, func(context.Context) (bool, error) {
			cs.mu.Lock()
			defer cs.mu.Unlock()
			if !cs.lastUsed.Before(cutoff) || cs.seq > cs.savedSeq {
				return false, nil
			}
			r.mu.Lock()
			if r.cache[id] == cs {
				delete(r.cache, id)
			}
			r.mu.Unlock()
			return true, nil
		})
		if err != nil {
			r.logger.Debug("session eviction skipped", "session_id", id, "error", err)
			continue
		}
		if removed {
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("evicted idle sessions", "count", evicted)
	}
	return evicted
}

// CachedSessions reports how many sessions are held in memory.
func (r *Runtime) CachedSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Session returns a copy of the session as of its last finished turn,
// falling back to the store for sessions not in memory.
func (r *Runtime) Session(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	cs, ok := r.cache[id]
	r.mu.Unlock()
	if ok {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.snapshot.Clone(), nil
	}
	return r.cfg.Store.Load(ctx, id)
}

// SubmitApproval resolves a pending approval. It reports false for unknown
// or already resolved requests.
func (r *Runtime) SubmitApproval(resp approval.Response) bool {
	if r.cfg.Approvals == nil {
		return false
	}
	return r.cfg.Approvals.SubmitApproval(resp)
}

// PendingApprovals lists undecided requests, oldest first.
func (r *Runtime) PendingApprovals() []approval.Request {
	if r.cfg.Approvals == nil {
		return nil
	}
	return r.cfg.Approvals.PendingApprovals()
}

// ApprovalHistory returns up to limit archived decisions, newest first.
func (r *Runtime) ApprovalHistory(limit int) []approval.Record {
	if r.cfg.Approvals == nil {
		return nil
	}
	return r.cfg.Approvals.History(limit)
}

// HandleApprovalCommand applies an operator text command such as
// "approve 3f2a".
func (r *Runtime) HandleApprovalCommand(text, decidedBy string) (approval.CommandResult, error) {
	if r.cfg.Approvals == nil {
		return approval.CommandResult{}, errors.New("approvals are not enabled")
	}
	return r.cfg.Approvals.HandleCommand(text, decidedBy)
}

// LaneStatus reports every known lane.
func (r *Runtime) LaneStatus() []lanes.Status {
	return r.cfg.Lanes.GetAllStatus()
}

// Close stops the lanes, waits for in-flight side effects and saves what is
// left unsaved.
func (r *Runtime) Close(ctx context.Context) error {
	laneErr := r.cfg.Lanes.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(laneErr, ctx.Err())
	}

	_, flushErr := r.FlushSessions(ctx)
	return errors.Join(laneErr, flushErr)
}
