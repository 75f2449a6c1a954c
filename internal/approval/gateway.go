package approval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/warden/internal/channels"
	"github.com/haasonsaas/warden/internal/observability"
	"github.com/haasonsaas/warden/internal/risk"
)

// Notifier delivers approval prompts to an external channel.
// channels.Router satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, platform string, msg channels.OutboundMessage) (channels.MessageRef, error)
	EditMessage(ctx context.Context, ref channels.MessageRef, text string) error
}

// Config configures a Gateway. Only Policy is required.
type Config struct {
	Policy       Policy
	HistoryLimit int
	Classifier   *risk.Classifier
	Notifier     Notifier
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer

	// NotifyTimeout bounds each prompt send or edit. Default: 10s.
	NotifyTimeout time.Duration
}

type pendingRequest struct {
	request Request
	cell    *completionCell
	prompt  *channels.MessageRef
}

// Gateway holds pending approval requests and the decision history. It is
// safe for concurrent use by many lanes.
type Gateway struct {
	classifier    *risk.Classifier
	notifier      Notifier
	logger        *slog.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	notifyTimeout time.Duration

	mu         sync.Mutex
	policy     compiledPolicy
	pending    map[string]*pendingRequest
	history    *history
	onRequest  []func(Request)
	onResolved []func(Record)

	now func() time.Time
}

// New creates a gateway. It fails only when the policy's patterns do not compile.
func New(cfg Config) (*Gateway, error) {
	policy, err := compilePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if cfg.Classifier == nil {
		cfg.Classifier = risk.NewDefaultClassifier()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Gateway{
		classifier:    cfg.Classifier,
		notifier:      cfg.Notifier,
		logger:        cfg.Logger.With("component", "approval"),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		notifyTimeout: cfg.NotifyTimeout,
		policy:        policy,
		pending:       make(map[string]*pendingRequest),
		history:       newHistory(cfg.HistoryLimit),
		now:           time.Now,
	}, nil
}

// Policy returns the active policy.
func (g *Gateway) Policy() Policy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy.Policy
}

// UpdatePolicy swaps the policy. Requests already pending keep their timers.
func (g *Gateway) UpdatePolicy(p Policy) error {
	compiled, err := compilePolicy(p)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.policy = compiled
	g.mu.Unlock()
	g.logger.Info("approval policy updated",
		"enabled", p.Enabled,
		"trust_mode", compiled.TrustMode,
		"timeout", compiled.Timeout,
		"auto_approve", len(p.AutoApprove),
		"auto_deny", len(p.AutoDeny))
	return nil
}

// OnRequest registers fn to run for every new pending request. Listeners run
// synchronously and must not block.
func (g *Gateway) OnRequest(fn func(Request)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRequest = append(g.onRequest, fn)
}

// OnResolved registers fn to run for every decision, including policy ones.
// Listeners run synchronously and must not block.
func (g *Gateway) OnResolved(fn func(Record)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onResolved = append(g.onResolved, fn)
}

// RequestApproval decides whether a tool call may run. It blocks while the
// request is pending. A timeout or cancelled ctx resolves as a denial, so the
// caller only needs to look at Approved.
func (g *Gateway) RequestApproval(ctx context.Context, in Input) Response {
	ctx, span := g.tracer.TraceApproval(ctx, in.ToolName)
	defer span.End()

	g.mu.Lock()
	policy := g.policy
	g.mu.Unlock()

	if !policy.Enabled {
		return g.decide(in, risk.Classification{}, true, "approval disabled")
	}
	if policy.TrustMode == risk.TrustYolo {
		return g.decide(in, risk.Classification{}, true, "yolo mode")
	}

	cls := g.classifier.Classify(in.ToolName, in.Input)
	observability.SetAttributes(span, "risk.level", cls.Level.String(), "risk.category", string(cls.Category))

	if !risk.RequiresApprovalForMode(cls.Level, policy.TrustMode) {
		return g.decide(in, cls, true, "low-risk")
	}

	canonical := risk.Canonicalize(in.Input)
	if p, ok := firstMatch(policy.autoDeny, in.ToolName, canonical); ok {
		return g.decide(in, cls, false, "matched auto-deny pattern "+p.String())
	}
	if p, ok := firstMatch(policy.autoApprove, in.ToolName, canonical); ok {
		return g.decide(in, cls, true, "matched auto-approve pattern "+p.String())
	}

	resp := g.wait(ctx, in, cls, policy)
	observability.SetAttributes(span, "approval.approved", resp.Approved, "approval.source", string(resp.Source))
	return resp
}

// decide archives a policy decision that never became pending.
func (g *Gateway) decide(in Input, cls risk.Classification, approved bool, reason string) Response {
	now := g.now()
	req := g.newRequest(in, cls, now, 0)
	resp := Response{
		RequestID: req.ID,
		Approved:  approved,
		Timestamp: now,
		Reason:    reason,
		Source:    SourcePolicy,
	}
	rec := Record{Request: req, Response: resp}

	g.mu.Lock()
	g.history.add(rec)
	listeners := append([]func(Record){}, g.onResolved...)
	g.mu.Unlock()

	g.metrics.RecordApproval(approved, string(SourcePolicy), -1)
	g.logger.Debug("approval decided by policy",
		"request_id", req.ID,
		"tool", in.ToolName,
		"session_id", in.SessionID,
		"approved", approved,
		"reason", reason)
	for _, fn := range listeners {
		fn(rec)
	}
	return resp
}

func (g *Gateway) newRequest(in Input, cls risk.Classification, now time.Time, timeout time.Duration) Request {
	req := Request{
		ID:             uuid.NewString(),
		ToolCallID:     in.ToolCallID,
		ToolName:       in.ToolName,
		Input:          append([]byte(nil), in.Input...),
		Classification: cls,
		SessionID:      in.SessionID,
		CreatedAt:      now,
		Context:        in.Context,
	}
	if timeout > 0 {
		req.ExpiresAt = now.Add(timeout)
	}
	return req
}

func (g *Gateway) wait(ctx context.Context, in Input, cls risk.Classification, policy compiledPolicy) Response {
	now := g.now()
	req := g.newRequest(in, cls, now, policy.Timeout)
	p := &pendingRequest{request: req, cell: newCompletionCell()}

	g.mu.Lock()
	g.pending[req.ID] = p
	// Armed under the lock so a resolver never sees a pending entry without a timer.
	p.cell.arm(policy.Timeout, func() {
		g.resolve(req.ID, Response{Approved: false, Reason: "approval timed out", Source: SourceTimeout})
	})
	pendingCount := len(g.pending)
	listeners := append([]func(Request){}, g.onRequest...)
	g.mu.Unlock()

	g.metrics.SetPendingApprovals(pendingCount)
	g.logger.Info("approval requested",
		"request_id", req.ID,
		"tool", req.ToolName,
		"session_id", req.SessionID,
		"risk", cls.Level.String(),
		"category", string(cls.Category),
		"timeout", policy.Timeout)

	for _, fn := range listeners {
		fn(req)
	}
	g.sendPrompt(ctx, p, policy)

	select {
	case <-p.cell.Done():
	case <-ctx.Done():
		g.resolve(req.ID, Response{Approved: false, Reason: "approval wait cancelled: " + ctx.Err().Error(), Source: SourceCancelled})
	}
	return p.cell.wait()
}

// SubmitApproval resolves a pending request. Unknown or already resolved ids
// are ignored and report false.
func (g *Gateway) SubmitApproval(resp Response) bool {
	if resp.Source == "" {
		resp.Source = SourceUser
	}
	return g.resolve(resp.RequestID, resp)
}

// resolve is the single arbitration point between a decision, the timer and
// cancellation: whichever removes the entry from the pending table wins.
func (g *Gateway) resolve(requestID string, resp Response) bool {
	g.mu.Lock()
	p, ok := g.pending[requestID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, requestID)
	resp.RequestID = requestID
	if resp.Timestamp.IsZero() {
		resp.Timestamp = g.now()
	}
	rec := Record{Request: p.request, Response: resp}
	g.history.add(rec)
	pendingCount := len(g.pending)
	listeners := append([]func(Record){}, g.onResolved...)
	prompt := p.prompt
	g.mu.Unlock()

	p.cell.resolve(resp)

	g.metrics.RecordApproval(resp.Approved, string(resp.Source), resp.Timestamp.Sub(p.request.CreatedAt).Seconds())
	g.metrics.SetPendingApprovals(pendingCount)
	g.logger.Info("approval resolved",
		"request_id", requestID,
		"tool", p.request.ToolName,
		"session_id", p.request.SessionID,
		"approved", resp.Approved,
		"source", string(resp.Source),
		"decided_by", resp.DecidedBy)

	for _, fn := range listeners {
		fn(rec)
	}
	if prompt != nil {
		g.editPrompt(*prompt, rec)
	}
	return true
}

// PendingApprovals lists pending requests, oldest first.
func (g *Gateway) PendingApprovals() []Request {
	g.mu.Lock()
	out := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.request)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// History returns up to limit archived records, newest first. limit <= 0
// returns everything retained.
func (g *Gateway) History(limit int) []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history.newest(limit)
}

// UpdateExecutionResult attaches a tool outcome to the archived record for
// requestID. It reports false when the record is gone or never existed.
func (g *Gateway) UpdateExecutionResult(requestID string, result ExecutionResult) bool {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = g.now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.history.find(requestID)
	if rec == nil {
		return false
	}
	rec.Execution = &result
	return true
}

func (g *Gateway) sendPrompt(ctx context.Context, p *pendingRequest, policy compiledPolicy) {
	if g.notifier == nil {
		return
	}
	msg, platform, ok := promptTarget(p.request, policy.Notify)
	if !ok {
		return
	}
	msg.Text = FormatPrompt(p.request, policy.Timeout)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.notifyTimeout)
	defer cancel()
	ref, err := g.notifier.SendMessage(sendCtx, platform, msg)
	if err != nil {
		g.logger.Warn("failed to deliver approval prompt",
			"request_id", p.request.ID,
			"platform", platform,
			"error", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, stillPending := g.pending[p.request.ID]; stillPending {
		p.prompt = &ref
		return
	}
	// Resolved while the send was in flight; edit outside the lock.
	go g.editPrompt(ref, g.recordFor(p.request.ID))
}

func (g *Gateway) recordFor(requestID string) Record {
	if rec := g.history.find(requestID); rec != nil {
		return *rec
	}
	return Record{}
}

func (g *Gateway) editPrompt(ref channels.MessageRef, rec Record) {
	if g.notifier == nil || rec.Request.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.notifyTimeout)
	defer cancel()
	if err := g.notifier.EditMessage(ctx, ref, FormatOutcome(rec)); err != nil {
		g.logger.Debug("failed to update approval prompt",
			"request_id", rec.Request.ID,
			"platform", ref.Platform,
			"error", err)
	}
}

func promptTarget(req Request, fallback *NotifyTarget) (channels.OutboundMessage, string, bool) {
	if c := req.Context; c != nil && c.Platform != "" && c.ChatID != "" {
		return channels.OutboundMessage{ChatID: c.ChatID, ThreadID: c.ThreadID}, c.Platform, true
	}
	if fallback != nil && fallback.Platform != "" && fallback.ChatID != "" {
		return channels.OutboundMessage{ChatID: fallback.ChatID}, fallback.Platform, true
	}
	return channels.OutboundMessage{}, "", false
}
