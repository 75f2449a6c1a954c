package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/agent/providers"
	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/audit"
	"github.com/haasonsaas/warden/internal/channels"
	"github.com/haasonsaas/warden/internal/channels/discord"
	"github.com/haasonsaas/warden/internal/channels/slack"
	"github.com/haasonsaas/warden/internal/channels/telegram"
	"github.com/haasonsaas/warden/internal/compaction"
	"github.com/haasonsaas/warden/internal/config"
	"github.com/haasonsaas/warden/internal/lanes"
	"github.com/haasonsaas/warden/internal/memory"
	"github.com/haasonsaas/warden/internal/observability"
	"github.com/haasonsaas/warden/internal/risk"
	"github.com/haasonsaas/warden/internal/sessions"
	"github.com/haasonsaas/warden/internal/tools"
)

// stack is everything a turn needs, built from one configuration.
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	approvals *approval.Gateway
	lanes     *lanes.Scheduler
	store     sessions.Store
	audit     *audit.Logger
	memoryLog *memory.Logger
	runtime   *agent.Runtime

	// closers run in order after the runtime has drained.
	closers []func(context.Context) error
}

type stackOptions struct {
	// Metrics is nil for one-shot commands that never expose /metrics.
	Metrics *observability.Metrics

	// Channels registers the configured messengers for approval prompts.
	Channels bool
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:          cfg.Level,
		Format:         cfg.Format,
		Output:         os.Stderr,
		AddSource:      cfg.AddSource,
		RedactPatterns: cfg.RedactPatterns,
	}).Slog()
}

func buildStack(cfg *config.Config, logger *slog.Logger, opts stackOptions) (st *stack, err error) {
	st = &stack{cfg: cfg, logger: logger, metrics: opts.Metrics}
	defer func() {
		if err != nil {
			_ = st.close(context.Background())
		}
	}()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       tracingEndpoint(cfg.Tracing),
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	st.tracer = tracer
	st.closers = append(st.closers, shutdownTracer)

	provider, err := providers.New(cfg.LLM, "")
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	registry := agent.NewToolRegistry()
	if err := tools.Register(registry, cfg.Tools, tools.Options{}); err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	executor := agent.NewExecutor(registry, &agent.ExecutorConfig{
		MaxConcurrency: cfg.Agent.MaxConcurrentTools,
		DefaultTimeout: cfg.Agent.ToolTimeout,
		DefaultRetries: cfg.Agent.ToolRetries,
		Logger:         logger,
		Metrics:        opts.Metrics,
		Tracer:         tracer,
	})
	for name, o := range cfg.Tools.Overrides {
		tc := agent.ToolConfig{Timeout: o.Timeout, Retries: -1}
		if o.Retries != nil {
			tc.Retries = *o.Retries
		}
		executor.ConfigureTool(name, tc)
	}

	resultGuard, err := agent.NewToolResultGuard(agent.ToolResultGuardConfig{
		SanitizeSecrets: true,
		RedactPatterns:  cfg.Logging.RedactPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("tool result guard: %w", err)
	}

	guardCfg := compaction.GuardConfig{
		MaxTokens:    cfg.Context.MaxTokens,
		Threshold:    cfg.Context.Threshold,
		HistoryShare: cfg.Context.HistoryShare,
		Logger:       logger,
	}
	if cfg.Context.Summarize {
		guardCfg.Summarizer = agent.NewProviderSummarizer(provider, cfg.Context.SummaryModel, cfg.Context.SummaryLength)
	}
	guard := compaction.NewGuard(guardCfg)

	st.audit, err = audit.NewLogger(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	st.closers = append(st.closers, func(context.Context) error { return st.audit.Close() })

	var retriever agent.MemoryRetriever
	if cfg.Memory.Enabled {
		fr, memLog := memory.NewFileRetriever(cfg.Memory)
		retriever = fr
		st.memoryLog = memLog
	}

	if cfg.Approval.IsEnabled() {
		gwCfg := approval.Config{
			Policy:        cfg.Approval.Policy(),
			HistoryLimit:  cfg.Approval.HistoryLimit,
			Classifier:    risk.NewDefaultClassifier(),
			Logger:        logger,
			Metrics:       opts.Metrics,
			Tracer:        tracer,
			NotifyTimeout: cfg.Approval.NotifyTimeout,
		}
		if opts.Channels {
			router, err := buildRouter(cfg.Channels, logger)
			if err != nil {
				return nil, err
			}
			if len(router.Platforms()) > 0 {
				gwCfg.Notifier = router
			}
		}
		st.approvals, err = approval.New(gwCfg)
		if err != nil {
			return nil, fmt.Errorf("approvals: %w", err)
		}
	}

	engineCfg := agent.EngineConfig{
		Provider: provider,
		Tools:    registry,
		Executor: executor,
		Policy: agent.ToolPolicy{
			Mode:           agent.ToolMode(cfg.Agent.ToolPolicy.Mode),
			Allow:          cfg.Agent.ToolPolicy.Allow,
			Deny:           cfg.Agent.ToolPolicy.Deny,
			ChatOnlyPrefix: cfg.Agent.ToolPolicy.ChatOnlyPrefix,
		},
		Guard:                guard,
		ResultGuard:          resultGuard,
		Model:                cfg.Agent.Model,
		MaxIterations:        cfg.Agent.MaxIterations,
		MaxTokens:            cfg.LLM.MaxTokens,
		EnableThinking:       cfg.LLM.EnableThinking,
		ThinkingBudgetTokens: cfg.LLM.ThinkingBudgetTokens,
		OnCompact:            st.audit.LogSessionCompact,
		Logger:               logger,
		Metrics:              opts.Metrics,
		Tracer:               tracer,
	}
	if retriever != nil {
		engineCfg.Memory = retriever
	}
	if st.approvals != nil {
		engineCfg.Approver = st.approvals
	}
	engine, err := agent.NewEngine(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	st.store, err = sessions.New(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	st.closers = append(st.closers, func(context.Context) error { return st.store.Close() })

	st.lanes = lanes.New(lanes.Config{Logger: logger, Metrics: opts.Metrics})

	rtCfg := agent.RuntimeConfig{
		Engine:              engine,
		Lanes:               st.lanes,
		Store:               st.store,
		Approvals:           st.approvals,
		Audit:               st.audit,
		DefaultSystemPrompt: cfg.Agent.SystemPrompt,
		DefaultModel:        cfg.Agent.Model,
		WriteBehind:         cfg.Sessions.WriteBehind,
		Logger:              logger,
	}
	if st.memoryLog != nil {
		rtCfg.MemoryLog = st.memoryLog
	}
	st.runtime, err = agent.NewRuntime(rtCfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return st, nil
}

func tracingEndpoint(cfg config.TracingConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.Endpoint
}

// buildRouter registers a messenger per enabled channel.
func buildRouter(cfg config.ChannelsConfig, logger *slog.Logger) (*channels.Router, error) {
	router := channels.NewRouter(logger)
	if cfg.Slack.Enabled {
		router.Register(slack.New(cfg.Slack.BotToken))
	}
	if cfg.Telegram.Enabled {
		m, err := telegram.New(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		router.Register(m)
	}
	if cfg.Discord.Enabled {
		m, err := discord.New(cfg.Discord.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		router.Register(m)
	}
	return router, nil
}

// close drains the runtime, then runs the remaining closers. Used by
// commands that do not hand shutdown to the gateway.
func (st *stack) close(ctx context.Context) error {
	var errs []error
	if st.runtime != nil {
		if err := st.runtime.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range st.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
