package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/config"
)

// runChat runs an interactive session against a locally built runtime.
func runChat(ctx context.Context, configPath, sessionID string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Logging)

	st, err := buildStack(cfg, logger, stackOptions{})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := st.close(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	c := &chat{
		runtime:     st.runtime,
		approvals:   st.approvals,
		sessionID:   sessionID,
		out:         out,
		interactive: isTerminal(in),
		operator:    operatorName(),
	}
	return c.run(ctx, in)
}

type chat struct {
	runtime     *agent.Runtime
	approvals   *approval.Gateway
	sessionID   string
	interactive bool
	operator    string

	mu  sync.Mutex
	out io.Writer
}

type turnDone struct {
	result *agent.TurnResult
	err    error
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	if c.approvals != nil {
		timeout := c.approvals.Policy().Timeout
		c.approvals.OnRequest(func(req approval.Request) {
			if req.SessionID == c.sessionID {
				c.printf("\n%s\n", approval.FormatPrompt(req, timeout))
			}
		})
		c.approvals.OnResolved(func(rec approval.Record) {
			if rec.Request.SessionID == c.sessionID {
				c.printf("%s\n", approval.FormatOutcome(rec))
			}
		})
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	if c.interactive {
		c.printf("session %s. Type /quit to exit.\n", c.sessionID)
	}
	c.prompt()

	var running chan turnDone
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			// Input ended: let a running turn finish first.
			if running != nil {
				c.finish(<-running)
			}
			return err

		case done := <-running:
			running = nil
			c.finish(done)
			c.prompt()

		case line := <-lines:
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				if running == nil {
					c.prompt()
				}
			case line == "/quit" || line == "/exit":
				return nil
			case c.isApprovalCommand(line):
				res, err := c.runtime.HandleApprovalCommand(line, c.operator)
				if err != nil {
					c.printf("%v\n", err)
				} else {
					c.printf("%s\n", res.Reply)
				}
			case running != nil:
				c.printf("a turn is still running; answer its approvals or wait\n")
			default:
				running = make(chan turnDone, 1)
				go c.turn(ctx, line, running)
			}
		}
	}
}

func (c *chat) turn(ctx context.Context, text string, done chan<- turnDone) {
	result, err := c.runtime.EnqueueTurn(ctx, c.sessionID, text, agent.TurnOptions{
		OnDelta: func(delta string) { c.printf("%s", delta) },
	})
	done <- turnDone{result: result, err: err}
}

func (c *chat) finish(done turnDone) {
	switch {
	case done.err != nil:
		if !errors.Is(done.err, context.Canceled) {
			c.printf("\nerror: %v\n", done.err)
		}
	case done.result.Kind == agent.ResultError:
		c.printf("\nerror [%s]: %s\n", done.result.Error.Code, done.result.Error.Message)
	default:
		c.printf("\n")
	}
}

// isApprovalCommand treats approve/deny text as a command only while
// something is pending, so ordinary messages starting with those words still
// reach the model.
func (c *chat) isApprovalCommand(line string) bool {
	if c.approvals == nil || len(c.approvals.PendingApprovals()) == 0 {
		return false
	}
	_, err := approval.ParseCommand(line)
	return err == nil
}

func (c *chat) prompt() {
	if c.interactive {
		c.printf("> ")
	}
}

func (c *chat) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "terminal"
}
