package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/lanes"
	"github.com/haasonsaas/warden/pkg/models"
)

func runApprovalsList(ctx context.Context, out io.Writer, client *apiClient) error {
	var resp struct {
		Pending []approval.Request `json:"pending"`
	}
	if err := client.getJSON(ctx, "/v1/approvals", &resp); err != nil {
		return err
	}
	if len(resp.Pending) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOOL\tRISK\tSESSION\tEXPIRES IN")
	for _, req := range resp.Pending {
		expires := "-"
		if !req.ExpiresAt.IsZero() {
			expires = time.Until(req.ExpiresAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			approval.ShortID(req.ID), req.ToolName, req.Classification.Level, req.SessionID, expires)
	}
	return w.Flush()
}

func runApprovalCommand(ctx context.Context, out io.Writer, client *apiClient, verb, prefix, reason string) error {
	text := strings.TrimSpace(verb + " " + prefix + " " + reason)
	var result approval.CommandResult
	if err := client.postJSON(ctx, "/v1/approvals/command", map[string]string{"text": text}, &result); err != nil {
		return err
	}
	fmt.Fprintln(out, result.Reply)
	return nil
}

func runApprovalsHistory(ctx context.Context, out io.Writer, client *apiClient, limit int) error {
	var resp struct {
		History []approval.Record `json:"history"`
	}
	path := "/v1/approvals/history?limit=" + url.QueryEscape(fmt.Sprint(limit))
	if err := client.getJSON(ctx, path, &resp); err != nil {
		return err
	}
	if len(resp.History) == 0 {
		fmt.Fprintln(out, "No decisions recorded.")
		return nil
	}
	for _, rec := range resp.History {
		fmt.Fprintf(out, "%s  %s\n", rec.Response.Timestamp.Format(time.RFC3339), approval.FormatOutcome(rec))
	}
	return nil
}

func runLanes(ctx context.Context, out io.Writer, client *apiClient) error {
	var resp struct {
		Lanes          []lanes.Status `json:"lanes"`
		CachedSessions int            `json:"cached_sessions"`
	}
	if err := client.getJSON(ctx, "/v1/lanes", &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tRUNNING\tQUEUED\tLAST ACTIVE")
	for _, l := range resp.Lanes {
		last := "-"
		if !l.LastActive.IsZero() {
			last = l.LastActive.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", l.Key, l.Running, l.Queued, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d lanes, %d cached sessions\n", len(resp.Lanes), resp.CachedSessions)
	return nil
}

func runSession(ctx context.Context, out io.Writer, client *apiClient, id string) error {
	var session models.Session
	if err := client.getJSON(ctx, "/v1/sessions/"+url.PathEscape(id), &session); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s (%d messages, updated %s)\n\n",
		session.ID, len(session.History), session.UpdatedAt.Format(time.RFC3339))
	for _, msg := range session.History {
		switch {
		case len(msg.ToolCalls) > 0:
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(out, "[%s] tool call %s %s\n", msg.Role, call.Name, string(call.Input))
			}
		case len(msg.ToolResults) > 0:
			for _, res := range msg.ToolResults {
				status := "ok"
				if res.IsError {
					status = "error"
				}
				fmt.Fprintf(out, "[tool] %s: %s\n", status, res.Content)
			}
		}
		if msg.Content != "" {
			fmt.Fprintf(out, "[%s] %s\n", msg.Role, msg.Content)
		}
	}
	return nil
}
