package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve / Chat
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the warden gateway",
		Long: `Start the HTTP gateway with the configured provider, tools, session store
and approval channels.

Approval policy changes in the configuration file are applied without a
restart when --watch is set. Graceful shutdown runs on SIGINT/SIGTERM: queued
turns are failed, running turns finish, and unsaved sessions are flushed.`,
		Example: `  warden serve
  warden serve --config /etc/warden/production.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug, watch)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload the approval policy when the config file changes")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		Long: `Run turns locally against one session. Tool calls that need approval are
shown inline; answer with "approve <id>" or "deny <id> [reason]" while the
turn waits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), resolveConfigPath(configPath), sessionID, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "local", "Session id")
	return cmd
}

// =============================================================================
// Gateway client commands
// =============================================================================

// clientFlags are shared by commands that talk to a running gateway.
type clientFlags struct {
	url     string
	token   string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "url", "", "Gateway base URL (or set WARDEN_URL)")
	cmd.PersistentFlags().StringVar(&f.token, "token", "", "Bearer token (or set WARDEN_TOKEN)")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Request timeout")
}

func (f *clientFlags) client() *apiClient {
	url := f.url
	if url == "" {
		url = os.Getenv("WARDEN_URL")
	}
	if url == "" {
		url = "http://localhost:8080"
	}
	token := f.token
	if token == "" {
		token = os.Getenv("WARDEN_TOKEN")
	}
	return newAPIClient(url, token, f.timeout)
}

func buildApprovalsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and decide pending tool approvals",
	}
	flags.register(cmd)

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsList(cmd.Context(), cmd.OutOrStdout(), flags.client())
		},
	}

	var reason string
	approve := &cobra.Command{
		Use:   "approve <id-prefix>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalCommand(cmd.Context(), cmd.OutOrStdout(), flags.client(), "approve", args[0], reason)
		},
	}
	approve.Flags().StringVar(&reason, "reason", "", "Reason recorded with the decision")

	deny := &cobra.Command{
		Use:   "deny <id-prefix>",
		Short: "Deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalCommand(cmd.Context(), cmd.OutOrStdout(), flags.client(), "deny", args[0], reason)
		},
	}
	deny.Flags().StringVar(&reason, "reason", "", "Reason recorded with the decision")

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show decided requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsHistory(cmd.Context(), cmd.OutOrStdout(), flags.client(), limit)
		},
	}
	history.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records")

	cmd.AddCommand(list, approve, deny, history)
	return cmd
}

func buildLanesCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "lanes",
		Short: "Show per-session lane status of a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLanes(cmd.Context(), cmd.OutOrStdout(), flags.client())
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSessionCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "session <id>",
		Short: "Print a session's history from a running gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), cmd.OutOrStdout(), flags.client(), args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

// =============================================================================
// Config / Token
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(validate, schema)
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		role       string
		expiry     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the gateway API",
		Long: `Sign a JWT with auth.jwt_secret from the configuration. When the secret is
not configured it is read from the terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), resolveConfigPath(configPath), subject, role, expiry)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject, recorded as the approver")
	cmd.Flags().StringVar(&role, "role", "", "Optional role claim")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (default: auth.token_expiry)")
	return cmd
}
