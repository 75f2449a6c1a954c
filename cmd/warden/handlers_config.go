package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/haasonsaas/warden/internal/auth"
	"github.com/haasonsaas/warden/internal/config"
)

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ConfigValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%s: %d problem(s)\n", configPath, len(verr.Issues))
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
		}
		return err
	}
	fmt.Fprintf(out, "%s: ok\n", configPath)
	fmt.Fprintf(out, "  llm providers: %s (default %s)\n", strings.Join(cfg.LLM.ProviderNames(), ", "), cfg.LLM.DefaultProvider)
	fmt.Fprintf(out, "  sessions:      %s\n", cfg.Sessions.Backend)
	if cfg.Approval.IsEnabled() {
		fmt.Fprintf(out, "  approvals:     %s trust, %s timeout\n", cfg.Approval.TrustMode, cfg.Approval.Timeout)
	} else {
		fmt.Fprintln(out, "  approvals:     disabled")
	}
	if enabled := cfg.Channels.Enabled(); len(enabled) > 0 {
		fmt.Fprintf(out, "  channels:      %s\n", strings.Join(enabled, ", "))
	}
	return nil
}

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runToken(out io.Writer, configPath, subject, role string, expiry time.Duration) error {
	secret := ""
	tokenExpiry := 24 * time.Hour
	if cfg, err := config.Load(configPath); err == nil {
		secret = cfg.Auth.JWTSecret
		tokenExpiry = cfg.Auth.TokenExpiry
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if expiry > 0 {
		tokenExpiry = expiry
	}
	if secret == "" {
		secret = promptPassword(bufio.NewReader(os.Stdin), "JWT secret")
	}

	service := auth.NewJWTService(secret, tokenExpiry)
	if !service.Enabled() {
		return errors.New("a JWT secret is required")
	}
	token, err := service.Generate(subject, role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// promptPassword prompts for a secret without echoing it.
func promptPassword(reader *bufio.Reader, label string) string {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err == nil {
			return strings.TrimSpace(string(text))
		}
	}
	text, err := reader.ReadString('\n')
	if err != nil && text == "" {
		return ""
	}
	return strings.TrimSpace(text)
}
