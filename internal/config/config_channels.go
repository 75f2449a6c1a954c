package config

import "fmt"

// ChannelsConfig holds the credentials of the chat platforms approval prompts
// can be delivered to.
type ChannelsConfig struct {
	Slack    ChannelConfig `yaml:"slack"`
	Telegram ChannelConfig `yaml:"telegram"`
	Discord  ChannelConfig `yaml:"discord"`
}

type ChannelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// Enabled returns the names of the enabled platforms.
func (c ChannelsConfig) Enabled() []string {
	var names []string
	for _, ch := range c.all() {
		if ch.cfg.Enabled {
			names = append(names, ch.name)
		}
	}
	return names
}

type namedChannel struct {
	name string
	cfg  ChannelConfig
}

func (c ChannelsConfig) all() []namedChannel {
	return []namedChannel{
		{"slack", c.Slack},
		{"telegram", c.Telegram},
		{"discord", c.Discord},
	}
}

func (c ChannelsConfig) validate(approval ApprovalConfig) []string {
	var issues []string
	enabled := map[string]bool{}
	for _, ch := range c.all() {
		if !ch.cfg.Enabled {
			continue
		}
		enabled[ch.name] = true
		if ch.cfg.BotToken == "" {
			issues = append(issues, fmt.Sprintf("channels.%s.bot_token is required when enabled", ch.name))
		}
	}
	if approval.Notify != nil && approval.Notify.Platform != "" && !enabled[approval.Notify.Platform] {
		issues = append(issues, fmt.Sprintf("approval.notify.platform %q is not an enabled channel", approval.Notify.Platform))
	}
	return issues
}
