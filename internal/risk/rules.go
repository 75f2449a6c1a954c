package risk

import (
	"regexp"
	"strings"
)

// ToolRisk is the base classification of a tool before its input is seen.
type ToolRisk struct {
	Level    Level
	Category Category
}

// Rule escalates a classification when Pattern matches the canonical input.
type Rule struct {
	Pattern     *regexp.Regexp
	Category    Category
	Level       Level
	Description string

	// Tools limits the rule to these tool names. Empty applies to every tool.
	Tools []string
}

// AppliesTo reports whether the rule is scoped to toolName.
func (r Rule) AppliesTo(toolName string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if strings.EqualFold(t, toolName) {
			return true
		}
	}
	return false
}

// RuleTable is the static data the classifier runs on.
type RuleTable struct {
	Tools map[string]ToolRisk
	Rules []Rule
}

var deletionTools = []string{"delete_file", "remove_file", "delete_directory", "run_command", "exec", "bash", "shell"}

// rm flag matching. rmArgs skips any arguments of the same command, so the
// recursive and force flags match in either order, separate or combined.
const (
	rmArgs          = `(?:\s+[^;&|"\s]+)*?\s+`
	rmRecursiveFlag = `(?:-[a-z]*r[a-z]*|--recursive)`
	rmForceFlag     = `(?:-[a-z]*f[a-z]*|--force)`
)

var (
	rmForceRecursive = regexp.MustCompile(`(?i)\brm` + rmArgs + `(?:` +
		`-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|` +
		rmRecursiveFlag + rmArgs + rmForceFlag + `|` +
		rmForceFlag + rmArgs + rmRecursiveFlag +
		`)\b`)
	rmRecursive = regexp.MustCompile(`(?i)\brm` + rmArgs + rmRecursiveFlag + `\b`)
)

// DefaultRules returns the built-in table. Callers may extend the copy.
func DefaultRules() RuleTable {
	return RuleTable{
		Tools: map[string]ToolRisk{
			"read_file":        {Low, ""},
			"list_dir":         {Safe, ""},
			"search_files":     {Safe, ""},
			"write_file":       {Medium, CategoryFileWrite},
			"edit_file":        {Medium, CategoryFileWrite},
			"apply_patch":      {Medium, CategoryFileWrite},
			"delete_file":      {Medium, CategoryFileDelete},
			"remove_file":      {Medium, CategoryFileDelete},
			"delete_directory": {High, CategoryFileDelete},
			"run_command":      {Medium, CategorySystemCommand},
			"exec":             {Medium, CategorySystemCommand},
			"bash":             {Medium, CategorySystemCommand},
			"shell":            {Medium, CategorySystemCommand},
			"web_fetch":        {Low, CategoryNetworkRequest},
			"http_request":     {Medium, CategoryNetworkRequest},
			"send_message":     {Medium, CategoryNetworkRequest},
			"db_query":         {Low, CategoryDataModification},
			"db_execute":       {High, CategoryDataModification},
			"ui_click":         {Medium, CategoryAutomation},
			"ui_type":          {Medium, CategoryAutomation},
			"keyboard_input":   {Medium, CategoryAutomation},
			"computer_use":     {High, CategoryAutomation},
		},
		Rules: []Rule{
			{
				Pattern:     rmForceRecursive,
				Category:    CategoryFileDelete,
				Level:       Critical,
				Description: "Forceful recursive delete",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(mkfs(\.\w+)?|fdisk|wipefs)\b|\bdd\s+[^"]*\bof=/dev/`),
				Category:    CategorySystemCommand,
				Level:       Critical,
				Description: "Disk formatting or raw device write",
			},
			{
				Pattern:     regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
				Category:    CategorySystemCommand,
				Level:       Critical,
				Description: "Fork bomb",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(drop\s+(database|table|schema)|truncate\s+table)\b`),
				Category:    CategoryDataModification,
				Level:       Critical,
				Description: "Destructive database statement",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\.(db|sqlite3?|mdb|env|pem|key|kdbx)\b|/etc/|\b(config|settings)\.(json|ya?ml|toml|ini)\b|\.ssh/|\.git/`),
				Category:    CategoryFileDelete,
				Level:       High,
				Description: "Deletes a configuration, credential or database file",
				Tools:       deletionTools,
			},
			{
				Pattern:     rmRecursive,
				Category:    CategoryFileDelete,
				Level:       High,
				Description: "Recursive delete",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z)?sh\b`),
				Category:    CategorySystemCommand,
				Level:       High,
				Description: "Pipes a download into a shell",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\bsudo\b|\bsu\s+-|\bdoas\b`),
				Category:    CategorySystemCommand,
				Level:       High,
				Description: "Privilege escalation",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b|\bkill\s+-9\s+1\b|\bsystemctl\s+(stop|disable)\b`),
				Category:    CategorySystemCommand,
				Level:       High,
				Description: "Stops the machine or system services",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\bgit\s+push\b[^"]*(--force|-f\b)|\bgit\s+reset\s+--hard\b|\bgit\s+clean\s+-[a-z]*f`),
				Category:    CategoryDataModification,
				Level:       High,
				Description: "Rewrites or discards git history",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(delete\s+from|update\s+\w+\s+set)\b`),
				Category:    CategoryDataModification,
				Level:       Medium,
				Description: "Modifies database rows",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\bchmod\s+(-R\s+)?(777|a\+rwx)\b|\bchown\s+-R\b`),
				Category:    CategorySystemCommand,
				Level:       Medium,
				Description: "Broad permission change",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(curl|wget|nc|ncat|scp|rsync|ssh)\b`),
				Category:    CategoryNetworkRequest,
				Level:       Medium,
				Description: "Network access from a command",
			},
			{
				Pattern:     regexp.MustCompile(`(?i)\b(crontab|launchctl|osascript|xdotool)\b`),
				Category:    CategoryAutomation,
				Level:       Medium,
				Description: "Scheduling or UI automation",
			},
			{
				Pattern:     regexp.MustCompile(`>\s*/dev/sd[a-z]|>\s*/etc/`),
				Category:    CategoryFileWrite,
				Level:       Critical,
				Description: "Redirects output over a device or system file",
			},
		},
	}
}
