// Package risk classifies tool invocations by how much damage they can do.
//
// Classification is pure: a static table gives each tool a base level, then an
// ordered list of pattern rules is matched against a canonical JSON rendering
// of the input. Matches can only raise the level.
package risk

import (
	"fmt"
	"strings"
)

// Level is an ordered risk level.
type Level int

const (
	Safe Level = iota
	Low
	Medium
	High
	Critical
)

var levelNames = [...]string{"safe", "low", "medium", "high", "critical"}

func (l Level) String() string {
	if l < Safe || l > Critical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return Safe, fmt.Errorf("unknown risk level %q", s)
}

// Max returns the higher of a and b.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// Category groups what a tool call touches.
type Category string

const (
	CategoryFileWrite        Category = "file_write"
	CategoryFileDelete       Category = "file_delete"
	CategorySystemCommand    Category = "system_command"
	CategoryNetworkRequest   Category = "network_request"
	CategoryDataModification Category = "data_modification"
	CategoryAutomation       Category = "automation"
	CategoryUnknown          Category = "unknown"
)

// TrustMode maps risk levels to an approval requirement.
type TrustMode string

const (
	TrustYolo       TrustMode = "yolo"
	TrustStrict     TrustMode = "strict"
	TrustModerate   TrustMode = "moderate"
	TrustPermissive TrustMode = "permissive"
)

// ParseTrustMode normalizes a mode name. Unknown names are returned as-is so
// RequiresApprovalForMode can fail safe on them.
func ParseTrustMode(s string) TrustMode {
	return TrustMode(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether m is one of the four known modes.
func (m TrustMode) Valid() bool {
	switch m {
	case TrustYolo, TrustStrict, TrustModerate, TrustPermissive:
		return true
	}
	return false
}

// RequiresApprovalForMode reports whether a call at level needs a human
// decision under mode. Unrecognized modes always require approval.
func RequiresApprovalForMode(level Level, mode TrustMode) bool {
	switch mode {
	case TrustYolo:
		return false
	case TrustStrict:
		return level > Safe
	case TrustModerate:
		return level >= Medium
	case TrustPermissive:
		return level >= High
	default:
		return true
	}
}
