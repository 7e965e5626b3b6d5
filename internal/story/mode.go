package story

import (
	"fmt"
	"strings"
)

// Mode is the narrative style a session was created with. The service
// interprets it; this package only normalizes it.
type Mode string

// DefaultMode is used when no style is chosen.
const DefaultMode Mode = "cinematic"

// NormalizeMode lower-cases and trims a style name, falling back to DefaultMode.
func NormalizeMode(raw string) Mode {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "" {
		return DefaultMode
	}
	return Mode(mode)
}

func (m Mode) String() string {
	return string(m)
}

// Strategy selects how a session is driven.
type Strategy string

const (
	// StrategyManual lets the user run each step when they choose.
	StrategyManual Strategy = "manual"
	// StrategyAuto requests the whole story in one full run right after creation.
	StrategyAuto Strategy = "auto"
)

// ParseStrategy accepts "manual" or "auto"; empty input means manual.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StrategyManual:
		return StrategyManual, nil
	case StrategyAuto:
		return StrategyAuto, nil
	default:
		return "", fmt.Errorf("story: strategy must be 'manual' or 'auto', got %q", raw)
	}
}

func (s Strategy) String() string {
	return string(s)
}
