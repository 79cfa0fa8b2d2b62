package pipeline

import "strings"

// Mode selects the execution context a pipeline runs under. Train-only
// augmentation ops are gated on it.
type Mode string

const (
	ModeTrain Mode = "train"
	ModeEval  Mode = "eval"
	ModeTest  Mode = "test"
)

// NormalizeMode lowercases and trims a raw mode value, returning "" when
// it is not a known mode.
func NormalizeMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeTrain:
		return ModeTrain
	case ModeEval:
		return ModeEval
	case ModeTest:
		return ModeTest
	default:
		return ""
	}
}

// Modes lists all valid modes in declaration order.
func Modes() []Mode {
	return []Mode{ModeTrain, ModeEval, ModeTest}
}
