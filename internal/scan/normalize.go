package scan

import (
	"strings"

	"openqr/internal/config"
)

// DefaultPrefix is stripped when the prefix mode is "default".
const DefaultPrefix = "QR:"

// Normalize removes the configured prefix and suffix from a raw scan, each at
// most once, and trims surrounding whitespace.
func Normalize(raw string, prefix, suffix config.Framing) string {
	s := StripPrefix(raw, prefix)
	s = StripSuffix(s, suffix)
	return strings.TrimSpace(s)
}

// StripPrefix removes one leading occurrence of the prefix literal. Unknown
// modes and a custom mode without a value leave s unchanged.
func StripPrefix(s string, f config.Framing) string {
	switch strings.ToLower(f.Mode) {
	case config.FramingDefault:
		return strings.TrimPrefix(s, DefaultPrefix)
	case config.FramingCustom:
		if v := f.Literal(); v != "" {
			return strings.TrimPrefix(s, v)
		}
	}
	return s
}

// StripSuffix removes one trailing occurrence of the suffix. The enter and
// newline modes drop a trailing LF and then a trailing CR.
func StripSuffix(s string, f config.Framing) string {
	switch strings.ToLower(f.Mode) {
	case config.FramingEnter, config.FramingNewline:
		s = strings.TrimSuffix(s, "\n")
		return strings.TrimSuffix(s, "\r")
	case config.FramingTab:
		return strings.TrimSuffix(s, "\t")
	case config.FramingCustom:
		if v := f.Literal(); v != "" {
			return strings.TrimSuffix(s, v)
		}
	}
	return s
}
