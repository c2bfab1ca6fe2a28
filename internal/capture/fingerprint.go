package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxSignatureLen bounds the part of the message/traceback that feeds the
// fingerprint, so trailing variable payloads don't split one fault into many
// keys.
const maxSignatureLen = 200

// Fingerprint computes the 16-char error key for a fault signature: same
// logger plus same final traceback line (or message when there is no
// traceback) always map to the same key.
func Fingerprint(loggerName, message, traceback string) string {
	sig := lastTracebackLine(traceback)
	if sig == "" {
		sig = message
	}
	if r := []rune(sig); len(r) > maxSignatureLen {
		sig = string(r[:maxSignatureLen])
	}
	sum := sha256.Sum256([]byte(loggerName + ":" + sig))
	return hex.EncodeToString(sum[:])[:16]
}

// lastTracebackLine returns the last non-blank line of a traceback, which for
// Python-style tracebacks is the exception type and message.
func lastTracebackLine(traceback string) string {
	if traceback == "" {
		return ""
	}
	lines := strings.Split(traceback, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
