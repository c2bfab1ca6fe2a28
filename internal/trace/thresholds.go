package trace

import "strings"

// Latency statuses for a finished trace, judged against per-class bounds.
const (
	StatusGreen  = "green"
	StatusYellow = "yellow"
	StatusRed    = "red"
)

// Command classes with different latency expectations. Navigation commands
// should answer fast, heavy commands generate content, consultation runs a
// full LLM exchange.
const (
	ClassNav          = "nav"
	ClassHeavy        = "heavy"
	ClassConsultation = "consultation"
)

// thresholds holds (green_max, yellow_max) per class in milliseconds.
// Anything above yellow_max is red.
var thresholds = map[string][2]int{
	ClassNav:          {1000, 3000},
	ClassHeavy:        {3000, 8000},
	ClassConsultation: {8000, 20000},
}

var heavyCommands = map[string]bool{
	"/feed":       true,
	"/learn":      true,
	"/test":       true,
	"/assessment": true,
}

// CommandClass buckets a recorded command into a latency class. Callback
// presses are navigation, free-text questions are consultation, everything
// unrecognized defaults to navigation.
func CommandClass(command string) string {
	if command == "" {
		return ClassNav
	}
	cmd := command
	if i := strings.IndexByte(command, ' '); i >= 0 {
		cmd = command[:i]
	}
	switch {
	case strings.HasPrefix(cmd, "cb:"):
		return ClassNav
	case strings.HasPrefix(cmd, "msg:?"):
		return ClassConsultation
	case heavyCommands[cmd]:
		return ClassHeavy
	}
	return ClassNav
}

// LatencyStatus grades a total duration against its class bounds.
func LatencyStatus(totalMs int, class string) string {
	bounds, ok := thresholds[class]
	if !ok {
		bounds = thresholds[ClassNav]
	}
	switch {
	case totalMs <= bounds[0]:
		return StatusGreen
	case totalMs <= bounds[1]:
		return StatusYellow
	}
	return StatusRed
}

// IsRed reports whether a command's duration lands above its yellow bound.
func IsRed(command string, totalMs int) bool {
	return LatencyStatus(totalMs, CommandClass(command)) == StatusRed
}
