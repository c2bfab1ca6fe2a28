package classify

import (
	"regexp"
	"strings"

	"github.com/lumia-chat/sentinel/internal/models"
)

// Result is the classifier verdict for one error signature. Severity and
// Action stay empty for unknown errors so they keep surfacing in escalation
// until someone writes a rule.
type Result struct {
	Category string
	Severity string
	Action   string
}

type rule struct {
	category string
	severity string
	re       *regexp.Regexp
	action   string
}

// Rules are ordered: specific subsystems first, generic database patterns
// last, because "MCP connection failed" must not land in db just for
// containing "connection". First match wins.
var rules = []rule{
	// conversation flow
	{models.CategoryFlow, models.SeverityL1,
		regexp.MustCompile(`(?i)no handler for state|dead.?end|unhandled.*state`),
		"Reset the user to mode select"},
	{models.CategoryFlow, models.SeverityL1,
		regexp.MustCompile(`(?i)Unstick.*Recover|stuck.*state|state.*stuck`),
		"Recovery detector handles this"},
	{models.CategoryFlow, models.SeverityL2,
		regexp.MustCompile(`(?i)state.*corrupt|state.*mismatch|state.*sync`),
		"PR: sync conversation state with DB"},

	// LLM provider, before db ("claude timeout" is not a db timeout)
	{models.CategoryLLMAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)rate_limit|RateLimitError|status.?code.*429`),
		"Retry with backoff"},
	{models.CategoryLLMAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)overloaded|OverloadedError|status.?code.*529`),
		"Degrade to cached content"},
	{models.CategoryLLMAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)APITimeoutError|anthropic.*timeout|claude.*timeout`),
		"Retry once, then fall back"},
	{models.CategoryLLMAPI, models.SeverityL2,
		regexp.MustCompile(`(?i)invalid.*response.*claude|json.*decode.*anthropic`),
		"PR: fix response parsing"},

	// chat platform delivery
	{models.CategoryMessagingAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)ConflictError|conflict.*polling|Failed to fetch updates`),
		"Transient, resolves after redeploy"},
	{models.CategoryMessagingAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)RetryAfter|flood.?control`),
		"Delivery layer backs off on its own"},
	{models.CategoryMessagingAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)bot was blocked|Forbidden.*blocked|user.*deactivated`),
		"Skip and mark the user"},
	{models.CategoryMessagingAPI, models.SeverityL1,
		regexp.MustCompile(`(?i)chat not found|Bad Request.*chat`),
		"Skip and log"},
	{models.CategoryMessagingAPI, models.SeverityL2,
		regexp.MustCompile(`(?i)message.*too long|MESSAGE_TOO_LONG`),
		"PR: add text truncation"},

	// knowledge backend, before db (MCP connection fail is not a db fail)
	{models.CategoryKnowledge, models.SeverityL3,
		regexp.MustCompile(`(?i)MCP.*connection.*fail|MCP.*connect.*error|MCP.*refused`),
		"Retry 3x, fall back without knowledge"},
	{models.CategoryKnowledge, models.SeverityL1,
		regexp.MustCompile(`(?i)MCP.*timeout|knowledge.*timeout`),
		"Fall back without knowledge context"},
	{models.CategoryKnowledge, models.SeverityL2,
		regexp.MustCompile(`(?i)MCP.*invalid.*response|MCP.*parse`),
		"PR: fix knowledge response parsing"},

	// background jobs, before db (scheduler errors contain generic words)
	{models.CategoryScheduler, models.SeverityL1,
		regexp.MustCompile(`(?i)\[Scheduler\].*error|\[PreGen\].*(?:timeout|failed)`),
		"Retries next cycle"},
	{models.CategoryScheduler, models.SeverityL4,
		regexp.MustCompile(`(?i)scheduler.*stuck|scheduler.*not.*start|asyncio.*deadlock`),
		"Escalate: check hosting logs"},

	// database, last: the patterns are generic
	{models.CategoryDB, models.SeverityL3,
		regexp.MustCompile(`(?i)too many connections|pool.*exhaust|connection pool`),
		"Restart the service to free the pool"},
	{models.CategoryDB, models.SeverityL3,
		regexp.MustCompile(`(?i)connection.*timed?\s*out|connect.*refused|ConnectionRefusedError`),
		"Restart and check database status"},
	{models.CategoryDB, models.SeverityL2,
		regexp.MustCompile(`(?i)statement.*timeout|canceling statement due to`),
		"PR: optimize query or add index"},
	{models.CategoryDB, models.SeverityL4,
		regexp.MustCompile(`(?i)relation.*does not exist|UndefinedTableError`),
		"Escalate: run the missing migration"},
}

// loggerHints map a logger-name prefix to a category when no pattern matched.
// Ordered so lookups are deterministic.
var loggerHints = []struct {
	prefix   string
	category string
}{
	{"core.flow", models.CategoryFlow},
	{"core.tracing", models.CategoryFlow},
	{"db.", models.CategoryDB},
	{"asyncpg", models.CategoryDB},
	{"clients.llm", models.CategoryLLMAPI},
	{"anthropic", models.CategoryLLMAPI},
	{"aiogram", models.CategoryMessagingAPI},
	{"clients.knowledge", models.CategoryKnowledge},
	{"core.scheduler", models.CategoryScheduler},
	{"engines.feed", models.CategoryScheduler},
}

// Classify matches one error against the rule table, then the logger hints,
// and falls back to unknown. Pure function over the inputs.
func Classify(loggerName, message, traceback string) Result {
	searchText := message + "\n" + traceback

	for _, r := range rules {
		if r.re.MatchString(searchText) {
			return Result{Category: r.category, Severity: r.severity, Action: r.action}
		}
	}

	for _, h := range loggerHints {
		if strings.HasPrefix(loggerName, h.prefix) {
			return Result{Category: h.category, Severity: models.SeverityL1, Action: "Check the error log"}
		}
	}

	return Result{Category: models.CategoryUnknown}
}
