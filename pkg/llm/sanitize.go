package llm

import "strings"

// sanitizeReplacer strips common prompt-injection patterns from text before it is
// interpolated into a prompt: role-indicator spoofing, instruction-override
// phrases, and delimiter attacks used to break out of the surrounding
// instruction block.
var sanitizeReplacer = strings.NewReplacer(
	"SYSTEM:", "", "System:", "", "system:", "",
	"ASSISTANT:", "", "Assistant:", "", "assistant:", "",
	"USER:", "", "User:", "", "user:", "",
	"Ignore previous instructions", "", "ignore previous instructions", "",
	"Ignore all previous", "", "ignore all previous", "",
	"Disregard previous", "", "disregard previous", "",
	"---", "", "===", "", "***", "",
	"```", "",
)

// SanitizeInput strips common prompt-injection patterns from untrusted text
// (corpus content, user queries) before it is embedded in a prompt sent to
// a Provider.
func SanitizeInput(input string) string {
	return strings.TrimSpace(sanitizeReplacer.Replace(input))
}
