package llm

import (
	"fmt"
	"strings"
)

// MaxBodyChars bounds how much of a change description is sent per call.
const MaxBodyChars = 500

const classifierSystemPrompt = `You are a precise commit and pull request classifier.
Return valid JSON only, with exactly these keys:

{
  "label": "feature|fix|refactor|docs|test|other",
  "confidence": float between 0 and 1,
  "rationale": "1-2 concise sentences, no code blocks."
}

Decision hierarchy:
1. fix -> resolves a failure, error, crash, regression, or CI breakage; error handling.
2. feature -> adds new capability, new API, added support, user-visible functionality.
3. refactor -> restructures, renames or removes code/config without changing behavior.
4. docs -> documentation, comments, README, or typos only.
5. test -> adds or modifies tests.
6. other -> everything else.

Always output valid JSON and ignore unrelated text or boilerplate.`

func SystemPrompt() string {
	return classifierSystemPrompt
}

func buildUserPrompt(title, body string) string {
	return fmt.Sprintf(`Classify this change.

Change:
---
Title: %s
Body: %s
---
`, strings.TrimSpace(title), truncateBody(body))
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return "No description"
	}
	runes := []rune(body)
	if len(runes) > MaxBodyChars {
		return string(runes[:MaxBodyChars])
	}
	return body
}
