package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Suggester produces one corrected version of a learner sentence the learner
// could not fix on their own.
type Suggester struct {
	Client *Client
}

// Suggest returns a single corrected German sentence for the learner's
// original wording. The result is plain text with no commentary.
func (s *Suggester) Suggest(ctx context.Context, original string) (string, error) {
	prompt := suggestionPrompt(original)
	out, err := s.Client.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	out = firstLine(out)
	if out == "" {
		return "", errors.New("ai: empty suggestion")
	}
	return out, nil
}

func suggestionPrompt(original string) string {
	var b strings.Builder
	b.WriteString("A German learner wrote this sentence and could not correct it after feedback:\n")
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(original))
	b.WriteString("Rewrite it as one natural, correct German sentence that keeps the learner's meaning. ")
	b.WriteString("Reply with ONLY the corrected sentence, no explanation, no quotes.\n")
	return b.String()
}

// firstLine trims the output to its first non-empty line; models sometimes
// append commentary despite instructions.
func firstLine(s string) string {
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			return strings.Trim(ln, `"`)
		}
	}
	return ""
}
