package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Renderer turns a wrong-language utterance into the natural German sentence
// the learner practices against in the mismatch sub-flow.
type Renderer struct {
	Client *Client
}

// Render returns the German rendering of the learner's utterance, preserving
// intent rather than translating word for word.
func (r *Renderer) Render(ctx context.Context, utterance string) (string, error) {
	out, err := r.Client.generate(ctx, renderPrompt(utterance))
	if err != nil {
		return "", err
	}
	out = firstLine(out)
	if out == "" {
		return "", errors.New("ai: empty rendering")
	}
	return out, nil
}

func renderPrompt(utterance string) string {
	var b strings.Builder
	b.WriteString("A German learner said the following in the wrong language during practice:\n")
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(utterance))
	b.WriteString("Give the natural German sentence a native speaker would use to express the same intent. ")
	b.WriteString("Reply with ONLY that sentence, no explanation, no quotes.\n")
	return b.String()
}
