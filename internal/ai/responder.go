package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-tandem-backend/internal/engine"
)

// Responder generates the AI partner's next conversational turn in German,
// pitched at the conversation's CEFR level.
type Responder struct {
	Client *Client

	// MaxHistoryTurns caps how much transcript goes into the prompt.
	// Zero means the default of 20.
	MaxHistoryTurns int
}

// Respond produces the partner's reply to the latest learner turn. The
// transcript is passed oldest-first; level is a CEFR code like "A2".
func (r *Responder) Respond(ctx context.Context, transcript []engine.Turn, level string) (string, error) {
	reply, err := r.Client.generate(ctx, replyPrompt(transcript, level, r.maxHistory()))
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", errors.New("ai: empty reply")
	}
	return reply, nil
}

func (r *Responder) maxHistory() int {
	if r.MaxHistoryTurns > 0 {
		return r.MaxHistoryTurns
	}
	return 20
}

func replyPrompt(transcript []engine.Turn, level string, maxTurns int) string {
	if len(transcript) > maxTurns {
		transcript = transcript[len(transcript)-maxTurns:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly German conversation partner chatting with a learner at CEFR level %s.\n", level)
	b.WriteString("Keep your reply short (one to three sentences), natural, and entirely in German. ")
	b.WriteString("Match the vocabulary and grammar complexity of the level. Ask a light follow-up question when it fits.\n\n")
	b.WriteString("Conversation so far:\n")
	for _, t := range transcript {
		speaker := "Partner"
		if t.Author == engine.AuthorLearner {
			speaker = "Learner"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Text)
	}
	b.WriteString("\nPartner:")
	return b.String()
}
