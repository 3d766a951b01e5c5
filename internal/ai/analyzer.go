package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-tandem-backend/internal/engine"
)

// ErrMalformedVerdict is returned when the model's analysis response cannot
// be parsed. Callers must treat it as a failed analysis, never as "no errors
// found".
var ErrMalformedVerdict = errors.New("ai: malformed analysis verdict")

// Analyzer asks the model to check one learner sentence for grammar,
// vocabulary, and pronunciation problems and returns a structured verdict.
type Analyzer struct {
	Client *Client
}

// verdictPayload is the strict JSON shape the analysis prompt demands.
type verdictPayload struct {
	HasErrors     bool              `json:"has_errors"`
	Grammar       bool              `json:"grammar"`
	Vocabulary    bool              `json:"vocabulary"`
	Pronunciation bool              `json:"pronunciation"`
	Corrections   map[string]string `json:"corrections"`
	WordsToStudy  []string          `json:"words_for_practice"`
}

// Analyze runs the linguistic check for one turn. Origin controls whether
// pronunciation feedback is requested (only meaningful for transcribed
// speech).
func (a *Analyzer) Analyze(ctx context.Context, text string, origin engine.Origin) (engine.Verdict, error) {
	raw, err := a.Client.generate(ctx, analysisPrompt(text, origin))
	if err != nil {
		return engine.Verdict{}, err
	}
	return parseVerdict(raw)
}

func analysisPrompt(text string, origin engine.Origin) string {
	var b strings.Builder
	b.WriteString("You are a German language teacher checking a learner's sentence.\n")
	b.WriteString("Sentence: ")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\n")
	b.WriteString("Check grammar and vocabulary.")
	if origin == engine.OriginVoice {
		b.WriteString(" The sentence was transcribed from speech; also flag words the learner likely mispronounced.")
	}
	b.WriteString("\n")
	b.WriteString("Reply with ONLY a JSON object, no prose, in exactly this shape:\n")
	b.WriteString(`{"has_errors": bool, "grammar": bool, "vocabulary": bool, "pronunciation": bool, ` +
		`"corrections": {"grammar": "short correction in German, or omit", "vocabulary": "...", "pronunciation": "..."}, ` +
		`"words_for_practice": ["optional", "vocabulary"]}` + "\n")
	b.WriteString("Set has_errors to false and leave corrections empty when the sentence is fine.\n")
	return b.String()
}

// parseVerdict converts the model's raw JSON into an engine verdict. Any
// payload that does not parse, or that is inconsistent (error flags without
// has_errors), is rejected with ErrMalformedVerdict.
func parseVerdict(raw string) (engine.Verdict, error) {
	var p verdictPayload
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return engine.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if (p.Grammar || p.Vocabulary || p.Pronunciation) && !p.HasErrors {
		return engine.Verdict{}, fmt.Errorf("%w: category flagged without has_errors", ErrMalformedVerdict)
	}

	v := engine.Verdict{
		HasErrors:        p.HasErrors,
		Grammar:          p.Grammar,
		Vocabulary:       p.Vocabulary,
		Pronunciation:    p.Pronunciation,
		WordsForPractice: p.WordsToStudy,
	}
	if len(p.Corrections) > 0 {
		v.Corrections = make(map[engine.Category]string, len(p.Corrections))
		for k, d := range p.Corrections {
			if d == "" {
				continue
			}
			switch engine.Category(k) {
			case engine.CategoryGrammar, engine.CategoryVocabulary, engine.CategoryPronunciation:
				v.Corrections[engine.Category(k)] = d
			default:
				return engine.Verdict{}, fmt.Errorf("%w: unknown category %q", ErrMalformedVerdict, k)
			}
		}
	}
	return v, nil
}
