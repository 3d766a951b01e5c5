// Package langid implements the deterministic language heuristic used to
// decide whether a learner utterance is German or English.
//
// This is intentionally not a statistical language-ID model. The practice flow
// depends on an exact, reproducible tie-break for very short utterances, so the
// heuristic is a fixed two-stage check:
//
//  1. Any German-specific diacritic (ä/ö/ü/ß, either case) classifies the text
//     as German immediately.
//  2. Otherwise tokens are matched against two closed-class function-word
//     lists. English wins only with a strictly higher match count; ties and
//     signal-free inputs classify as German, reflecting the app's bias toward
//     the target language.
package langid

import (
	"strings"

	"golang.org/x/text/language"
)

// germanDiacritics are the high-confidence German signals checked first.
// ẞ is the capital form of ß (rare, but typeable).
const germanDiacritics = "äöüßÄÖÜẞ"

// trailingPunct is stripped from the end of each token before list matching.
const trailingPunct = ".,!?;:\"'”’)…«»"

// germanFunctionWords is a fixed closed-class list of common German function
// words. Lowercase; tokens are lowercased before lookup.
var germanFunctionWords = map[string]struct{}{
	"der": {}, "die": {}, "das": {}, "und": {}, "ist": {}, "ich": {},
	"nicht": {}, "ein": {}, "eine": {}, "einen": {}, "zu": {}, "den": {},
	"mit": {}, "auf": {}, "im": {}, "dem": {}, "sich": {}, "sie": {},
	"er": {}, "es": {}, "wir": {}, "ihr": {}, "du": {}, "war": {},
	"wie": {}, "auch": {}, "aber": {}, "oder": {}, "wenn": {}, "noch": {},
	"nach": {}, "bei": {}, "aus": {}, "kein": {}, "keine": {}, "habe": {},
	"haben": {}, "bin": {}, "bist": {}, "sind": {}, "sein": {}, "mein": {},
	"meine": {}, "dein": {}, "ja": {}, "nein": {}, "bitte": {}, "danke": {},
	"heute": {}, "gerne": {}, "sehr": {},
}

// englishFunctionWords is the English counterpart. A handful of words appear
// on both lists ("in", "die", "was" do not — the lists were chosen to keep
// genuinely ambiguous words off the English side).
var englishFunctionWords = map[string]struct{}{
	"the": {}, "and": {}, "is": {}, "i": {}, "a": {}, "an": {}, "to": {},
	"of": {}, "that": {}, "it": {}, "you": {}, "for": {}, "on": {},
	"with": {}, "are": {}, "this": {}, "have": {}, "be": {}, "at": {},
	"by": {}, "not": {}, "but": {}, "from": {}, "they": {}, "we": {},
	"my": {}, "your": {}, "his": {}, "her": {}, "can": {}, "will": {},
	"would": {}, "like": {}, "want": {}, "please": {}, "what": {},
	"how": {}, "do": {}, "does": {}, "did": {}, "yes": {}, "no": {},
	"hello": {}, "thanks": {},
}

// Classify reports the detected language of text as either language.German or
// language.English. It is deterministic, synchronous, and side-effect free.
func Classify(text string) language.Tag {
	if strings.ContainsAny(text, germanDiacritics) {
		return language.German
	}
	german, english := 0, 0
	for _, tok := range tokens(text) {
		if _, ok := germanFunctionWords[tok]; ok {
			german++
		}
		if _, ok := englishFunctionWords[tok]; ok {
			english++
		}
	}
	// German is the favored classification: English must strictly win.
	if english > german {
		return language.English
	}
	return language.German
}

// EnglishFunctionWords counts tokens of text that match the closed-class
// English list. The mismatch flow uses this to flag expected-German input that
// leans on English even when Classify still answers German.
func EnglishFunctionWords(text string) int {
	n := 0
	for _, tok := range tokens(text) {
		if _, ok := englishFunctionWords[tok]; ok {
			n++
		}
	}
	return n
}

// tokens splits on whitespace, strips trailing punctuation per token, and
// lowercases for list lookup. Empty tokens (pure punctuation) are dropped.
func tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.TrimRight(f, trailingPunct)
		if t == "" {
			continue
		}
		out = append(out, strings.ToLower(t))
	}
	return out
}
