// Package intent decides whether a question needs the graph or can be
// answered from the conversation itself.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ziadkadry99/fingraph/internal/conversation"
	"github.com/ziadkadry99/fingraph/internal/llm"
)

var tracer = otel.Tracer("fingraph.intent")

// Intent is what the user wants from a turn.
type Intent string

const (
	DataQuery      Intent = "data_query"
	Conversational Intent = "conversational"
	Clarification  Intent = "clarification"
	Confirmation   Intent = "confirmation"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case DataQuery, Conversational, Clarification, Confirmation:
		return true
	}
	return false
}

// ErrClassification is wrapped by the soft error returned when the model
// fallback fails. The accompanying intent is always DataQuery.
var ErrClassification = errors.New("intent classification failed")

// shortQuestionWords is the length up to which single-word patterns count.
const shortQuestionWords = 4

// Pattern sets in priority order. Multi-word entries match as whole-word
// sequences anywhere; single words only in short questions. In longer
// questions that carry a data signal the clarification and conversational
// sets are skipped: "thank you, what is the MSFT price in 2023?" asks for
// data.
var (
	confirmationPatterns = []string{
		"are you sure", "are u sure", "you sure", "is that right", "is that correct",
		"is this correct", "really", "seriously", "for real",
	}
	clarificationPatterns = []string{
		"what do you mean", "what does that mean", "what does this mean", "explain that",
		"can you explain", "can you repeat", "say that again", "what was that",
		"i don't understand", "i dont understand", "explain", "clarify", "meaning",
	}
	conversationalPatterns = []string{
		"thank you", "thanks a lot", "got it", "good morning", "good afternoon",
		"good evening", "who are you", "what can you do", "how are you",
		"thanks", "thank", "thx", "ok", "okay", "understood", "cool", "great", "nice",
		"hello", "hi", "hey", "greetings", "bye", "goodbye",
	}
	dataQueryPatterns = []string{
		"what is", "what are", "what was", "what were", "show me", "tell me", "give me",
		"how did", "how much", "how has", "what about", "how about",
		"price", "prices", "stock", "stocks", "share", "shares", "ticker", "company", "companies",
		"trading", "volume", "outperform", "outperformed", "compare", "trend", "correlated",
		"correlation", "similar", "influential", "pagerank", "community", "group", "sector",
		"vs", "versus", "better", "worse", "which", "when", "where", "return", "performance",
		"perform", "performed",
	}
)

// Options configures a Classifier.
type Options struct {
	// Timeout bounds the model fallback call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Classifier maps questions to intents: fixed phrase sets first, then a
// single model call for anything they do not cover.
type Classifier struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClassifier returns a classifier. provider may be nil, in which case
// unmatched questions default to DataQuery.
func NewClassifier(provider llm.Provider, opts Options) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, timeout: opts.Timeout, logger: logger}
}

// Classify returns the intent of question. On fallback failure it returns
// DataQuery together with an error wrapping ErrClassification; callers
// should log it and carry on.
func (c *Classifier) Classify(ctx context.Context, question string, state conversation.State) (Intent, error) {
	ctx, span := tracer.Start(ctx, "intent.classify")
	defer span.End()

	if in, ok := MatchPatterns(question); ok {
		span.SetAttributes(attribute.String("intent", string(in)), attribute.String("source", "pattern"))
		return in, nil
	}
	if c.provider == nil {
		return DataQuery, nil
	}

	in, err := c.ask(ctx, question, state)
	if err != nil {
		span.RecordError(err)
		return DataQuery, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	span.SetAttributes(attribute.String("intent", string(in)), attribute.String("source", "llm"))
	return in, nil
}

// MatchPatterns applies the deterministic pass.
func MatchPatterns(question string) (Intent, bool) {
	words := tokenize(question)
	if len(words) == 0 {
		return "", false
	}
	short := len(words) <= shortQuestionWords
	data := !short && hasDataSignal(question, words)
	for _, set := range []struct {
		intent   Intent
		patterns []string
	}{
		{Confirmation, confirmationPatterns},
		{Clarification, clarificationPatterns},
		{Conversational, conversationalPatterns},
		{DataQuery, dataQueryPatterns},
	} {
		if data && (set.intent == Clarification || set.intent == Conversational) {
			continue
		}
		for _, p := range set.patterns {
			pw := strings.Fields(p)
			if len(pw) == 1 && set.intent != DataQuery && !short {
				continue
			}
			if containsSequence(words, pw) {
				return set.intent, true
			}
		}
	}
	return "", false
}

var (
	dataSignalWords = map[string]bool{
		"price": true, "prices": true, "stock": true, "stocks": true, "share": true, "shares": true,
		"perform": true, "performed": true, "performance": true, "return": true, "returns": true,
		"volume": true, "trend": true, "correlated": true, "correlation": true, "influential": true,
		"sector": true, "pagerank": true,
	}
	yearRe   = regexp.MustCompile(`^(19|20)\d{2}$`)
	tickerRe = regexp.MustCompile(`^\$?[A-Z]{2,5}$`)
)

// hasDataSignal reports a data word, a year or an upper-case ticker.
func hasDataSignal(question string, words []string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".'")
		if dataSignalWords[w] || yearRe.MatchString(w) {
			return true
		}
	}
	for _, f := range strings.FieldsFunc(question, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '$'
	}) {
		if tickerRe.MatchString(f) && f != "OK" {
			return true
		}
	}
	return false
}

func (c *Classifier) ask(ctx context.Context, question string, state conversation.State) (Intent, error) {
	var b strings.Builder
	b.WriteString("Classify the user's latest message as exactly one of:\n")
	b.WriteString("- data_query: needs data from the stock database (e.g. \"What is the price of MSFT?\")\n")
	b.WriteString("- conversational: small talk (e.g. \"thanks\", \"hello\")\n")
	b.WriteString("- clarification: asks about the previous answer (e.g. \"what do you mean?\")\n")
	b.WriteString("- confirmation: asks to confirm the previous answer (e.g. \"are you sure?\")\n\n")
	if recent := state.Recent(2); len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, truncate(m.Text, 200))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Message: %s\n\nRespond with ONLY the label.", question)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.provider.Complete(callCtx, llm.CompletionRequest{
		Messages:  llm.Prompt("", b.String()),
		MaxTokens: 20,
		Purpose:   llm.PurposeClassify,
	})
	if err != nil {
		return "", err
	}
	label := Intent(strings.Trim(strings.ToLower(strings.TrimSpace(resp.Content)), "\"'`.:"))
	if !label.Valid() {
		return "", fmt.Errorf("unrecognised label %q", resp.Content)
	}
	return label, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '$' && r != '.' && r != '-'
	})
}

func containsSequence(words, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(words); i++ {
		for j, w := range seq {
			if strings.Trim(words[i+j], ".") != w {
				continue outer
			}
		}
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
