package intent

import (
	"strings"

	"github.com/ziadkadry99/fingraph/internal/conversation"
)

// Reply answers a non-data intent from the conversation alone.
func Reply(in Intent, question string, state conversation.State) string {
	last, hasLast := state.LastAssistant()
	words := tokenize(question)

	switch in {
	case Confirmation:
		if hasLast {
			return "Yes, that comes straight from the data I found. " + last
		}
		return "I haven't given you an answer yet. Ask me about a company's stock price, performance or related stocks."

	case Clarification:
		if hasLast {
			return "Let me clarify. My last answer was: " + last + " Ask a more specific question if you want a different detail, for example a particular year or a comparison with another company."
		}
		return "Happy to clarify. Could you tell me which company or figure you'd like me to explain?"
	}

	switch {
	case hasAny(words, "hello", "hi", "hey", "greetings") || containsSequence(words, []string{"good", "morning"}):
		return "Hello! I can answer questions about stock prices, yearly performance, correlations and sectors. Try \"What is the latest price of AAPL?\""
	case hasAny(words, "thanks", "thank", "thx"):
		return "You're welcome! Ask me anything else about the companies in the graph."
	case hasAny(words, "bye", "goodbye"):
		return "Goodbye! Come back any time you have a question about the market."
	case containsSequence(words, []string{"what", "can", "you", "do"}) || containsSequence(words, []string{"who", "are", "you"}):
		return "I'm a financial knowledge graph assistant. I can look up prices, compare yearly returns, find correlated or similar stocks, and show influential companies or market communities."
	case hasAny(words, "ok", "okay", "understood", "cool", "great", "nice") || containsSequence(words, []string{"got", "it"}):
		return "Great! Is there anything else you'd like to know about these companies?"
	}
	if hasAny(words, "price", "stock", "share", "ticker", "company", "trading") {
		return "I can help with that. Please name a company or ticker (for example 'Apple', 'AAPL', 'Microsoft' or 'MSFT')."
	}
	return "I'm here to help with stock market questions. Could you ask me something about a specific company?"
}

func hasAny(words []string, options ...string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".")
		for _, o := range options {
			if w == o {
				return true
			}
		}
	}
	return false
}
