package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ziadkadry99/fingraph/internal/entity"
	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/llm"
	"github.com/ziadkadry99/fingraph/internal/query"
)

// ErrorKind is the structured failure reported with a turn.
type ErrorKind string

const (
	ErrIntentClassification ErrorKind = "intent_classification_failure"
	ErrEntityNotFound       ErrorKind = "entity_not_found"
	ErrSchemaViolation      ErrorKind = "schema_violation"
	ErrExecution            ErrorKind = "execution_error"
	ErrTimeout              ErrorKind = "timeout"
	ErrUpstreamService      ErrorKind = "upstream_service_error"
	ErrInvalidRequest       ErrorKind = "invalid_request"
)

// kindOf maps a stage error onto an ErrorKind. The turn context is checked
// first so that a stage failing because the turn ran out of time is
// reported as a timeout.
func kindOf(turnCtx context.Context, err error) ErrorKind {
	var (
		verr *query.ViolationError
		xerr *graphstore.ExecutionError
	)
	switch {
	case turnCtx.Err() != nil:
		return ErrTimeout
	case errors.Is(err, entity.ErrNotFound):
		return ErrEntityNotFound
	case errors.As(err, &verr), errors.Is(err, query.ErrSchemaViolation):
		return ErrSchemaViolation
	case errors.As(err, &xerr):
		return ErrExecution
	case errors.Is(err, llm.ErrUpstream):
		return ErrUpstreamService
	}
	// Per-call model timeouts and anything unrecognised.
	return ErrUpstreamService
}

// message is the user-facing text for a terminal error.
func message(kind ErrorKind, entityID string) string {
	switch kind {
	case ErrInvalidRequest:
		return "I'm here to help! Please ask me a question about stock prices, performance or related companies."
	case ErrEntityNotFound:
		return "I couldn't tell which company you mean. Please mention a company name or ticker symbol, for example 'Apple stock' or 'AAPL'."
	case ErrSchemaViolation:
		return "I couldn't turn that into a question the market data can answer. Try rephrasing it, for example 'What is the latest price of MSFT?' or 'Which stocks are correlated with NVDA?'."
	case ErrExecution:
		if entityID != "" {
			return fmt.Sprintf("No data found for %s. The market data could not be read right now, please try again in a moment.", entityID)
		}
		return "No data found. The market data could not be read right now, please try again in a moment."
	case ErrTimeout:
		return "That took too long to answer. Please try again, or ask a narrower question."
	case ErrUpstreamService:
		return "I'm having trouble reaching the language service right now. Please try again in a moment."
	}
	return "Something went wrong while answering. Please try again."
}
