package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/fingraph/internal/pipeline"
	"github.com/ziadkadry99/fingraph/internal/query"
)

// handleAsk runs one pipeline turn.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}
	conversationID := request.GetString("conversation_id", "mcp")

	resp := s.pipeline.Ask(ctx, pipeline.Request{
		Question:       question,
		ConversationID: conversationID,
	})
	text := formatResponse(resp, request.GetBool("include_query", false))
	if resp.ErrorKind != "" {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

// handleDescribeSchema returns the schema summary and known companies.
func (s *Server) handleDescribeSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString(s.schema.Describe())
	b.WriteString("\nCOMPANIES:\n")
	for _, e := range s.schema.Entities() {
		fmt.Fprintf(&b, "- %s (%s)", e.ID, e.Name)
		if len(e.Aliases) > 0 {
			fmt.Fprintf(&b, ", also: %s", strings.Join(e.Aliases, ", "))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// handleCheckQuery validates a query without executing it.
func (s *Server) handleCheckQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	violations := s.validator.Validate(text, query.Placeholders())
	if len(violations) == 0 {
		return mcp.NewToolResultText("OK: the query only uses schema labels, relationships and properties."), nil
	}
	var b strings.Builder
	b.WriteString("The query was rejected:\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	return mcp.NewToolResultError(b.String()), nil
}

func formatResponse(resp pipeline.Response, includeQuery bool) string {
	var b strings.Builder
	b.WriteString(resp.AnswerText)
	b.WriteString("\n\n")
	if resp.ErrorKind != "" {
		fmt.Fprintf(&b, "error: %s\n", resp.ErrorKind)
	} else {
		fmt.Fprintf(&b, "confidence: %.2f", resp.Confidence)
		if resp.QueryCategory != "" {
			fmt.Fprintf(&b, " | category: %s", resp.QueryCategory)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "conversation_id: %s\n", resp.ConversationID)
	if includeQuery && resp.GeneratedQuery != "" {
		fmt.Fprintf(&b, "\nquery:\n%s\n", resp.GeneratedQuery)
	}
	return b.String()
}
