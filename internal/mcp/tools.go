package mcp

import "github.com/mark3labs/mcp-go/mcp"

// askTool defines the ask_financial_graph MCP tool.
var askTool = mcp.NewTool("ask_financial_graph",
	mcp.WithDescription("Ask a natural-language question about stock prices, yearly performance, correlations, sectors or market communities. Returns an answer with a confidence score."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The question, e.g. \"How did NVDA perform in 2023?\""),
	),
	mcp.WithString("conversation_id",
		mcp.Description("Reuse an id to ask follow-up questions such as \"what about 2022?\""),
	),
	mcp.WithBoolean("include_query",
		mcp.Description("Include the generated graph query in the result (default false)"),
	),
)

// describeSchemaTool defines the describe_schema MCP tool.
var describeSchemaTool = mcp.NewTool("describe_schema",
	mcp.WithDescription("Describe the graph schema: node labels, relationship types, properties, sectors and the known companies."),
)

// checkQueryTool defines the check_query MCP tool.
var checkQueryTool = mcp.NewTool("check_query",
	mcp.WithDescription("Check a read-only Cypher query against the graph schema without running it."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("The Cypher query text"),
	),
)
