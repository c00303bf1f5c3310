package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "dashql-compute"

// Tool descriptions
const (
	descAnalyzeQuery = "Run a read-only SQL query and summarize every column of its result table. " +
		"Numeric, boolean and temporal columns are summarized as 16-bin histograms with min/max; " +
		"text columns and list columns list their 32 most frequent values with counts and null/distinct counts. " +
		"Use this to understand the shape of a result before reading rows. " +
		"Pass filters to cross-filter the table: each entry brushes a histogram column by a range of bin positions " +
		"and the report then also carries the filtered row count and filtered summaries of every other column."

	descAnalyzeSQL = "SQL query to analyze (SELECT statements only)"

	descAnalyzeFilters = "Optional cross filters: an object mapping histogram column names to a [from, to] pair " +
		"of fractional bin positions between 0 and 16, both inclusive"

	descSortQuery = "Run a read-only SQL query, sort its result table in memory and return the first rows. " +
		"Sorting happens on the fetched result, so the query itself needs no ORDER BY."

	descSortOrderBy = "Sort constraints in priority order: objects with field, ascending and nulls_first"

	descSortLimit = "Maximum number of rows to return (0 or omitted returns every fetched row)"
)

type analyzeArgs struct {
	SQL     string                `json:"sql"`
	Filters map[string][2]float64 `json:"filters"`
}

type sortArgs struct {
	SQL     string                     `json:"sql"`
	OrderBy []domain.OrderByConstraint `json:"order_by"`
	Limit   int                        `json:"limit"`
}

func RegisterTools(s *server.MCPServer, analysis *service.AnalysisService, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("analyze_query",
			mcp.WithDescription(descAnalyzeQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descAnalyzeSQL),
			),
			mcp.WithObject("filters",
				mcp.Description(descAnalyzeFilters),
			),
		),
		analyzeQueryHandler(analysis, logger),
	)

	s.AddTool(
		mcp.NewTool("sort_query",
			mcp.WithDescription(descSortQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("SQL query whose result is sorted (SELECT statements only)"),
			),
			mcp.WithArray("order_by",
				mcp.Required(),
				mcp.Description(descSortOrderBy),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field":       map[string]any{"type": "string"},
						"ascending":   map[string]any{"type": "boolean"},
						"nulls_first": map[string]any{"type": "boolean"},
					},
					"required": []string{"field"},
				}),
			),
			mcp.WithNumber("limit",
				mcp.Description(descSortLimit),
			),
		),
		sortQueryHandler(analysis, logger),
	)
}

func analyzeQueryHandler(analysis *service.AnalysisService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args analyzeArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if args.SQL == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = service.WithToolName(ctx, "analyze_query")
		report, err := analysis.Analyze(ctx, service.AnalyzeRequest{SQL: args.SQL, Filters: args.Filters})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "analysis")), nil
		}

		return jsonResult(report)
	}
}

func sortQueryHandler(analysis *service.AnalysisService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args sortArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if args.SQL == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}
		if len(args.OrderBy) == 0 {
			return mcp.NewToolResultError("order_by needs at least one constraint"), nil
		}
		if args.Limit < 0 {
			return mcp.NewToolResultError("limit must not be negative"), nil
		}

		ctx = service.WithToolName(ctx, "sort_query")
		sorted, err := analysis.Sort(ctx, service.SortRequest{SQL: args.SQL, Constraints: args.OrderBy, Limit: args.Limit})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "sort")), nil
		}

		return jsonResult(sorted)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
