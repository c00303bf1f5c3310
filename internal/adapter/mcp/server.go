package mcp

import (
	"log/slog"

	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/ankoh/dashql-compute/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the analysis tools and logging hooks.
func NewServer(version string, analysis *service.AnalysisService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, analysis, logger)

	return s
}
