package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// callState holds per-request timing and span data.
type callState struct {
	start time.Time
	span  trace.Span
}

// toolCalls tracks in-flight tool calls by JSON-RPC request id.
type toolCalls struct {
	logger *slog.Logger
	tracer trace.Tracer
	inst   port.Instrumentation
	calls  sync.Map // id -> *callState
}

// ToolCallHooks creates MCP hooks that log tool calls and record OTel spans and
// tool durations. A nil tracer or inst records nothing.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	tc := &toolCalls{logger: logger, tracer: tracer, inst: inst}

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(tc.before)
	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		var err error
		if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
			err = fmt.Errorf("tool %s returned error", req.Params.Name)
		}
		tc.finish(ctx, id, req.Params.Name, err)
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		req, ok := message.(*mcp.CallToolRequest)
		if !ok {
			return
		}
		tc.finish(ctx, id, req.Params.Name, err)
	})
	return hooks
}

func (tc *toolCalls) before(ctx context.Context, id any, req *mcp.CallToolRequest) {
	_, span := tc.tracer.Start(ctx, "mcp.tool.call",
		trace.WithAttributes(attribute.String("mcp.tool", req.Params.Name)),
	)
	tc.calls.Store(id, &callState{start: time.Now(), span: span})
}

func (tc *toolCalls) finish(ctx context.Context, id any, tool string, err error) {
	v, ok := tc.calls.LoadAndDelete(id)
	if !ok {
		return
	}
	state := v.(*callState)
	duration := time.Since(state.start)

	attrs := []slog.Attr{
		slog.String("rpc.method", "tools/call"),
		slog.String("mcp.tool", tool),
		slog.Duration("duration", duration),
		slog.Bool("error", err != nil),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error.message", err.Error()))
		state.span.RecordError(err)
		state.span.SetStatus(codes.Error, err.Error())
	}
	tc.logger.LogAttrs(ctx, level, "tool call", attrs...)
	tc.inst.RecordToolDuration(ctx, float64(duration.Milliseconds()))
	state.span.End()
}
