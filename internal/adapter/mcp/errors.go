package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ankoh/dashql-compute/internal/adapter/arrowengine"
	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// userErrors are safe to show to the client verbatim.
var userErrors = []error{
	domain.ErrEmptyQuery,
	domain.ErrNotAllowed,
	domain.ErrMultiStatement,
	domain.ErrParseFailed,
	domain.ErrSelectInto,
	domain.ErrColumnNotFilterable,
	domain.ErrColumnNotSummarizable,
	arrowengine.ErrUnknownField,
	arrowengine.ErrTypeMismatch,
}

// userPgCodes are PostgreSQL error classes caused by the query text itself.
var userPgCodes = map[string]bool{
	"42601": true, // syntax_error
	"42703": true, // undefined_column
	"42P01": true, // undefined_table
	"42883": true, // undefined_function
	"25006": true, // read_only_sql_transaction
}

// sanitizeError maps an error to a client-facing message. Errors that could
// leak server internals are logged and replaced with a generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return op + " failed: " + err.Error()
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "57014" {
			return "query timed out"
		}
		if userPgCodes[pgErr.Code] {
			return op + " failed: " + pgErr.Message
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "query timed out"
	}
	if errors.Is(err, domain.ErrTaskCancelled) || errors.Is(err, context.Canceled) {
		return op + " cancelled"
	}

	logger.Error("tool failed", slog.String("operation", op), slog.String("error", err.Error()))
	return "internal error during " + op + ": check server logs"
}
