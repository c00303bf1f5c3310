package domain

import "errors"

var (
	ErrColumnNotSummarizable = errors.New("column cannot be summarized")
	ErrColumnNotFilterable   = errors.New("column cannot be cross-filtered")
	ErrMissingStatsFields    = errors.New("column stats fields are not computed")
	ErrResultLayout          = errors.New("unexpected result layout")
	ErrTaskCancelled         = errors.New("task cancelled")

	ErrMissingDataFrame     = errors.New("computation has no data frame")
	ErrMissingTableSummary  = errors.New("table summary is not computed")
	ErrMissingFilterTable   = errors.New("no filter table is installed")
	ErrSystemColumnsPresent = errors.New("system columns are already computed")
)
