package ledger

import "errors"

var (
	// ErrNegativeValue aborts a batch whose replay would drive a value below zero.
	ErrNegativeValue = errors.New("derived value would go negative")

	// ErrUnsupported marks a log the applier does not handle. Such logs are skipped.
	ErrUnsupported = errors.New("unsupported log")

	// ErrInvalidOrdering is returned when a page of logs is not in replay order.
	ErrInvalidOrdering = errors.New("logs are not in replay order")

	// ErrNoWindow means no logs have been ingested yet, so there is nothing to seed from.
	ErrNoWindow = errors.New("log window not initialized")
)
