package model

import "errors"

// Error categories. Every concrete error below matches exactly one of these
// with errors.Is.
var (
	// ErrConfig marks bad initialization or configuration parameters. Fatal: the
	// operator must fix the input and retry.
	ErrConfig = errors.New("config error")

	// ErrAccounting marks share/fund shortfalls. Rejected locally and never
	// partially applied.
	ErrAccounting = errors.New("accounting error")

	// ErrVenue marks quote and swap failures. Retried by the next poll.
	ErrVenue = errors.New("venue error")

	// ErrConcurrency marks a re-entrant cycle attempt. Not retried within a poll.
	ErrConcurrency = errors.New("concurrency error")
)

var (
	ErrAlreadyInitialized = classified("vault already initialized", ErrConfig)
	ErrNotInitialized     = classified("vault not initialized", ErrConfig)
	ErrInvalidConfig      = classified("invalid vault config", ErrConfig)
	ErrUnauthorized       = classified("caller is not the vault admin", ErrConfig)

	ErrInvalidAmount      = classified("invalid amount", ErrAccounting)
	ErrInvalidHolder      = classified("invalid holder", ErrAccounting)
	ErrInsufficientShares = classified("insufficient shares", ErrAccounting)
	ErrInsufficientFunds  = classified("insufficient funds", ErrAccounting)
	ErrOverflow           = classified("amount overflow", ErrAccounting)

	ErrQuoteUnavailable = classified("quote unavailable", ErrVenue)
	ErrNoRoute          = classified("no route", ErrVenue)
	ErrSlippageExceeded = classified("slippage exceeded", ErrVenue)
	ErrQuoteExpired     = classified("quote expired", ErrVenue)
	ErrQuoteReused      = classified("quote already submitted", ErrVenue)
	ErrSubmissionFailed = classified("submission failed", ErrVenue)
	// ErrOutcomeUnknown is returned when a submission timed out and the venue
	// could not be asked whether it landed. The quote must be reconciled before
	// any further conversion.
	ErrOutcomeUnknown = classified("swap outcome unknown", ErrVenue)

	ErrCycleAlreadyInFlight = classified("cycle already in flight", ErrConcurrency)
	ErrInvalidTransition    = classified("invalid cycle transition", ErrConcurrency)
)

type classifiedError struct {
	msg   string
	class error
}

func classified(msg string, class error) error {
	return &classifiedError{msg: msg, class: class}
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Is(target error) bool { return target == e.class }

// RetriableError defines an interface for errors that can be retried.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// VenueError wraps a failure talking to the price/execution venue.
type VenueError struct {
	Op        string // "quote", "submit", "lookup"
	Err       error
	Retriable bool
}

func (e *VenueError) Error() string {
	return "venue " + e.Op + ": " + e.Err.Error()
}

func (e *VenueError) IsRetriable() bool { return e.Retriable }

func (e *VenueError) Unwrap() error { return e.Err }

func (e *VenueError) Is(target error) bool { return target == ErrVenue }

// NewVenueError creates a retriable venue error.
func NewVenueError(op string, err error) *VenueError {
	return &VenueError{Op: op, Err: err, Retriable: true}
}

// Classify returns the category name of err for logs and history records.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrAccounting):
		return "accounting"
	case errors.Is(err, ErrVenue):
		return "venue"
	case errors.Is(err, ErrConcurrency):
		return "concurrency"
	default:
		return "unknown"
	}
}
