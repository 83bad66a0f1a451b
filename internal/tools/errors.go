package tools

import "errors"

// ErrToolUnavailable indicates a tool name with no registration.
var ErrToolUnavailable = errors.New("tool not available")

// ErrInvalidArguments indicates arguments that failed schema
// validation. Never retried; the failure is surfaced to the next
// reasoning step instead.
var ErrInvalidArguments = errors.New("invalid tool arguments")
