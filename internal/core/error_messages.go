package core

// # Error Codes Reference
//
// This file maps errors to user-facing messages with codes for support
// reference. Core errors are mapped by kind first; anything else is matched
// against known technical patterns.
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid field: A field value is malformed or out of range
//	         Action: Fix the listed fields and resubmit
//	VAL002 - Missing column: Required column is missing from the file
//	         Action: Include project and subject columns in the header row
//	         Patterns: "missing required column"
//	VAL003 - Unsupported file: The file type is not supported
//	         Action: Upload a .csv or .xlsx file
//	         Patterns: "unsupported file type"
//	VAL004 - Empty file: The file has no header row
//	         Action: Upload a file with a header row and data rows
//	         Patterns: "empty file"
//	VAL005 - Batch too large: Too many records in one request
//	         Action: Split the request into smaller batches
//	         Patterns: "batch too large"
//
// # Lookup Errors (NF001-NF099)
//
//	NF001 - Not found: The referenced record does not exist
//	        Action: Check the id and try again
//	NF002 - Run not found: The ingestion run is unknown or expired
//	        Action: Start a new ingestion run
//	        Patterns: "run not found"
//	NF003 - Object not found: The source object does not exist
//	        Action: Check the bucket and key
//	        Patterns: "nosuchkey", "no such file"
//
// # Conflict Errors (CON001-CON099)
//
//	CON001 - Duplicate subject: A subject with the same attributes exists
//	         Action: Reuse the existing subject or allow duplicates
//	         Patterns: "duplicate subject"
//	CON002 - Confirmation required: The delete affects many records
//	         Action: Review the impact and resubmit with force=true
//	         Patterns: "confirm with force"
//
// # Storage Errors (DB001-DB099)
//
//	DB001 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//	DB002 - Connection reset: Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset"
//	DB003 - Timeout: Operation timed out
//	        Action: Try a smaller file or try again later
//	        Patterns: "timeout", "context deadline exceeded"
//	DB004 - Deadlock: Database was busy with conflicting operations
//	        Action: Please try again
//	        Patterns: "deadlock", "database is locked"
//	DB005 - Storage failure: The database rejected the operation
//	        Action: Please try again or contact support
//
// # Integrity Errors (INT001-INT099)
//
//	INT001 - Reference violated: A referenced project or subject vanished
//	         Action: Retry; the parent may have been deleted concurrently
//	         Patterns: "foreign key"
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - System busy: Too many ingestion runs in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many concurrent ingestion runs"
//	ING002 - Cancelled: The run was cancelled
//	         Action: Start a new run when ready
//	         Patterns: "cancelled", "context canceled"
//
// # Other
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//	ERR000  - Unknown error: An unexpected error occurred
//	          Action: Please try again or contact support
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Validation
	{"missing required column", UserMessage{"Required column is missing from the file", "Include project and subject columns in the header row", "VAL002"}},
	{"unsupported file type", UserMessage{"The file type is not supported", "Upload a .csv or .xlsx file", "VAL003"}},
	{"empty file", UserMessage{"The file has no header row", "Upload a file with a header row and data rows", "VAL004"}},
	{"batch too large", UserMessage{"Too many records in one request", "Split the request into smaller batches", "VAL005"}},

	// Lookup
	{"run not found", UserMessage{"Ingestion run not found", "The run may have expired. Start a new ingestion run", "NF002"}},
	{"nosuchkey", UserMessage{"Source object not found", "Check the bucket and key", "NF003"}},
	{"no such file", UserMessage{"Source file not found", "Check the file path", "NF003"}},

	// Conflict
	{"duplicate subject", UserMessage{"A subject with the same attributes already exists", "Reuse the existing subject or allow duplicates", "CON001"}},
	{"confirm with force", UserMessage{"Deletion would affect many records", "Review the impact and resubmit with force=true", "CON002"}},

	// Ingestion
	{"too many concurrent ingestion runs", UserMessage{"System is busy processing other ingestion runs", "Please wait a moment and try again", "ING001"}},
	{"cancelled", UserMessage{"The run was cancelled", "Start a new run when ready", "ING002"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "ING002"}},

	// Integrity
	{"foreign key", UserMessage{"A referenced project or subject no longer exists", "Retry; the parent may have been deleted concurrently", "INT001"}},

	// Storage
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"context deadline exceeded", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB003"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"database is locked", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// kindMessages are used when a core error matches no specific pattern.
var kindMessages = map[ErrorKind]UserMessage{
	ErrValidation: {"A field value is malformed or out of range", "Fix the listed fields and resubmit", "VAL001"},
	ErrNotFound:   {"The referenced record does not exist", "Check the id and try again", "NF001"},
	ErrConflict:   {"The request conflicts with existing data", "Review the conflict details", "CON001"},
	ErrStorage:    {"The database rejected the operation", "Please try again or contact support", "DB005"},
	ErrIntegrity:  {"A referenced project or subject no longer exists", "Retry; the parent may have been deleted concurrently", "INT001"},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Known technical
// patterns win; otherwise a core error is mapped by its kind, and anything
// else falls back to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var ce *Error
	if errors.As(err, &ce) {
		if msg, ok := kindMessages[ce.Kind]; ok {
			return msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
