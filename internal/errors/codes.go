// Package errors provides structured error handling for lorebase.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and durable-state errors
//   - 3XX: Network / backend errors
//   - 4XX: Validation and query errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk, and index-state I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates embedding-backend and network errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeSnapshotIO   = "ERR_203_SNAPSHOT_IO"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeBuildLocked  = "ERR_206_BUILD_LOCKED"

	// Network / backend errors (300-399)
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidSource     = "ERR_401_INVALID_SOURCE"
	ErrCodeEmbeddingRejected = "ERR_402_EMBEDDING_REJECTED"
	ErrCodeDimensionMismatch = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeEmptyIndex        = "ERR_404_EMPTY_INDEX"
	ErrCodeQueryEmpty        = "ERR_405_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeSearchFailed   = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed    = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// A corrupt index or contended build lock must abort the operation.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeBuildLocked, ErrCodeConfigInvalid:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be
// retried. Only transient embedding-backend failures qualify.
func isRetryableCode(code string) bool {
	return code == ErrCodeEmbeddingUnavailable
}
