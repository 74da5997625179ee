package contract

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrModelInvoke         = errors.New("model invoke failed")
	ErrSchemaViolation     = errors.New("model response violates schema")
	ErrPromptMissing       = errors.New("required prompt is missing")
	ErrUnknownRole         = errors.New("unknown expert role")
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	ErrIterationCap        = errors.New("iteration cap exceeded")
	ErrCouncilTimeout      = errors.New("council deadline exceeded")
	ErrCoordinatorInternal = errors.New("coordinator internal failure")
	ErrToolUnavailable     = errors.New("tool unavailable")
)
