package tutor

import (
	"errors"

	"github.com/ashureev/shsh-tutor/internal/reasoning"
	"github.com/ashureev/shsh-tutor/internal/tools"
)

// Failure classes surfaced by the orchestrator. Tool and reasoning classes
// are shared with the packages that produce them.
var (
	ErrToolTimeout      = tools.ErrToolTimeout
	ErrToolError        = tools.ErrToolError
	ErrReasoningTimeout = reasoning.ErrReasoningTimeout
	ErrReasoningFailed  = reasoning.ErrReasoningFailed

	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrInvalidOverride    = errors.New("invalid override")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrSessionNotFound    = errors.New("session not found")
)

// FallbackReply is returned when no reply could be generated.
const FallbackReply = "I'm having trouble answering right now. Please try again in a moment."
