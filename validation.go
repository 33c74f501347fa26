package merger

import (
	"fmt"

	"github.com/creastat/merger/core"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Message string
	Details string
}

func (e ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// ValidateConfig checks the construction parameters of a merger
func ValidateConfig(config core.MergerConfig) error {
	if config.Slots < 1 {
		return ValidationError{
			Message: "merger validation failed",
			Details: fmt.Sprintf("slot count must be at least 1, got %d", config.Slots),
		}
	}

	if config.MaxQueuedSize < 0 {
		return ValidationError{
			Message: "merger validation failed",
			Details: fmt.Sprintf("queued size budget must not be negative, got %d", config.MaxQueuedSize),
		}
	}

	switch config.Variant {
	case core.VariantStrict, "":
		if config.MaxQueuedSize > 0 {
			return ValidationError{
				Message: "merger validation failed",
				Details: "queued size budget requires the queued variant",
			}
		}
	case core.VariantQueued:
		if config.QueueCapacity < 1 {
			return ValidationError{
				Message: "merger validation failed",
				Details: fmt.Sprintf("queue capacity must be at least 1, got %d", config.QueueCapacity),
			}
		}
	default:
		return ValidationError{
			Message: "merger validation failed",
			Details: fmt.Sprintf("unknown variant %q", config.Variant),
		}
	}

	return validateSources(config.Sources)
}

// validateSources rejects empty and duplicate source identities
func validateSources(sources []core.SourceID) error {
	seen := make(map[core.SourceID]int, len(sources))

	for i, src := range sources {
		if src == "" {
			return ValidationError{
				Message: "merger validation failed",
				Details: fmt.Sprintf("source at position %d has an empty id", i),
			}
		}
		if first, exists := seen[src]; exists {
			return ValidationError{
				Message: "merger validation failed",
				Details: fmt.Sprintf("source %q listed twice (positions %d and %d)", src, first, i),
			}
		}
		seen[src] = i
	}

	return nil
}
