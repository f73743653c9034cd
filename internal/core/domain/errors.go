package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrTemporary    = errors.New("temporary failure")

	ErrEmbedding             = errors.New("embedding failed")
	ErrRetrieval             = errors.New("retrieval unavailable")
	ErrFusionAlignment       = errors.New("index alignment violated")
	ErrGenerationTimeout     = errors.New("generation timed out")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrPersistence           = errors.New("persistence failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsGenerationFailure reports whether err means the model produced no answer.
func IsGenerationFailure(err error) bool {
	return IsKind(err, ErrGenerationTimeout) || IsKind(err, ErrGenerationUnavailable)
}
