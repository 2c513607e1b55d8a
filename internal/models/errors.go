package models

import (
	"errors"
	"fmt"
)

// ReadError reports a document that could not be turned into text.
type ReadError struct {
	File   string
	Reason string
	Err    error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to read %s: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to read %s: %s", e.File, e.Reason)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ConfigError reports an invalid parameter or parameter combination.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// EmbeddingError reports a provider failure while embedding text.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding provider %s failed: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Generation failure reasons. Match them with errors.Is.
var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidModel  = errors.New("invalid or unsupported model")
	ErrRateLimited   = errors.New("rate limited")
	ErrNetwork       = errors.New("network failure")
	ErrProvider      = errors.New("provider error")
)

// GenerationError reports a language model failure while answering.
type GenerationError struct {
	Model  string
	Reason error
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("model %s: %v: %v", e.Model, e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{e.Reason, e.Err} }
