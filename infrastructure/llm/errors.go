package llm

import (
	"errors"
)

// Common errors returned by the LLM client and providers.
var (
	// ErrEmptyAPIKey indicates that an API key was required but not provided.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")

	// ErrNoResponseChoice indicates that the provider's response contained
	// no usable choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
)
