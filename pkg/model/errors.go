package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrRetrievalFailed covers embedding and index query failures. The
	// session recovers from it by treating the turn as having no context.
	ErrRetrievalFailed = goerr.New("retrieval failed")

	// ErrGenerationFailed covers chat stream setup and mid-stream
	// failures. The turn is abandoned without touching the transcript.
	ErrGenerationFailed = goerr.New("generation failed")

	// ErrDimensionMismatch means the index and the embedding model
	// disagree on vector dimensionality. Fatal at startup.
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")
)
