package convert

import "context"

// Request describes what to produce.
type Request struct {
	Title   string
	Kind    string // "audio" or "video"
	Quality int    // kbps for audio, pixel height for video
	WorkDir string // pre-allocated scratch directory, owned by the caller
}

// Outcome is a successfully produced artifact.
type Outcome struct {
	FilePath        string
	ThumbnailPath   string // empty when no cover art could be captured
	DurationSeconds int
}

// ProgressFunc receives progress callbacks at the engine's own cadence.
// Implementations must not block.
type ProgressFunc func(percent float64, phase string)

// Engine produces an artifact for a request. Produce is a single blocking
// call per job; there is no built-in timeout unless the context carries one.
type Engine interface {
	Produce(ctx context.Context, req Request, onProgress ProgressFunc) (Outcome, error)
}
