package image

import "context"

// SynthesizeRequest describes one synthesis call: the enhanced instruction
// plus the prepared (already size-bounded) source image URIs.
type SynthesizeRequest struct {
	Prompt    string
	ImageURIs []string
	Quality   string
	RequestID string
}

// Result is the synthesis output. Exactly one of URL or Data is set: remote
// services usually answer with a hosted URL the caller downloads through the
// pipeline.
type Result struct {
	URL         string
	Data        []byte
	ContentType string
}

// Synthesizer produces the result image for a job.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (*Result, error)
}
