package prompt

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// EnhanceRequest carries the user's original prompt into the enhancement stage.
type EnhanceRequest struct {
	Prompt string
	// Style is an optional hint appended to the instruction, e.g. the
	// quality tier name.
	Style string
}

// Enhancer rewrites a raw user prompt into one the synthesis service works
// well with.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}

// StaticEnhancer is the no-credentials fallback: a deterministic local rewrite
// that title-cases the subject and appends a fixed quality suffix.
type StaticEnhancer struct{}

// NewStaticEnhancer returns the fallback enhancer.
func NewStaticEnhancer() *StaticEnhancer {
	return &StaticEnhancer{}
}

// Enhance produces a deterministic enhanced prompt without leaving the process.
func (s *StaticEnhancer) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	c := cases.Title(language.Und)
	subject := strings.TrimSpace(req.Prompt)
	if subject == "" {
		subject = "Untitled Edit"
	}
	parts := []string{c.String(subject), "high detail, natural lighting, clean composition"}
	if style := strings.TrimSpace(req.Style); style != "" {
		parts = append(parts, style+" quality")
	}
	return strings.Join(parts, ", "), nil
}

var _ Enhancer = (*StaticEnhancer)(nil)
