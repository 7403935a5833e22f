package domain

import "context"

// GenerationShape names the structure a caller expects back from the
// generation collaborator.
type GenerationShape string

const (
	ShapePost      GenerationShape = "post"
	ShapeArticle   GenerationShape = "article"
	ShapeQuestion  GenerationShape = "question"
	ShapeEvent     GenerationShape = "event"
	ShapeDecisions GenerationShape = "decisions"
)

// GenerationRequest is one prompt sent to the generation collaborator.
type GenerationRequest struct {
	Shape     GenerationShape
	System    string
	Prompt    string
	MaxTokens int
}

// GeneratedPost is a short post body.
type GeneratedPost struct {
	Content string
}

// GeneratedArticle is a long-form article.
type GeneratedArticle struct {
	Title   string
	Summary string
	Body    string
}

// GeneratedQuestion is a candidate prediction question.
type GeneratedQuestion struct {
	Question           string
	ResolutionCriteria string
	Category           string
}

// GeneratedEvent is a candidate world event.
type GeneratedEvent struct {
	Type        string
	Description string
}

// Generation is the normalized, tagged result of a generation call. Exactly
// the payload matching Shape is set.
type Generation struct {
	Shape     GenerationShape
	Post      *GeneratedPost
	Article   *GeneratedArticle
	Question  *GeneratedQuestion
	Event     *GeneratedEvent
	Decisions []TradeDecision
}

// Generator is the language-generation collaborator. Implementations return
// ErrMalformedGeneration when the output cannot be normalized to req.Shape.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
}
