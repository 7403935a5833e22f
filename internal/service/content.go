package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Content generation limits.
const (
	MinArticleLength   = 400 // characters, not bytes
	MaxArticlesPerRun  = 10
	OrgArticleChance   = 0.10
	PostSpreadWindow   = 60 * time.Second
	RecentEventsWindow = 24 * time.Hour
)

var (
	errPastDeadline    = errors.New("past deadline")
	errArticleTooShort = errors.New("article body too short")
	errEmptyGeneration = errors.New("empty generation")
)

// baselineNewsTopics feed article generation when no world events are recent.
var baselineNewsTopics = []string{
	"quarterly earnings outlook",
	"leadership and strategy",
	"product roadmap",
	"regulatory pressure",
	"competitive landscape",
	"market sentiment",
}

const postSystemPrompt = `You write short social-media posts (under 280 characters) in the voice of
the given persona about a simulated economy. Answer with JSON: {"content": "..."}.`

const articleSystemPrompt = `You write news articles for a simulated economy. Articles are at least
three paragraphs. Answer with JSON: {"title": "...", "summary": "...", "body": "..."}.`

// author is one member of the mixed NPC/organization content pool.
type author struct {
	ID      string
	Kind    domain.AuthorKind
	Name    string
	Persona string
}

// ContentPool fans out content generation across NPCs and organizations.
// Units check the deadline before starting and never affect each other.
type ContentPool struct {
	st       Stores
	gen      domain.Generator
	maxUnits int
	clock    Clock
	roll     func() float64
	logger   *slog.Logger
}

// NewContentPool creates a ContentPool running at most maxUnits units at once.
func NewContentPool(st Stores, gen domain.Generator, maxUnits int, logger *slog.Logger) *ContentPool {
	if maxUnits <= 0 {
		maxUnits = defaultParallelUnits
	}
	return &ContentPool{
		st:       st,
		gen:      gen,
		maxUnits: maxUnits,
		clock:    wallClock,
		roll:     rand.Float64,
		logger:   logger.With(slog.String("component", "content")),
	}
}

// WithClock replaces the pool's clock.
func (p *ContentPool) WithClock(c Clock) *ContentPool {
	p.clock = c
	return p
}

// GenerateMixedPosts runs up to maxUnits units over a shuffled pool of NPCs
// and organizations. Organizations write an article instead of a post with
// OrgArticleChance. Timestamps are spread over PostSpreadWindow from ts.
func (p *ContentPool) GenerateMixedPosts(ctx context.Context, questions []domain.Question, ts, deadline time.Time) domain.ContentStats {
	pool, err := p.authors(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "content pool unavailable", slog.String("error", err.Error()))
		return domain.ContentStats{}
	}
	if len(pool) == 0 {
		return domain.ContentStats{}
	}
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	n := min(p.maxUnits, len(pool))

	slot := PostSpreadWindow / time.Duration(n)
	units := make([]func(context.Context) unitOutcome, 0, n)
	for i := 0; i < n; i++ {
		a := pool[i]
		at := ts.Add(time.Duration(i)*slot + time.Duration(rand.Int64N(int64(slot)+1)))
		var q *domain.Question
		if len(questions) > 0 {
			q = &questions[rand.IntN(len(questions))]
		}
		article := a.Kind == domain.AuthorOrg && p.roll() < OrgArticleChance

		units = append(units, func(ctx context.Context) unitOutcome {
			if p.clock().After(deadline) {
				return unitOutcome{Err: errPastDeadline}
			}
			if article {
				return p.writeArticle(ctx, a, articleTopic(q), q, at)
			}
			return p.writePost(ctx, a, q, at)
		})
	}

	return p.fold(ctx, "mixed posts", settleAll(ctx, p.maxUnits, units))
}

// GenerateArticles writes one article per recent world event, or, without
// recent events, one per organization on a baseline topic. Both are capped
// at MaxArticlesPerRun.
func (p *ContentPool) GenerateArticles(ctx context.Context, ts, deadline time.Time) domain.ContentStats {
	events, err := p.st.Content.ListEventsSince(ctx, ts.Add(-RecentEventsWindow), MaxArticlesPerRun)
	if err != nil {
		p.logger.WarnContext(ctx, "load recent events failed", slog.String("error", err.Error()))
		return domain.ContentStats{}
	}
	orgs, err := p.st.Organizations.List(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "load organizations failed", slog.String("error", err.Error()))
		return domain.ContentStats{}
	}
	if len(orgs) == 0 {
		return domain.ContentStats{}
	}

	type job struct {
		by    author
		topic string
		qn    *int64
	}
	var jobs []job
	if len(events) == 0 {
		for i, o := range orgs {
			if i >= MaxArticlesPerRun {
				break
			}
			jobs = append(jobs, job{
				by:    orgAuthor(o),
				topic: fmt.Sprintf("%s: %s", o.Name, baselineNewsTopics[i%len(baselineNewsTopics)]),
			})
		}
	} else {
		for _, e := range events {
			jobs = append(jobs, job{
				by:    orgAuthor(orgs[rand.IntN(len(orgs))]),
				topic: e.Description,
				qn:    e.RelatedQuestion,
			})
		}
	}

	units := make([]func(context.Context) unitOutcome, 0, len(jobs))
	for i, j := range jobs {
		at := ts.Add(time.Duration(i) * time.Second)
		units = append(units, func(ctx context.Context) unitOutcome {
			if p.clock().After(deadline) {
				return unitOutcome{Err: errPastDeadline}
			}
			var q *domain.Question
			if j.qn != nil {
				q = &domain.Question{Number: *j.qn}
			}
			return p.writeArticle(ctx, j.by, j.topic, q, at)
		})
	}
	return p.fold(ctx, "articles", settleAll(ctx, p.maxUnits, units))
}

func (p *ContentPool) writePost(ctx context.Context, a author, q *domain.Question, at time.Time) unitOutcome {
	prompt := fmt.Sprintf("You are %s. Persona: %s.\nWrite a post about what is on your mind today.", a.Name, a.Persona)
	if q != nil {
		prompt += fmt.Sprintf("\nYou may react to the open question: %q", q.Text)
	}
	g, err := p.gen.Generate(ctx, domain.GenerationRequest{
		Shape:  domain.ShapePost,
		System: postSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return unitOutcome{Err: err}
	}
	if g.Post == nil || g.Post.Content == "" {
		return unitOutcome{Err: errEmptyGeneration}
	}

	post := domain.Post{
		ID:         uuid.NewString(),
		AuthorID:   a.ID,
		AuthorKind: a.Kind,
		Kind:       domain.PostKindPost,
		Content:    g.Post.Content,
		Timestamp:  at,
	}
	if q != nil {
		n := q.Number
		post.QuestionNumber = &n
	}
	if err := p.st.Content.CreatePost(ctx, post); err != nil {
		return unitOutcome{Err: err}
	}
	return unitOutcome{Posts: 1}
}

func (p *ContentPool) writeArticle(ctx context.Context, a author, topic string, q *domain.Question, at time.Time) unitOutcome {
	g, err := p.gen.Generate(ctx, domain.GenerationRequest{
		Shape:     domain.ShapeArticle,
		System:    articleSystemPrompt,
		Prompt:    fmt.Sprintf("Publication: %s.\nTopic: %s", a.Name, topic),
		MaxTokens: 1200,
	})
	if err != nil {
		return unitOutcome{Err: err}
	}
	if g.Article == nil {
		return unitOutcome{Err: errEmptyGeneration}
	}
	if utf8.RuneCountInString(g.Article.Body) < MinArticleLength {
		return unitOutcome{Err: errArticleTooShort}
	}

	post := domain.Post{
		ID:         uuid.NewString(),
		AuthorID:   a.ID,
		AuthorKind: a.Kind,
		Kind:       domain.PostKindArticle,
		Title:      g.Article.Title,
		Summary:    g.Article.Summary,
		Content:    g.Article.Body,
		Timestamp:  at,
	}
	if q != nil {
		n := q.Number
		post.QuestionNumber = &n
	}
	if err := p.st.Content.CreatePost(ctx, post); err != nil {
		return unitOutcome{Err: err}
	}
	return unitOutcome{Articles: 1}
}

// fold sums unit outcomes into stats and logs the failures.
func (p *ContentPool) fold(ctx context.Context, phase string, outcomes []unitOutcome) domain.ContentStats {
	var stats domain.ContentStats
	var failed, skipped int
	for _, o := range outcomes {
		switch {
		case errors.Is(o.Err, errPastDeadline):
			skipped++
		case o.Err != nil:
			failed++
			p.logger.DebugContext(ctx, "content unit failed",
				slog.String("phase", phase),
				slog.String("error", o.Err.Error()),
			)
		default:
			stats.Posts += o.Posts
			stats.Articles += o.Articles
		}
	}
	p.logger.InfoContext(ctx, "content generated",
		slog.String("phase", phase),
		slog.Int("units", len(outcomes)),
		slog.Int("posts", stats.Posts),
		slog.Int("articles", stats.Articles),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
	)
	return stats
}

func (p *ContentPool) authors(ctx context.Context) ([]author, error) {
	actors, err := p.st.Actors.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("content: list actors: %w", err)
	}
	orgs, err := p.st.Organizations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("content: list organizations: %w", err)
	}
	out := make([]author, 0, len(actors)+len(orgs))
	for _, a := range actors {
		out = append(out, author{ID: a.ID, Kind: domain.AuthorNPC, Name: a.Name, Persona: a.Persona})
	}
	for _, o := range orgs {
		out = append(out, orgAuthor(o))
	}
	return out, nil
}

func orgAuthor(o domain.Organization) author {
	return author{ID: o.ID, Kind: domain.AuthorOrg, Name: o.Name, Persona: o.Description}
}

func articleTopic(q *domain.Question) string {
	if q == nil {
		return baselineNewsTopics[rand.IntN(len(baselineNewsTopics))]
	}
	return q.Text
}
