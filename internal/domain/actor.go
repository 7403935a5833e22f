package domain

import "time"

// Actor is a simulated NPC that posts content and trades.
type Actor struct {
	ID         string
	Name       string
	Role       string
	Persona    string
	Balance    float64
	Reputation float64
	Alpha      bool
	GroupID    string
	CreatedAt  time.Time
}

// AuthorKind identifies who wrote a Post.
type AuthorKind string

const (
	AuthorNPC AuthorKind = "npc"
	AuthorOrg AuthorKind = "org"
)

// PostKind distinguishes short posts from long-form articles.
type PostKind string

const (
	PostKindPost    PostKind = "post"
	PostKindArticle PostKind = "article"
)

// Post is a piece of generated content.
type Post struct {
	ID             string
	AuthorID       string
	AuthorKind     AuthorKind
	Kind           PostKind
	Content        string
	Title          string
	Summary        string
	QuestionNumber *int64
	Timestamp      time.Time
}

// WorldEvent is a generated in-world occurrence that later articles react to.
type WorldEvent struct {
	ID              string
	Type            string
	Description     string
	RelatedQuestion *int64
	Visibility      string
	Day             int
	Timestamp       time.Time
}
