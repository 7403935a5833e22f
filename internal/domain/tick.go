package domain

import "time"

// TickSummary is returned by every tick and logged, published and archived.
type TickSummary struct {
	PostsCreated        int       `json:"postsCreated"`
	EventsCreated       int       `json:"eventsCreated"`
	ArticlesCreated     int       `json:"articlesCreated"`
	MarketsUpdated      int       `json:"marketsUpdated"`
	QuestionsResolved   int       `json:"questionsResolved"`
	QuestionsCreated    int       `json:"questionsCreated"`
	WidgetCachesUpdated int       `json:"widgetCachesUpdated"`
	TrendingCalculated  bool      `json:"trendingCalculated"`
	ReputationSynced    bool      `json:"reputationSynced"`
	OracleCommits       int       `json:"oracleCommits"`
	OracleReveals       int       `json:"oracleReveals"`
	OracleErrors        int       `json:"oracleErrors"`
	Skipped             bool      `json:"skipped"`
	StartedAt           time.Time `json:"startedAt"`
	DurationMs          int64     `json:"durationMs"`
}

// ContentStats counts what a content fan-out produced.
type ContentStats struct {
	Posts    int
	Articles int
}

// OracleResult counts one commit or reveal batch.
type OracleResult struct {
	Count  int
	Errors int
}

// WidgetCache is a keyed, precomputed JSON blob.
type WidgetCache struct {
	Widget    string
	Data      []byte
	UpdatedAt time.Time
}

// Well-known widget cache keys.
const (
	WidgetTopMovers         = "top_movers"
	WidgetTopPools          = "top_pools"
	WidgetTrendingQuestions = "trending_questions"
	WidgetTrendingTopics    = "trending_topics"
)

// Well-known system state keys.
const (
	StateHeartbeat      = "tick_heartbeat"
	StateLastTrending   = "last_trending_run"
	StateLastReputation = "last_reputation_sync"
	StateGenesis        = "simulation_genesis"
)
