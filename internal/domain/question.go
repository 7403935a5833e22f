package domain

import "time"

// QuestionStatus tracks the lifecycle of a prediction question. The only legal
// transition is active -> resolved.
type QuestionStatus string

const (
	QuestionStatusActive   QuestionStatus = "active"
	QuestionStatusResolved QuestionStatus = "resolved"
)

// Question is a yes/no prediction question backed by exactly one Market.
// Outcome is drawn at creation and stays hidden until the oracle reveal.
type Question struct {
	ID                 string
	Number             int64
	Text               string
	ResolutionCriteria string
	Category           string
	ResolutionDate     time.Time
	Status             QuestionStatus
	Outcome            bool
	MarketID           string

	OracleSessionID    string
	OracleCommitment   string
	OracleCommitTxHash string
	OracleCommitBlock  int64
	OracleRevealTxHash string
	OracleRevealBlock  int64

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// IsExpired reports whether the question's resolution date has passed.
func (q Question) IsExpired(now time.Time) bool {
	return !q.ResolutionDate.After(now)
}

// OracleCommit is the oracle's receipt for a committed question outcome.
type OracleCommit struct {
	QuestionID  string
	SessionID   string
	Commitment  string
	TxHash      string
	BlockNumber int64
}

// OracleReveal is the oracle's receipt for a revealed question outcome.
type OracleReveal struct {
	QuestionID  string
	TxHash      string
	BlockNumber int64
}
