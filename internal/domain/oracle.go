package domain

import "context"

// OracleCommitItem is one question submitted for commitment.
type OracleCommitItem struct {
	QuestionID string `json:"questionId"`
	Number     int64  `json:"number"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	Outcome    bool   `json:"outcome"`
}

// OracleRevealItem is one question submitted for reveal.
type OracleRevealItem struct {
	QuestionID  string   `json:"questionId"`
	Number      int64    `json:"number"`
	Outcome     bool     `json:"outcome"`
	Winners     []string `json:"winners"`
	TotalPayout float64  `json:"totalPayout"`
}

// OracleFailure is a per-item rejection returned by the oracle.
type OracleFailure struct {
	QuestionID string `json:"questionId"`
	Error      string `json:"error"`
}

// OracleCommitBatch is the oracle's response to a batch commit.
type OracleCommitBatch struct {
	Successful []OracleCommit
	Failed     []OracleFailure
}

// OracleRevealBatch is the oracle's response to a batch reveal.
type OracleRevealBatch struct {
	Successful []OracleReveal
	Failed     []OracleFailure
}

// OracleClient publishes question outcomes with a commit/reveal scheme.
type OracleClient interface {
	HealthCheck(ctx context.Context) (bool, error)
	BatchCommit(ctx context.Context, items []OracleCommitItem) (OracleCommitBatch, error)
	BatchReveal(ctx context.Context, items []OracleRevealItem) (OracleRevealBatch, error)
}

// Ledger mirrors prediction markets on an external chain. Every call is
// auxiliary: off-chain state never waits on it.
type Ledger interface {
	EnsureMarketOnChain(ctx context.Context, market Market) (onChainID string, err error)
	ResolveMarketOnChain(ctx context.Context, onChainID string, outcome bool) (txHash string, err error)
	OutcomeHash(questionID string, outcome bool) string
}
