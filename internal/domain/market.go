package domain

import "time"

// Market is the tradable twin of a Question. QuestionID is assigned when the
// pair is created and is the only join key between the two.
type Market struct {
	ID               string
	QuestionID       string
	Question         string
	Liquidity        float64
	YesShares        float64
	NoShares         float64
	OnChainID        string
	OnChainResolved  bool
	ResolutionTxHash string
	OutcomeHash      string
	Resolved         bool
	Outcome          *bool
	EndDate          time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// YesPrice returns the implied probability of the yes side: its share of all
// outstanding shares. A market with no shares prices at 0.5.
func (m Market) YesPrice() float64 {
	total := m.YesShares + m.NoShares
	if total <= 0 {
		return 0.5
	}
	return m.YesShares / total
}

// PriceOf returns the implied price of side.
func (m Market) PriceOf(side OutcomeSide) float64 {
	if side == OutcomeNo {
		return 1 - m.YesPrice()
	}
	return m.YesPrice()
}

// Organization is a simulated company whose perpetual instrument trades under
// its ID as ticker.
type Organization struct {
	ID           string
	Name         string
	Type         string
	Description  string
	InitialPrice float64
	CurrentPrice float64
	UpdatedAt    time.Time
}

// PricePoint is one appended row of an organization's price history.
type PricePoint struct {
	OrganizationID string
	Price          float64
	Change         float64
	ChangePercent  float64
	RecordedAt     time.Time
}
