package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Question horizons.
const (
	BootstrapHorizon  = 3 * 24 * time.Hour
	ReplenishHorizon  = 7 * 24 * time.Hour
	WinningShareValue = 2.0
)

const questionSystemPrompt = `You write yes/no prediction-market questions about a simulated economy of
companies and public figures. Each question must resolve unambiguously by a fixed date.
Answer with JSON: {"question": "...", "resolutionCriteria": "...", "category": "..."}.`

var questionCategories = []string{"tech", "finance", "politics", "culture", "science"}

// QuestionManager resolves expired questions and creates new ones together
// with their markets. Ledger mirroring runs in the background; Wait drains it.
type QuestionManager struct {
	st            Stores
	gen           domain.Generator
	ledger        domain.Ledger
	liquiditySeed float64
	ledgerTimeout time.Duration
	clock         Clock
	logger        *slog.Logger

	wg sync.WaitGroup
}

// NewQuestionManager creates a QuestionManager. ledger may be nil.
func NewQuestionManager(st Stores, gen domain.Generator, ledger domain.Ledger, liquiditySeed float64, logger *slog.Logger) *QuestionManager {
	if liquiditySeed <= 0 {
		liquiditySeed = 1000
	}
	return &QuestionManager{
		st:            st,
		gen:           gen,
		ledger:        ledger,
		liquiditySeed: liquiditySeed,
		ledgerTimeout: 60 * time.Second,
		clock:         wallClock,
		logger:        logger.With(slog.String("component", "questions")),
	}
}

// WithClock replaces the manager's clock.
func (m *QuestionManager) WithClock(c Clock) *QuestionManager {
	m.clock = c
	return m
}

// GenerateNewQuestions creates up to count questions resolving horizon from
// now. It stops early once the clock passes deadline. Generation failures
// skip the iteration; store failures are returned along with what was
// created so far.
func (m *QuestionManager) GenerateNewQuestions(ctx context.Context, count int, deadline time.Time, horizon time.Duration) ([]domain.Question, error) {
	existing, err := m.st.Questions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("questions: list active: %w", err)
	}
	taken := make([]string, 0, len(existing)+count)
	for _, q := range existing {
		taken = append(taken, q.Text)
	}

	var created []domain.Question
	for i := 0; i < count; i++ {
		if m.clock().After(deadline) {
			m.logger.InfoContext(ctx, "question generation stopped at deadline",
				slog.Int("created", len(created)),
				slog.Int("requested", count),
			)
			break
		}

		gq, ok := m.generate(ctx, taken)
		if !ok {
			continue
		}

		number, err := m.st.Questions.NextNumber(ctx)
		if err != nil {
			return created, fmt.Errorf("questions: next number: %w", err)
		}
		now := m.clock()
		q := domain.Question{
			ID:                 uuid.NewString(),
			Number:             number,
			Text:               gq.Question,
			ResolutionCriteria: gq.ResolutionCriteria,
			Category:           gq.Category,
			ResolutionDate:     now.Add(horizon),
			Status:             domain.QuestionStatusActive,
			Outcome:            rand.IntN(2) == 1,
			CreatedAt:          now,
		}
		mkt := domain.Market{
			ID:         uuid.NewString(),
			QuestionID: q.ID,
			Question:   q.Text,
			Liquidity:  m.liquiditySeed,
			YesShares:  m.liquiditySeed / 2,
			NoShares:   m.liquiditySeed / 2,
			EndDate:    q.ResolutionDate,
			CreatedAt:  now,
		}
		q.MarketID = mkt.ID

		if err := m.st.Questions.CreateWithMarket(ctx, q, mkt); err != nil {
			return created, fmt.Errorf("questions: create #%d: %w", number, err)
		}
		created = append(created, q)
		taken = append(taken, q.Text)
		m.ensureOnChain(mkt)
	}

	if len(created) > 0 {
		m.logger.InfoContext(ctx, "questions created",
			slog.Int("count", len(created)),
			slog.Duration("horizon", horizon),
		)
	}
	return created, nil
}

func (m *QuestionManager) generate(ctx context.Context, taken []string) (*domain.GeneratedQuestion, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one new question in the %q category.\n", questionCategories[rand.IntN(len(questionCategories))])
	if len(taken) > 0 {
		b.WriteString("Do not repeat any of these existing questions:\n")
		for _, t := range taken {
			b.WriteString("- ")
			b.WriteString(t)
			b.WriteByte('\n')
		}
	}

	g, err := m.gen.Generate(ctx, domain.GenerationRequest{
		Shape:  domain.ShapeQuestion,
		System: questionSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil || g.Question == nil {
		if err == nil {
			err = domain.ErrMalformedGeneration
		}
		m.logger.WarnContext(ctx, "question generation skipped", slog.String("error", err.Error()))
		return nil, false
	}
	return g.Question, true
}

// ensureOnChain mirrors mkt to the ledger without blocking the caller.
func (m *QuestionManager) ensureOnChain(mkt domain.Market) {
	if m.ledger == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.ledgerTimeout)
		defer cancel()

		onChainID, err := m.ledger.EnsureMarketOnChain(ctx, mkt)
		if err != nil {
			m.logger.Warn("ledger market creation failed",
				slog.String("market", mkt.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := m.st.Markets.SetOnChainID(ctx, mkt.ID, onChainID); err != nil {
			m.logger.Warn("record on-chain id failed",
				slog.String("market", mkt.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until background ledger calls finish.
func (m *QuestionManager) Wait() {
	m.wg.Wait()
}

// ResolveExpired marks every active question due at or before now as
// resolved and returns only those this call transitioned.
func (m *QuestionManager) ResolveExpired(ctx context.Context, now time.Time) ([]domain.Question, error) {
	resolved, err := m.st.Questions.ResolveExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("questions: resolve expired: %w", err)
	}
	return resolved, nil
}

// ResolveQuestionPayouts settles q's market: every winning-side share pays
// WinningShareValue. The ledger resolution is best-effort; the market is
// marked resolved either way. Already-resolved markets are left alone.
func (m *QuestionManager) ResolveQuestionPayouts(ctx context.Context, q domain.Question) (float64, error) {
	mkt, err := m.st.Markets.GetByID(ctx, q.MarketID)
	if err != nil {
		return 0, fmt.Errorf("questions: market of #%d: %w", q.Number, err)
	}
	if mkt.Resolved {
		return 0, nil
	}

	positions, err := m.st.Positions.ListByMarket(ctx, mkt.ID)
	if err != nil {
		return 0, fmt.Errorf("questions: positions of %s: %w", mkt.ID, err)
	}
	var paid float64
	for _, p := range positions {
		if !p.Side.Wins(q.Outcome) || p.Shares <= 0 {
			continue
		}
		amount := p.Shares * WinningShareValue
		if err := m.st.Balances.Credit(ctx, p.UserID, amount); err != nil {
			return paid, fmt.Errorf("questions: pay %s on #%d: %w", p.UserID, q.Number, err)
		}
		paid += amount
	}

	var txHash, outcomeHash string
	if m.ledger != nil {
		outcomeHash = m.ledger.OutcomeHash(q.ID, q.Outcome)
		if mkt.OnChainID != "" {
			lctx, cancel := context.WithTimeout(ctx, m.ledgerTimeout)
			txHash, err = m.ledger.ResolveMarketOnChain(lctx, mkt.OnChainID, q.Outcome)
			cancel()
			if err != nil {
				m.logger.WarnContext(ctx, "ledger resolution failed",
					slog.Int64("question", q.Number),
					slog.String("error", err.Error()),
				)
				txHash = ""
			}
		}
	}

	if err := m.st.Markets.MarkResolved(ctx, mkt.ID, q.Outcome, txHash, outcomeHash); err != nil {
		return paid, fmt.Errorf("questions: mark market %s resolved: %w", mkt.ID, err)
	}
	m.logger.InfoContext(ctx, "question settled",
		slog.Int64("question", q.Number),
		slog.Bool("outcome", q.Outcome),
		slog.Int("positions", len(positions)),
		slog.Float64("paid", paid),
	)
	return paid, nil
}
