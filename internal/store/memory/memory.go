// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" database backend for local dry runs and serves as the
// persistence fake in service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// DB holds every table behind a single mutex. The typed store views returned
// by its accessors share it.
type DB struct {
	mu sync.Mutex

	seq       int64
	questions map[string]domain.Question
	markets   map[string]domain.Market
	positions map[string]domain.Position
	pool      map[string]domain.PoolPosition
	orgs      map[string]domain.Organization
	history   map[string][]domain.PricePoint
	actors    map[string]domain.Actor
	balances  map[string]float64
	posts     []domain.Post
	events    []domain.WorldEvent
	trades    map[string]domain.Trade
	widgets   map[string]domain.WidgetCache
	state     map[string]time.Time
	locks     map[string]lease

	// Fail, when set, is consulted before every mutating call and its error
	// returned instead. Tests use it to inject persistence failures.
	Fail func(op string) error
}

// New returns an empty database.
func New() *DB {
	return &DB{
		questions: make(map[string]domain.Question),
		markets:   make(map[string]domain.Market),
		positions: make(map[string]domain.Position),
		pool:      make(map[string]domain.PoolPosition),
		orgs:      make(map[string]domain.Organization),
		history:   make(map[string][]domain.PricePoint),
		actors:    make(map[string]domain.Actor),
		balances:  make(map[string]float64),
		trades:    make(map[string]domain.Trade),
		widgets:   make(map[string]domain.WidgetCache),
		state:     make(map[string]time.Time),
		locks:     make(map[string]lease),
	}
}

func (db *DB) fail(op string) error {
	if db.Fail == nil {
		return nil
	}
	return db.Fail(op)
}

// Questions returns the question store view.
func (db *DB) Questions() *QuestionStore { return &QuestionStore{db: db} }

// Markets returns the market store view.
func (db *DB) Markets() *MarketStore { return &MarketStore{db: db} }

// Positions returns the prediction-position store view.
func (db *DB) Positions() *PositionStore { return &PositionStore{db: db} }

// PoolPositions returns the pool-position store view.
func (db *DB) PoolPositions() *PoolPositionStore { return &PoolPositionStore{db: db} }

// Organizations returns the organization store view.
func (db *DB) Organizations() *OrganizationStore { return &OrganizationStore{db: db} }

// Actors returns the actor store view.
func (db *DB) Actors() *ActorStore { return &ActorStore{db: db} }

// Balances returns the balance store view.
func (db *DB) Balances() *BalanceStore { return &BalanceStore{db: db} }

// Content returns the post and event store view.
func (db *DB) Content() *ContentStore { return &ContentStore{db: db} }

// Trades returns the trade store view.
func (db *DB) Trades() *TradeStore { return &TradeStore{db: db} }

// Widgets returns the widget cache store view.
func (db *DB) Widgets() *WidgetStore { return &WidgetStore{db: db} }

// State returns the system state store view.
func (db *DB) State() *StateStore { return &StateStore{db: db} }

// Locks returns an in-process lease lock manager.
func (db *DB) Locks() *LockManager { return &LockManager{db: db} }

// ---------------------------------------------------------------------------
// Questions
// ---------------------------------------------------------------------------

// QuestionStore implements domain.QuestionStore.
type QuestionStore struct{ db *DB }

// NextNumber increments the sequence under the lock.
func (s *QuestionStore) NextNumber(_ context.Context) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("questions.next_number"); err != nil {
		return 0, err
	}
	s.db.seq++
	return s.db.seq, nil
}

// CreateWithMarket stores both rows or neither.
func (s *QuestionStore) CreateWithMarket(_ context.Context, q domain.Question, m domain.Market) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("questions.create"); err != nil {
		return err
	}
	if _, ok := s.db.questions[q.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.db.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.db.questions {
		if existing.Number == q.Number {
			return domain.ErrAlreadyExists
		}
	}
	s.db.questions[q.ID] = q
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	s.db.markets[m.ID] = m
	return nil
}

// ListActive returns active questions ordered by number.
func (s *QuestionStore) ListActive(_ context.Context) ([]domain.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("questions.list_active"); err != nil {
		return nil, err
	}
	var out []domain.Question
	for _, q := range s.db.questions {
		if q.Status == domain.QuestionStatusActive {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// CountActive returns the number of active questions.
func (s *QuestionStore) CountActive(ctx context.Context) (int, error) {
	qs, err := s.ListActive(ctx)
	return len(qs), err
}

// ResolveExpired moves expired active questions to resolved under the lock,
// so a question is returned by exactly one call.
func (s *QuestionStore) ResolveExpired(_ context.Context, now time.Time) ([]domain.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("questions.resolve_expired"); err != nil {
		return nil, err
	}
	var out []domain.Question
	for id, q := range s.db.questions {
		if q.Status != domain.QuestionStatusActive || !q.IsExpired(now) {
			continue
		}
		at := now
		q.Status = domain.QuestionStatusResolved
		q.ResolvedAt = &at
		s.db.questions[id] = q
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// GetByNumber retrieves a question by its sequence number.
func (s *QuestionStore) GetByNumber(_ context.Context, number int64) (domain.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, q := range s.db.questions {
		if q.Number == number {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrNotFound
}

// UpdateOracleCommit records the oracle receipt for a commitment.
func (s *QuestionStore) UpdateOracleCommit(_ context.Context, c domain.OracleCommit) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("questions.oracle_commit"); err != nil {
		return err
	}
	q, ok := s.db.questions[c.QuestionID]
	if !ok {
		return domain.ErrNotFound
	}
	q.OracleSessionID = c.SessionID
	q.OracleCommitment = c.Commitment
	q.OracleCommitTxHash = c.TxHash
	q.OracleCommitBlock = c.BlockNumber
	s.db.questions[q.ID] = q
	return nil
}

// UpdateOracleReveal records the oracle receipt for a reveal.
func (s *QuestionStore) UpdateOracleReveal(_ context.Context, r domain.OracleReveal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("questions.oracle_reveal"); err != nil {
		return err
	}
	q, ok := s.db.questions[r.QuestionID]
	if !ok {
		return domain.ErrNotFound
	}
	q.OracleRevealTxHash = r.TxHash
	q.OracleRevealBlock = r.BlockNumber
	s.db.questions[q.ID] = q
	return nil
}

// ---------------------------------------------------------------------------
// Markets
// ---------------------------------------------------------------------------

// MarketStore implements domain.MarketStore.
type MarketStore struct{ db *DB }

// GetByID retrieves a market by id.
func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("markets.get"); err != nil {
		return domain.Market{}, err
	}
	m, ok := s.db.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// ListActive returns unresolved markets, newest first.
func (s *MarketStore) ListActive(_ context.Context) ([]domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Market
	for _, m := range s.db.markets {
		if !m.Resolved {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SetOnChainID records the ledger identifier.
func (s *MarketStore) SetOnChainID(_ context.Context, id, onChainID string) error {
	return s.update(id, func(m *domain.Market) { m.OnChainID = onChainID })
}

// AddShares increments outstanding shares on one side.
func (s *MarketStore) AddShares(_ context.Context, id string, side domain.OutcomeSide, shares float64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.markets[id]
	if !ok || m.Resolved {
		return domain.ErrNotFound
	}
	if side == domain.OutcomeNo {
		m.NoShares += shares
	} else {
		m.YesShares += shares
	}
	s.db.markets[id] = m
	return nil
}

// MarkResolved closes the market with its outcome.
func (s *MarketStore) MarkResolved(_ context.Context, id string, outcome bool, txHash, outcomeHash string) error {
	return s.update(id, func(m *domain.Market) {
		m.Resolved = true
		o := outcome
		m.Outcome = &o
		if txHash != "" {
			m.ResolutionTxHash = txHash
			m.OnChainResolved = true
		}
		if outcomeHash != "" {
			m.OutcomeHash = outcomeHash
		}
	})
}

func (s *MarketStore) update(id string, fn func(*domain.Market)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("markets.update"); err != nil {
		return err
	}
	m, ok := s.db.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&m)
	s.db.markets[id] = m
	return nil
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PositionStore implements domain.PositionStore.
type PositionStore struct{ db *DB }

func positionKey(userID, marketID string, side domain.OutcomeSide) string {
	return userID + "|" + marketID + "|" + string(side)
}

// Seed inserts a holding as-is. Tests use it to arrange market state.
func (s *PositionStore) Seed(p domain.Position) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.db.positions[positionKey(p.UserID, p.MarketID, p.Side)] = p
}

// ListByMarket returns every holding of the market.
func (s *PositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Position
	for _, p := range s.db.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// AddShares upserts the holding keeping a share-weighted average price.
func (s *PositionStore) AddShares(_ context.Context, userID, marketID string, side domain.OutcomeSide, shares, price float64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("positions.add"); err != nil {
		return err
	}
	key := positionKey(userID, marketID, side)
	now := time.Now()
	p, ok := s.db.positions[key]
	if !ok {
		p = domain.Position{
			ID: uuid.NewString(), UserID: userID, MarketID: marketID,
			Side: side, CreatedAt: now,
		}
	}
	total := p.Shares + shares
	if total != 0 {
		p.AvgPrice = (p.Shares*p.AvgPrice + shares*price) / total
	}
	p.Shares = total
	p.UpdatedAt = now
	s.db.positions[key] = p
	return nil
}

// PoolPositionStore implements domain.PoolPositionStore.
type PoolPositionStore struct{ db *DB }

// Open inserts a new open position.
func (s *PoolPositionStore) Open(_ context.Context, p domain.PoolPosition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("pool_positions.open"); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.db.pool[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.db.pool[p.ID] = p
	return nil
}

// ListOpen returns all open positions.
func (s *PoolPositionStore) ListOpen(_ context.Context) ([]domain.PoolPosition, error) {
	return s.filter(func(p domain.PoolPosition) bool { return p.Open() })
}

// ListOpenByPool returns the open positions of one pool.
func (s *PoolPositionStore) ListOpenByPool(_ context.Context, poolID string) ([]domain.PoolPosition, error) {
	return s.filter(func(p domain.PoolPosition) bool { return p.Open() && p.PoolID == poolID })
}

// Close closes every open position of the pool on ticker.
func (s *PoolPositionStore) Close(_ context.Context, poolID, ticker string, at time.Time) ([]domain.PoolPosition, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("pool_positions.close"); err != nil {
		return nil, err
	}
	var out []domain.PoolPosition
	for id, p := range s.db.pool {
		if p.Open() && p.PoolID == poolID && p.Ticker == ticker {
			closedAt := at
			p.ClosedAt = &closedAt
			s.db.pool[id] = p
			out = append(out, p)
		}
	}
	sortPool(out)
	return out, nil
}

func (s *PoolPositionStore) filter(keep func(domain.PoolPosition) bool) ([]domain.PoolPosition, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("pool_positions.list"); err != nil {
		return nil, err
	}
	var out []domain.PoolPosition
	for _, p := range s.db.pool {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortPool(out)
	return out, nil
}

func sortPool(ps []domain.PoolPosition) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

// OrganizationStore implements domain.OrganizationStore.
type OrganizationStore struct{ db *DB }

// List returns organizations ordered by id.
func (s *OrganizationStore) List(_ context.Context) ([]domain.Organization, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("organizations.list"); err != nil {
		return nil, err
	}
	out := make([]domain.Organization, 0, len(s.db.orgs))
	for _, o := range s.db.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of organizations.
func (s *OrganizationStore) Count(_ context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.orgs), nil
}

// Upsert inserts an organization or refreshes its descriptive fields.
func (s *OrganizationStore) Upsert(_ context.Context, o domain.Organization) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("organizations.upsert"); err != nil {
		return err
	}
	if existing, ok := s.db.orgs[o.ID]; ok {
		o.InitialPrice = existing.InitialPrice
		o.CurrentPrice = existing.CurrentPrice
	}
	s.db.orgs[o.ID] = o
	return nil
}

// UpdatePrice sets the current price and appends the history row.
func (s *OrganizationStore) UpdatePrice(_ context.Context, p domain.PricePoint) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("organizations.update_price"); err != nil {
		return err
	}
	o, ok := s.db.orgs[p.OrganizationID]
	if !ok {
		return domain.ErrNotFound
	}
	o.CurrentPrice = p.Price
	o.UpdatedAt = p.RecordedAt
	s.db.orgs[o.ID] = o
	s.db.history[o.ID] = append(s.db.history[o.ID], p)
	return nil
}

// PriceHistory returns up to limit points, newest first.
func (s *OrganizationStore) PriceHistory(_ context.Context, orgID string, limit int) ([]domain.PricePoint, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	h := s.db.history[orgID]
	out := make([]domain.PricePoint, 0, len(h))
	for i := len(h) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, h[i])
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Actors and balances
// ---------------------------------------------------------------------------

// ActorStore implements domain.ActorStore.
type ActorStore struct{ db *DB }

func (s *ActorStore) withBalance(a domain.Actor) domain.Actor {
	a.Balance = s.db.balances[a.ID]
	return a
}

// List returns actors ordered by id.
func (s *ActorStore) List(_ context.Context) ([]domain.Actor, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("actors.list"); err != nil {
		return nil, err
	}
	out := make([]domain.Actor, 0, len(s.db.actors))
	for _, a := range s.db.actors {
		out = append(out, s.withBalance(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get retrieves one actor.
func (s *ActorStore) Get(_ context.Context, id string) (domain.Actor, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.actors[id]
	if !ok {
		return domain.Actor{}, domain.ErrNotFound
	}
	return s.withBalance(a), nil
}

// Count returns the number of actors.
func (s *ActorStore) Count(_ context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.actors), nil
}

// Upsert inserts an actor and seeds its balance once.
func (s *ActorStore) Upsert(_ context.Context, a domain.Actor) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("actors.upsert"); err != nil {
		return err
	}
	if existing, ok := s.db.actors[a.ID]; ok {
		a.Reputation = existing.Reputation
		a.Alpha = existing.Alpha
		a.GroupID = existing.GroupID
		a.CreatedAt = existing.CreatedAt
	}
	if _, ok := s.db.balances[a.ID]; !ok {
		s.db.balances[a.ID] = a.Balance
	}
	a.Balance = 0
	s.db.actors[a.ID] = a
	return nil
}

// UpdateReputation overwrites an actor's reputation.
func (s *ActorStore) UpdateReputation(_ context.Context, id string, reputation float64) error {
	return s.update(id, func(a *domain.Actor) { a.Reputation = reputation })
}

// SetAlpha flags the actor as alpha.
func (s *ActorStore) SetAlpha(_ context.Context, id string) error {
	return s.update(id, func(a *domain.Actor) { a.Alpha = true })
}

// SetGroup moves the actor into groupID.
func (s *ActorStore) SetGroup(_ context.Context, id, groupID string) error {
	return s.update(id, func(a *domain.Actor) { a.GroupID = groupID })
}

func (s *ActorStore) update(id string, fn func(*domain.Actor)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("actors.update"); err != nil {
		return err
	}
	a, ok := s.db.actors[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&a)
	s.db.actors[id] = a
	return nil
}

// BalanceStore implements domain.BalanceStore.
type BalanceStore struct{ db *DB }

// Balance returns the owner's balance, zero when unknown.
func (s *BalanceStore) Balance(_ context.Context, ownerID string) (float64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.balances[ownerID], nil
}

// Debit subtracts amount when the balance covers it.
func (s *BalanceStore) Debit(_ context.Context, ownerID string, amount float64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("balances.debit"); err != nil {
		return err
	}
	if s.db.balances[ownerID] < amount {
		return domain.ErrInsufficientBalance
	}
	s.db.balances[ownerID] -= amount
	return nil
}

// Credit adds amount.
func (s *BalanceStore) Credit(_ context.Context, ownerID string, amount float64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("balances.credit"); err != nil {
		return err
	}
	s.db.balances[ownerID] += amount
	return nil
}

// ---------------------------------------------------------------------------
// Content, trades, widgets, state
// ---------------------------------------------------------------------------

// ContentStore implements domain.ContentStore.
type ContentStore struct{ db *DB }

// CreatePost appends a post.
func (s *ContentStore) CreatePost(_ context.Context, p domain.Post) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("content.create_post"); err != nil {
		return err
	}
	s.db.posts = append(s.db.posts, p)
	return nil
}

// ListPostsSince returns up to limit posts at or after since, newest first.
func (s *ContentStore) ListPostsSince(_ context.Context, since time.Time, limit int) ([]domain.Post, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Post
	for _, p := range s.db.posts {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateEvent appends a world event.
func (s *ContentStore) CreateEvent(_ context.Context, e domain.WorldEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("content.create_event"); err != nil {
		return err
	}
	s.db.events = append(s.db.events, e)
	return nil
}

// ListEventsSince returns up to limit events at or after since, newest first.
func (s *ContentStore) ListEventsSince(_ context.Context, since time.Time, limit int) ([]domain.WorldEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.WorldEvent
	for _, e := range s.db.events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct{ db *DB }

// Insert records a trade; replays of the same id are ignored.
func (s *TradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("trades.insert"); err != nil {
		return err
	}
	if _, ok := s.db.trades[t.ID]; !ok {
		s.db.trades[t.ID] = t
	}
	return nil
}

// MarketVolumes sums traded amount per prediction market since the given time.
func (s *TradeStore) MarketVolumes(_ context.Context, since time.Time) (map[string]float64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[string]float64)
	for _, t := range s.db.trades {
		if t.MarketID != "" && !t.ExecutedAt.Before(since) {
			out[t.MarketID] += t.Amount
		}
	}
	return out, nil
}

// RealizedPnL sums realized PnL per actor.
func (s *TradeStore) RealizedPnL(_ context.Context) (map[string]float64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[string]float64)
	for _, t := range s.db.trades {
		out[t.ActorID] += t.PnL
	}
	return out, nil
}

// All returns every trade ordered by execution time. Tests use it.
func (s *TradeStore) All() []domain.Trade {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.Trade, 0, len(s.db.trades))
	for _, t := range s.db.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out
}

// WidgetStore implements domain.WidgetStore.
type WidgetStore struct{ db *DB }

// Upsert overwrites the cached blob.
func (s *WidgetStore) Upsert(_ context.Context, w domain.WidgetCache) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("widgets.upsert"); err != nil {
		return err
	}
	s.db.widgets[w.Widget] = w
	return nil
}

// Get returns the cached blob.
func (s *WidgetStore) Get(_ context.Context, widget string) (domain.WidgetCache, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.widgets[widget]
	if !ok {
		return domain.WidgetCache{}, domain.ErrNotFound
	}
	return w, nil
}

// StateStore implements domain.StateStore.
type StateStore struct{ db *DB }

// GetTime returns the timestamp stored under key.
func (s *StateStore) GetTime(_ context.Context, key string) (time.Time, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.state[key]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	return t, nil
}

// SetTime stores t under key.
func (s *StateStore) SetTime(_ context.Context, key string, t time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("state.set"); err != nil {
		return err
	}
	s.db.state[key] = t
	return nil
}

var (
	_ domain.QuestionStore     = (*QuestionStore)(nil)
	_ domain.MarketStore       = (*MarketStore)(nil)
	_ domain.PositionStore     = (*PositionStore)(nil)
	_ domain.PoolPositionStore = (*PoolPositionStore)(nil)
	_ domain.OrganizationStore = (*OrganizationStore)(nil)
	_ domain.ActorStore        = (*ActorStore)(nil)
	_ domain.BalanceStore      = (*BalanceStore)(nil)
	_ domain.ContentStore      = (*ContentStore)(nil)
	_ domain.TradeStore        = (*TradeStore)(nil)
	_ domain.WidgetStore       = (*WidgetStore)(nil)
	_ domain.StateStore        = (*StateStore)(nil)
)
