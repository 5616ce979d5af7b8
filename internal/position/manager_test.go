package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"oraclebot/internal/config"
	"oraclebot/internal/executor"
	"oraclebot/internal/models"
)

type closedRecord struct {
	id        uint64
	exitPrice decimal.Decimal
	pnl       decimal.Decimal
	reason    string
}

type fillRecord struct {
	id    uint64
	price decimal.Decimal
	size  decimal.Decimal
}

type stubBook struct {
	open      []models.Position
	inserted  []models.Position
	deleted   []uint64
	fills     []fillRecord
	closed    []closedRecord
	hasOpen   bool
	insertErr error
}

func (s *stubBook) OpenPositionIfAbsent(_ context.Context, item *models.Position) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if s.hasOpen {
		return false, nil
	}
	item.ID = uint64(len(s.inserted) + 1)
	// Store a snapshot, as the database would; later in-memory mutation of
	// the caller's struct must not leak into the stored row.
	s.inserted = append(s.inserted, *item)
	return true, nil
}

func (s *stubBook) UpdateEntryFill(_ context.Context, id uint64, price, size decimal.Decimal) error {
	s.fills = append(s.fills, fillRecord{id: id, price: price, size: size})
	for i := range s.inserted {
		if s.inserted[i].ID == id {
			s.inserted[i].EntryPrice = price
			s.inserted[i].SizeUSD = size
		}
	}
	return nil
}

func (s *stubBook) DeletePosition(_ context.Context, id uint64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubBook) ListOpenPositions(_ context.Context) ([]models.Position, error) {
	return s.open, nil
}

func (s *stubBook) ClosePosition(_ context.Context, id uint64, exitPrice, pnl decimal.Decimal, reason string, _ time.Time) error {
	s.closed = append(s.closed, closedRecord{id: id, exitPrice: exitPrice, pnl: pnl, reason: reason})
	return nil
}

type stubMarkets struct {
	markets map[string]*models.Market
	errs    map[string]error
}

func (s *stubMarkets) FetchByConditionID(_ context.Context, id string) (*models.Market, error) {
	if err := s.errs[id]; err != nil {
		return nil, err
	}
	return s.markets[id], nil
}

type stubReanalyzer struct {
	belief *models.Belief
	err    error
	calls  int
}

func (s *stubReanalyzer) Reanalyze(_ context.Context, _ models.Market) (*models.Belief, error) {
	s.calls++
	return s.belief, s.err
}

type stubRisk struct {
	blocked  bool
	slippage bool
	trades   []string
	sources  []string
}

func (s *stubRisk) CanEnter() (bool, string) {
	if s.blocked {
		return false, "trading paused: test"
	}
	return true, ""
}

func (s *stubRisk) SlippageOK(_, _ float64) bool {
	return !s.slippage
}

func (s *stubRisk) RecordTrade(_ decimal.Decimal, source, reason string) {
	s.sources = append(s.sources, source)
	s.trades = append(s.trades, reason)
}

type stubExec struct {
	openErr    error
	openFill   *executor.Fill
	closeCalls int
	openCalls  int
}

func (s *stubExec) Open(_ context.Context, order executor.Order) (*executor.Fill, error) {
	s.openCalls++
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.openFill != nil {
		return s.openFill, nil
	}
	return &executor.Fill{Price: order.Price, SizeUSD: order.SizeUSD}, nil
}

func (s *stubExec) Close(_ context.Context, order executor.Order) (*executor.Fill, error) {
	s.closeCalls++
	return &executor.Fill{Price: order.Price, SizeUSD: order.SizeUSD}, nil
}

type stubSettle struct {
	records []string
}

func (s *stubSettle) RecordSettlement(_ context.Context, market models.Market, _ float64, _ time.Time) error {
	s.records = append(s.records, market.ConditionID)
	return nil
}

func marketAt(yesPrice float64) *models.Market {
	return &models.Market{
		ConditionID: "mkt-1",
		Title:       "Will the incumbent win?",
		Category:    models.CategoryPolitics,
		Outcomes: []models.Outcome{
			{TokenID: "tok-yes", Name: "Yes", Price: yesPrice},
			{TokenID: "tok-no", Name: "No", Price: 1 - yesPrice},
		},
	}
}

func openYesPosition(entry float64) models.Position {
	return models.Position{
		ID:         7,
		MarketID:   "mkt-1",
		TokenID:    "tok-yes",
		Side:       models.SideYes,
		EntryPrice: decimal.NewFromFloat(entry),
		SizeUSD:    decimal.NewFromFloat(50),
		Status:     models.PositionOpen,
		Source:     "scan",
	}
}

func approvedDecision() *models.TradeDecision {
	return &models.TradeDecision{
		Approved:    true,
		MarketID:    "mkt-1",
		TokenID:     "tok-yes",
		Side:        models.SideYes,
		MarketPrice: decimal.NewFromFloat(0.5),
		Probability: 0.7,
		Confidence:  0.8,
		SizeUSD:     decimal.NewFromFloat(40),
	}
}

func newManager(book *stubBook, markets *stubMarkets, re *stubReanalyzer, rk *stubRisk, ex *stubExec, st *stubSettle) *Manager {
	return &Manager{
		Book:        book,
		Markets:     markets,
		Reanalyzer:  re,
		Risk:        rk,
		Exec:        ex,
		Settlements: st,
		Cfg: config.ExitConfig{
			StopLossPct:          0.25,
			ReanalyzeTriggerPct:  0.15,
			ConfidenceFloor:      0.4,
			ConvictionFlipMargin: 0.10,
		},
	}
}

func TestOpenHappyPath(t *testing.T) {
	book := &stubBook{}
	m := newManager(book, nil, nil, &stubRisk{}, &stubExec{}, nil)
	out, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Skipped || out.Position == nil {
		t.Fatalf("skipped: %s", out.Reason)
	}
	if len(book.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(book.inserted))
	}
	if !out.Position.EntryPrice.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("entry price = %s", out.Position.EntryPrice)
	}
}

func TestOpenBlockedByRiskGate(t *testing.T) {
	book := &stubBook{}
	ex := &stubExec{}
	m := newManager(book, nil, nil, &stubRisk{blocked: true}, ex, nil)
	out, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("risk-blocked entry went through")
	}
	if len(book.inserted) != 0 || ex.openCalls != 0 {
		t.Fatalf("blocked entry touched the book or the venue")
	}
}

func TestOpenSlippageSkipsBeforeReserving(t *testing.T) {
	book := &stubBook{}
	m := newManager(book, nil, nil, &stubRisk{slippage: true}, &stubExec{}, nil)
	out, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.6))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("slippage violation went through")
	}
	if len(book.inserted) != 0 {
		t.Fatalf("reservation made despite slippage skip")
	}
}

func TestOpenDuplicateMarketSkips(t *testing.T) {
	book := &stubBook{hasOpen: true}
	ex := &stubExec{}
	m := newManager(book, nil, nil, &stubRisk{}, ex, nil)
	out, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("duplicate market opened twice")
	}
	if ex.openCalls != 0 {
		t.Fatalf("order placed without a reservation")
	}
}

func TestOpenReleasesReservationOnOrderFailure(t *testing.T) {
	book := &stubBook{}
	ex := &stubExec{openErr: errors.New("venue timeout")}
	m := newManager(book, nil, nil, &stubRisk{}, ex, nil)
	if _, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.5)); err == nil {
		t.Fatalf("expected order failure to surface")
	}
	if len(book.deleted) != 1 {
		t.Fatalf("reservation not released: %v", book.deleted)
	}
}

func TestOpenRejectedOrderIsSkipNotError(t *testing.T) {
	book := &stubBook{}
	ex := &stubExec{openErr: &executor.RejectedError{Reason: "insufficient liquidity"}}
	m := newManager(book, nil, nil, &stubRisk{}, ex, nil)
	out, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !out.Skipped || out.Reason != "insufficient liquidity" {
		t.Fatalf("rejection not surfaced as skip: %+v", out)
	}
	if len(book.deleted) != 1 {
		t.Fatalf("reservation not released after rejection")
	}
}

func TestOpenPersistsActualFill(t *testing.T) {
	// The row is reserved at the decision price 0.5; the venue fills at 0.52.
	// The stored row must carry the fill, since the monitor reads entry
	// prices from the store.
	book := &stubBook{}
	ex := &stubExec{openFill: &executor.Fill{
		Price:   decimal.NewFromFloat(0.52),
		SizeUSD: decimal.NewFromFloat(38),
	}}
	m := newManager(book, nil, nil, &stubRisk{}, ex, nil)
	out, err := m.Open(context.Background(), approvedDecision(), *marketAt(0.5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Skipped {
		t.Fatalf("skipped: %s", out.Reason)
	}
	if len(book.fills) != 1 || book.fills[0].id != 1 {
		t.Fatalf("fill not written back: %+v", book.fills)
	}
	if !book.inserted[0].EntryPrice.Equal(decimal.NewFromFloat(0.52)) {
		t.Fatalf("stored entry price = %s, want the 0.52 fill", book.inserted[0].EntryPrice)
	}
	if !book.inserted[0].SizeUSD.Equal(decimal.NewFromFloat(38)) {
		t.Fatalf("stored size = %s, want the 38 fill", book.inserted[0].SizeUSD)
	}
}

func TestStopLossBoundaryHolds(t *testing.T) {
	// Entry 0.5, quote 0.375: a 25% adverse move exactly. The stop loss is
	// strictly greater-than, so the position survives to re-analysis.
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	re := &stubReanalyzer{belief: &models.Belief{Probability: 0.6, Confidence: 0.7}}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.375)}}
	m := newManager(book, markets, re, &stubRisk{}, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 0 {
		t.Fatalf("closed at the boundary: %+v", book.closed)
	}
	if re.calls != 1 {
		t.Fatalf("25%% adverse move should trigger re-analysis, calls = %d", re.calls)
	}
}

func TestStopLossClosesWithoutReanalysis(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	re := &stubReanalyzer{belief: &models.Belief{Probability: 0.9, Confidence: 0.9}}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.35)}}
	rk := &stubRisk{}
	m := newManager(book, markets, re, rk, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].reason != ExitStopLoss {
		t.Fatalf("closed = %+v, want stop_loss", book.closed)
	}
	if re.calls != 0 {
		t.Fatalf("stop loss must not consult the model, calls = %d", re.calls)
	}
	if len(rk.trades) != 1 || rk.trades[0] != ExitStopLoss {
		t.Fatalf("loss not recorded with the risk gate: %v", rk.trades)
	}
	if rk.sources[0] != "scan" {
		t.Fatalf("pnl booked under %q, want the position's source", rk.sources[0])
	}
}

func TestResolutionWinsOverEverything(t *testing.T) {
	// Market resolved YES at 1.0 while the position was deep under water
	// earlier; resolution closes at terminal value without an exit order.
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	resolved := marketAt(0.995)
	ex := &stubExec{}
	st := &stubSettle{}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": resolved}}
	m := newManager(book, markets, &stubReanalyzer{}, &stubRisk{}, ex, st)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].reason != ExitResolution {
		t.Fatalf("closed = %+v, want resolution", book.closed)
	}
	if !book.closed[0].exitPrice.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("exit price = %s, want terminal 1", book.closed[0].exitPrice)
	}
	if ex.closeCalls != 0 {
		t.Fatalf("resolution should settle, not place an exit order")
	}
	if len(st.records) != 1 {
		t.Fatalf("settlement not recorded")
	}
}

func TestReanalysisFailureHolds(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	re := &stubReanalyzer{err: errors.New("llm suspended")}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.40)}}
	m := newManager(book, markets, re, &stubRisk{}, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 0 {
		t.Fatalf("closed on failed re-analysis: %+v", book.closed)
	}
}

func TestEVReversalCloses(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	// Quote 0.42 is an adverse move past the trigger; fresh belief 0.30 says
	// the held YES side is now overpriced.
	re := &stubReanalyzer{belief: &models.Belief{Probability: 0.30, Confidence: 0.8}}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.42)}}
	m := newManager(book, markets, re, &stubRisk{}, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].reason != ExitEVReversal {
		t.Fatalf("closed = %+v, want ev_reversal", book.closed)
	}
}

func TestConvictionFlipCloses(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	// Fresh belief 0.39 still prices the held side fairly against the 0.38
	// quote, but the model now leans NO past the flip margin.
	re := &stubReanalyzer{belief: &models.Belief{Probability: 0.39, Confidence: 0.8}}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.38)}}
	m := newManager(book, markets, re, &stubRisk{}, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].reason != ExitConvictionFlip {
		t.Fatalf("closed = %+v, want conviction_flip", book.closed)
	}
}

func TestLowConfidenceCloses(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	re := &stubReanalyzer{belief: &models.Belief{Probability: 0.55, Confidence: 0.3}}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.42)}}
	m := newManager(book, markets, re, &stubRisk{}, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].reason != ExitLowConfidence {
		t.Fatalf("closed = %+v, want low_confidence", book.closed)
	}
}

type stubMarks struct {
	prices map[string]float64
}

func (s *stubMarks) Price(tokenID string) (float64, bool) {
	p, ok := s.prices[tokenID]
	return p, ok
}

func TestFreshBenignMarkSkipsMarketRefresh(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	// The refresh would fail; a quiet streamed mark means it is never made.
	markets := &stubMarkets{errs: map[string]error{"mkt-1": errors.New("should not be called")}}
	m := newManager(book, markets, &stubReanalyzer{}, &stubRisk{}, &stubExec{}, nil)
	m.Marks = &stubMarks{prices: map[string]float64{"tok-yes": 0.48}}
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 0 {
		t.Fatalf("quiet position closed: %+v", book.closed)
	}
}

func TestAdverseMarkStillRefreshesMarket(t *testing.T) {
	book := &stubBook{open: []models.Position{openYesPosition(0.5)}}
	markets := &stubMarkets{markets: map[string]*models.Market{"mkt-1": marketAt(0.35)}}
	m := newManager(book, markets, &stubReanalyzer{}, &stubRisk{}, &stubExec{}, nil)
	m.Marks = &stubMarks{prices: map[string]float64{"tok-yes": 0.35}}
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].reason != ExitStopLoss {
		t.Fatalf("closed = %+v, want stop_loss via refreshed quote", book.closed)
	}
}

func TestMonitorIsolatesFaultyPositions(t *testing.T) {
	broken := openYesPosition(0.5)
	broken.ID = 1
	broken.MarketID = "mkt-broken"
	healthy := openYesPosition(0.5)
	healthy.ID = 2
	book := &stubBook{open: []models.Position{broken, healthy}}
	markets := &stubMarkets{
		markets: map[string]*models.Market{"mkt-1": marketAt(0.35)},
		errs:    map[string]error{"mkt-broken": errors.New("gamma 500")},
	}
	m := newManager(book, markets, &stubReanalyzer{}, &stubRisk{}, &stubExec{}, nil)
	if err := m.MonitorOnce(context.Background()); err != nil {
		t.Fatalf("MonitorOnce: %v", err)
	}
	if len(book.closed) != 1 || book.closed[0].id != 2 {
		t.Fatalf("healthy position not processed after faulty one: %+v", book.closed)
	}
}
