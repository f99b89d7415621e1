package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcrawl/pkg/browser"
	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/ledger"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/recovery"
	"marketcrawl/pkg/retry"
	"marketcrawl/pkg/storage"
)

// fakeMarket serves a single listing of total records and doubles as the
// session factory
type fakeMarket struct {
	total              int
	pageSize           int
	partitionAvailable bool
	noRotate           bool
	loginRequired      bool
	// fail may replace the answer of a call; nil, nil means answer normally
	fail func(op string, call int, min float64) (*browser.Response, error)
	// openFail may fail the n-th NewSession call
	openFail func(call int) error

	navigations int
	advances    int
	filters     []float64
	sessions    int
}

func (m *fakeMarket) NewSession(ctx context.Context) (browser.Session, error) {
	m.sessions++
	if m.openFail != nil {
		if err := m.openFail(m.sessions); err != nil {
			return nil, err
		}
	}
	return &fakeSession{m: m, id: m.sessions, fingerprint: fmt.Sprintf("uk-%d", m.sessions)}, nil
}

func (m *fakeMarket) ListingURL(targetID string) string {
	return "https://market.test/goods-list?templateId=" + targetID
}

func (m *fakeMarket) page(n int) *browser.Response {
	var data []string
	for i := (n - 1) * m.pageSize; i < n*m.pageSize && i < m.total; i++ {
		data = append(data, fmt.Sprintf(`{"rank":%d}`, i))
	}
	return listingResponse(m.total, data)
}

func listingResponse(total int, data []string) *browser.Response {
	body := fmt.Sprintf(`{"TotalCount":%d,"Data":[%s]}`, total, strings.Join(data, ","))
	return &browser.Response{Status: 200, URL: "https://market.test/api/queryOnSaleCommodityList", Body: []byte(body)}
}

type fakeSession struct {
	m           *fakeMarket
	id          int
	pageNum     int
	fingerprint string
	reloads     int
	closed      bool
}

func (s *fakeSession) check(op string, call int, min float64) (*browser.Response, error) {
	if s.m.fail == nil {
		return nil, nil
	}
	return s.m.fail(op, call, min)
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (*browser.Response, error) {
	s.m.navigations++
	if resp, err := s.check("navigate", s.m.navigations, 0); resp != nil || err != nil {
		return resp, err
	}
	s.pageNum = 1
	return s.m.page(1), nil
}

func (s *fakeSession) ApplyFilter(ctx context.Context, min, max float64) (*browser.Response, error) {
	s.m.filters = append(s.m.filters, min)
	if resp, err := s.check("filter", len(s.m.filters), min); resp != nil || err != nil {
		return resp, err
	}
	return listingResponse(2, []string{
		fmt.Sprintf(`{"min":%v,"best":true}`, min),
		fmt.Sprintf(`{"min":%v,"best":false}`, min),
	}), nil
}

func (s *fakeSession) AdvancePage(ctx context.Context) (*browser.Response, error) {
	s.m.advances++
	if resp, err := s.check("advance", s.m.advances, 0); resp != nil || err != nil {
		return resp, err
	}
	if s.pageNum*s.m.pageSize >= s.m.total {
		return nil, browser.ErrExhausted
	}
	s.pageNum++
	return s.m.page(s.pageNum), nil
}

func (s *fakeSession) PartitionAvailable(ctx context.Context) bool {
	return s.m.partitionAvailable
}

func (s *fakeSession) LoginRequired(ctx context.Context) (bool, error) {
	return s.m.loginRequired, nil
}

func (s *fakeSession) CurrentFingerprint(ctx context.Context) (string, error) {
	return s.fingerprint, nil
}

func (s *fakeSession) ClearState(ctx context.Context) error { return nil }

func (s *fakeSession) Reload(ctx context.Context) error {
	s.reloads++
	if !s.m.noRotate {
		s.fingerprint = fmt.Sprintf("uk-%d-%d", s.id, s.reloads)
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeLimiter admits everything and remembers freezes
type fakeLimiter struct {
	consumed float64
	freezes  []time.Duration
}

func (l *fakeLimiter) TryConsume(amount float64) bool {
	l.consumed += amount
	return true
}

func (l *fakeLimiter) WaitConsume(ctx context.Context, amount float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.consumed += amount
	return nil
}

func (l *fakeLimiter) Freeze(d time.Duration) {
	l.freezes = append(l.freezes, d)
}

type harness struct {
	market  *fakeMarket
	limiter *fakeLimiter
	ledger  *ledger.Ledger
	output  string
	orch    *Orchestrator
}

func newHarness(t *testing.T, market *fakeMarket, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()

	l, err := ledger.Open(filepath.Join(dir, "scrape.log"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	output := filepath.Join(dir, "scraped_data.jsonl")
	sink, err := storage.OpenSink(output)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	policy := recovery.NewPolicy(recovery.Config{
		MaxAttempts: 5,
		Backoff:     &retry.ConstantBackoff{},
	}, l, logger.NewNopLogger())

	if market.pageSize == 0 {
		market.pageSize = 10
	}
	limiter := &fakeLimiter{}

	orch, err := New(Deps{
		Factory: market,
		Limiter: limiter,
		Ledger:  l,
		Policy:  policy,
		Sink:    sink,
		Logger:  logger.NewNopLogger(),
	}, cfg)
	require.NoError(t, err)
	orch.wait = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	return &harness{market: market, limiter: limiter, ledger: l, output: output, orch: orch}
}

func (h *harness) outputLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.output)
	require.NoError(t, err)
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func transient(msg string) error {
	return errs.New(errs.ErrorTypeTransientNetwork, msg)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRunTrivialPagination(t *testing.T) {
	h := newHarness(t, &fakeMarket{total: 5, partitionAvailable: true}, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0, DomainMax: 1}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Passes)
	assert.Equal(t, 1, summary.UnitsCompleted)
	assert.Equal(t, 5, summary.RecordsWritten)
	assert.Equal(t, 1, h.market.navigations)
	assert.Zero(t, h.market.advances)
	assert.Empty(t, h.market.filters)

	assert.Len(t, h.outputLines(t), 5)
	assert.True(t, h.ledger.IsComplete(models.FullUnit("1")))
	assert.Equal(t, 1, h.ledger.Completed().Len())
}

func TestRunPaginationIncludesProbePage(t *testing.T) {
	h := newHarness(t, &fakeMarket{total: 25}, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "7", DomainMin: 0, DomainMax: 1}})
	require.NoError(t, err)

	assert.Equal(t, 25, summary.RecordsWritten)
	assert.Equal(t, 3, h.market.advances, "two pages then exhaustion")
	assert.Equal(t, float64(4), h.limiter.consumed, "first page plus one per advance")

	lines := h.outputLines(t)
	require.Len(t, lines, 25)
	assert.Equal(t, `{"rank":0}`, lines[0])
	assert.Equal(t, `{"rank":24}`, lines[24])
}

func TestRunPartitionKeepsBestRecord(t *testing.T) {
	h := newHarness(t, &fakeMarket{total: 1000, partitionAvailable: true}, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.UnitsCompleted)
	assert.Len(t, h.market.filters, 5)

	lines := h.outputLines(t)
	require.Len(t, lines, 5)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, true, rec["best"])
	}
	assert.False(t, h.ledger.IsComplete(models.FullUnit("1")))
	assert.True(t, h.ledger.IsComplete(models.RangeUnit("1", 0.11, 0.12)))
}

func TestRunResumesOnlyUnfetchedUnits(t *testing.T) {
	market := &fakeMarket{
		total:              1000,
		partitionAvailable: true,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			if op == "filter" && call == 4 {
				return nil, transient("navigation timeout")
			}
			return nil, nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Passes)
	assert.Equal(t, 1, summary.Recoveries)
	assert.Equal(t, 2, market.sessions)

	require.Len(t, market.filters, 6)
	issued := []float64{0.07, 0.08, 0.09, 0.10, 0.10, 0.11}
	for i, want := range issued {
		assert.True(t, near(want, market.filters[i]), "filter %d: want %v got %v", i, want, market.filters[i])
	}

	for _, done := range []float64{0.07, 0.08, 0.09} {
		count := 0
		for _, f := range market.filters {
			if near(f, done) {
				count++
			}
		}
		assert.Equal(t, 1, count, "unit %v re-issued", done)
	}
	assert.Len(t, h.outputLines(t), 5)
}

func TestRunSessionOpenFailureUsesResetBudget(t *testing.T) {
	market := &fakeMarket{
		total:              1000,
		partitionAvailable: true,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			if op == "filter" && call == 2 {
				return nil, transient("navigation timeout")
			}
			return nil, nil
		},
		openFail: func(call int) error {
			if call == 2 {
				return transient("root navigation timeout")
			}
			return nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Recoveries)
	assert.Equal(t, 3, market.sessions, "failed open then a fresh one")
	assert.Equal(t, 2, summary.Passes)
	assert.Equal(t, recovery.Healthy, h.orch.policy.State())
	assert.Len(t, h.outputLines(t), 5)
}

func TestRunSessionOpenFailuresExhaustBudget(t *testing.T) {
	market := &fakeMarket{
		total: 5,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			return nil, transient("connection reset")
		},
		openFail: func(call int) error {
			if call > 1 {
				return transient("root navigation timeout")
			}
			return nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	_, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMax: 1}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeRetryBudgetExhausted))
	assert.Equal(t, 6, market.sessions, "initial open plus five attempts")
}

func TestRunThrottleFreezesAndRetriesNextPass(t *testing.T) {
	market := &fakeMarket{
		total:              1000,
		partitionAvailable: true,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			if op == "filter" && call == 2 {
				return &browser.Response{Status: 429, URL: "throttled"}, nil
			}
			return nil, nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second}, h.limiter.freezes)
	assert.Equal(t, 1, summary.Throttled)
	assert.Equal(t, 2, summary.Passes)
	assert.Zero(t, summary.Recoveries)
	assert.Equal(t, 1, market.sessions, "throttling never resets the session")
	assert.Len(t, h.outputLines(t), 5)
}

func TestRunMalformedResponseContinues(t *testing.T) {
	market := &fakeMarket{
		total:              1000,
		partitionAvailable: true,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			if op == "filter" && call == 3 {
				return &browser.Response{Status: 200, Body: []byte("<html>blocked</html>")}, nil
			}
			return nil, nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Passes)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 4, summary.UnitsCompleted)
	assert.Len(t, market.filters, 5)
	assert.False(t, h.ledger.IsComplete(models.RangeUnit("1", 0.09, 0.10)))
}

func TestRunSessionInvalidAborts(t *testing.T) {
	market := &fakeMarket{
		total: 5,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			return &browser.Response{Status: 403}, nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	targets := []models.Target{{ID: "1", DomainMax: 1}, {ID: "2", DomainMax: 1}}
	_, err := h.orch.Run(context.Background(), targets)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeSessionInvalid))
	assert.Equal(t, 1, market.navigations, "second target never attempted")
}

func TestRunSessionInvalidJournalsAborted(t *testing.T) {
	market := &fakeMarket{
		total:              1000,
		partitionAvailable: true,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			if op == "filter" && call == 2 {
				return &browser.Response{Status: 401}, nil
			}
			return nil, nil
		},
	}
	h := newHarness(t, market, DefaultConfig())

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeSessionInvalid))
	assert.Equal(t, recovery.Aborted, h.orch.policy.State())
	assert.Zero(t, summary.Recoveries)

	data, err := os.ReadFile(h.ledger.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Aborted")
}

func TestRunLoginPromptAbortsBeforeRequests(t *testing.T) {
	market := &fakeMarket{total: 5, loginRequired: true}
	h := newHarness(t, market, DefaultConfig())

	_, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMax: 1}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeSessionInvalid))
	assert.Zero(t, market.navigations)
}

func TestRunResetBudgetExhausted(t *testing.T) {
	market := &fakeMarket{total: 5, noRotate: true}
	h := newHarness(t, market, DefaultConfig())

	_, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMax: 1}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeRetryBudgetExhausted))
	assert.Zero(t, market.navigations)
}

func TestRunSkipsCompletedTargets(t *testing.T) {
	h := newHarness(t, &fakeMarket{total: 5}, Config{})
	require.NoError(t, h.ledger.Record(models.FullUnit("1"), ledger.OutcomeSuccess))

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMax: 1}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, h.market.navigations)
	assert.Nil(t, h.outputLines(t))
}

func TestRunPassBudgetExhausted(t *testing.T) {
	market := &fakeMarket{
		total: 5,
		fail: func(op string, call int, min float64) (*browser.Response, error) {
			return nil, transient("connection reset")
		},
	}
	cfg := DefaultConfig()
	cfg.MaxPasses = 2
	h := newHarness(t, market, cfg)

	summary, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMax: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPassBudgetExhausted))
	assert.Equal(t, 2, summary.Passes)
	assert.Equal(t, 2, summary.Recoveries)
}

func TestRunDegenerateRangePaginates(t *testing.T) {
	h := newHarness(t, &fakeMarket{total: 30, partitionAvailable: true}, DefaultConfig())

	_, err := h.orch.Run(context.Background(), []models.Target{{ID: "9", DomainMin: 0.5, DomainMax: 0.5}})
	require.NoError(t, err)

	assert.Empty(t, h.market.filters)
	assert.True(t, h.ledger.IsComplete(models.FullUnit("9")))
	assert.Len(t, h.outputLines(t), 30)
}

func TestRunCanceledContext(t *testing.T) {
	h := newHarness(t, &fakeMarket{total: 5}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, []models.Target{{ID: "1", DomainMax: 1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestSelectorUsesRemainingUnits(t *testing.T) {
	// 2 pages of pagination against 5 remaining units picks pagination
	h := newHarness(t, &fakeMarket{total: 20, partitionAvailable: true}, DefaultConfig())

	_, err := h.orch.Run(context.Background(), []models.Target{{ID: "1", DomainMin: 0.07, DomainMax: 0.12}})
	require.NoError(t, err)

	assert.Empty(t, h.market.filters)
	assert.Equal(t, 2, h.market.advances, "second page then exhaustion")
}
