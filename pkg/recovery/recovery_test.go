package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/retry"
)

// fakeResetter rotates its fingerprint on Reload only when rotate allows it
type fakeResetter struct {
	fingerprint   string
	loginRequired bool
	reloads       int
	clears        int
	rotate        func(reload int) bool
	reloadErr     error
}

func (f *fakeResetter) LoginRequired(ctx context.Context) (bool, error) {
	return f.loginRequired, nil
}

func (f *fakeResetter) CurrentFingerprint(ctx context.Context) (string, error) {
	return f.fingerprint, nil
}

func (f *fakeResetter) ClearState(ctx context.Context) error {
	f.clears++
	return nil
}

func (f *fakeResetter) Reload(ctx context.Context) error {
	f.reloads++
	if f.reloadErr != nil {
		return f.reloadErr
	}
	if f.rotate == nil || f.rotate(f.reloads) {
		f.fingerprint = fmt.Sprintf("uk-%d", f.reloads)
	}
	return nil
}

type memJournal struct {
	entries []string
}

func (j *memJournal) Record(unit models.WorkUnit, outcome string) error {
	j.entries = append(j.entries, unit.String()+" "+outcome)
	return nil
}

func newTestPolicy(journal Journal) (*Policy, *[]time.Duration) {
	p := NewPolicy(Config{
		MaxAttempts: 5,
		Backoff:     &retry.ConstantBackoff{Delay: time.Second},
		SettleDelay: 5 * time.Second,
	}, journal, logger.NewNopLogger())

	var waits []time.Duration
	p.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

var unit = models.RangeUnit("1", 0.1, 0.11)

func TestRecoverSucceeds(t *testing.T) {
	journal := &memJournal{}
	p, waits := newTestPolicy(journal)
	r := &fakeResetter{fingerprint: "uk-0"}

	p.ReportFailure(unit, errs.New(errs.ErrorTypeTransientNetwork, "timeout"))
	assert.Equal(t, Suspect, p.State())

	require.NoError(t, p.Recover(context.Background(), r, unit))
	assert.Equal(t, Healthy, p.State())
	assert.Equal(t, 1, p.Attempts())
	assert.Equal(t, 1, r.clears)
	assert.Equal(t, []time.Duration{5 * time.Second}, *waits)

	assert.Equal(t, []string{
		"1[0.1-0.11] Suspect",
		"1[0.1-0.11] Resetting",
		"1[0.1-0.11] Healthy",
	}, journal.entries)
}

func TestRecoverRetriesUntilFingerprintRotates(t *testing.T) {
	p, waits := newTestPolicy(nil)
	r := &fakeResetter{
		fingerprint: "uk-0",
		rotate:      func(reload int) bool { return reload == 3 },
	}

	require.NoError(t, p.Recover(context.Background(), r, unit))
	assert.Equal(t, 3, p.Attempts())
	assert.Equal(t, Healthy, p.State())
	assert.Equal(t, []time.Duration{time.Second, time.Second, 5 * time.Second}, *waits)
}

func TestRecoverEmptyFingerprintIsFailure(t *testing.T) {
	p, _ := newTestPolicy(nil)
	r := &fakeResetter{rotate: func(int) bool { return false }}

	err := p.Recover(context.Background(), r, unit)
	assert.True(t, errs.Is(err, errs.ErrorTypeRetryBudgetExhausted))
}

func TestRecoverBudgetExhausted(t *testing.T) {
	journal := &memJournal{}
	p, waits := newTestPolicy(journal)
	r := &fakeResetter{
		fingerprint: "stuck",
		rotate:      func(int) bool { return false },
	}

	p.ReportFailure(unit, errors.New("timeout"))
	err := p.Recover(context.Background(), r, unit)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeRetryBudgetExhausted))
	assert.True(t, errs.IsFatal(errs.TypeOf(err)))
	assert.Equal(t, Aborted, p.State())
	assert.Equal(t, 5, r.reloads)
	assert.Equal(t, 5, p.Attempts())
	assert.Len(t, *waits, 4)
	assert.Equal(t, "1[0.1-0.11] Aborted", journal.entries[len(journal.entries)-1])

	// Aborted is terminal, no sixth attempt is made
	again := p.Recover(context.Background(), r, unit)
	assert.Equal(t, err, again)
	assert.Equal(t, 5, r.reloads)
}

func TestRecoverLoginRequiredAbortsImmediately(t *testing.T) {
	p, waits := newTestPolicy(nil)
	r := &fakeResetter{fingerprint: "uk-0", loginRequired: true}

	err := p.Recover(context.Background(), r, unit)

	assert.True(t, errs.Is(err, errs.ErrorTypeSessionInvalid))
	assert.Equal(t, Aborted, p.State())
	assert.Zero(t, r.reloads)
	assert.Empty(t, *waits)
}

func TestRecoverReloadErrorsCountAgainstBudget(t *testing.T) {
	p, _ := newTestPolicy(nil)
	r := &fakeResetter{fingerprint: "uk-0", reloadErr: errors.New("navigation timeout")}

	err := p.Recover(context.Background(), r, unit)
	assert.True(t, errs.Is(err, errs.ErrorTypeRetryBudgetExhausted))
	assert.Equal(t, 5, r.reloads)
}

func TestRecoverWithOpenFailureCountsAsAttempt(t *testing.T) {
	p, waits := newTestPolicy(nil)
	r := &fakeResetter{fingerprint: "uk-0"}

	opens := 0
	open := func(ctx context.Context) (Resetter, error) {
		opens++
		if opens == 1 {
			return nil, errs.New(errs.ErrorTypeTransientNetwork, "root navigation timeout")
		}
		return r, nil
	}

	require.NoError(t, p.RecoverWith(context.Background(), open, unit))
	assert.Equal(t, 2, opens)
	assert.Equal(t, 2, p.Attempts())
	assert.Equal(t, 1, r.reloads)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, *waits)
}

func TestRecoverWithOpenFailuresExhaustBudget(t *testing.T) {
	p, _ := newTestPolicy(nil)

	opens := 0
	open := func(ctx context.Context) (Resetter, error) {
		opens++
		return nil, errs.New(errs.ErrorTypeTransientNetwork, "root navigation timeout")
	}

	err := p.RecoverWith(context.Background(), open, unit)
	assert.True(t, errs.Is(err, errs.ErrorTypeRetryBudgetExhausted))
	assert.Equal(t, 5, opens)
	assert.Equal(t, Aborted, p.State())
}

func TestRecoverWithKeepsOpenedSession(t *testing.T) {
	p, _ := newTestPolicy(nil)
	r := &fakeResetter{fingerprint: "uk-0", rotate: func(reload int) bool { return reload == 2 }}

	opens := 0
	open := func(ctx context.Context) (Resetter, error) {
		opens++
		return r, nil
	}

	require.NoError(t, p.RecoverWith(context.Background(), open, unit))
	assert.Equal(t, 1, opens)
	assert.Equal(t, 2, r.reloads)
}

func TestRecoverWithSessionInvalidOpenAborts(t *testing.T) {
	p, _ := newTestPolicy(nil)

	opens := 0
	open := func(ctx context.Context) (Resetter, error) {
		opens++
		return nil, errs.New(errs.ErrorTypeSessionInvalid, "signed out")
	}

	err := p.RecoverWith(context.Background(), open, unit)
	assert.True(t, errs.Is(err, errs.ErrorTypeSessionInvalid))
	assert.Equal(t, 1, opens)
	assert.Equal(t, Aborted, p.State())
}

func TestAbortJournalsAndSticks(t *testing.T) {
	journal := &memJournal{}
	p, _ := newTestPolicy(journal)
	cause := errs.New(errs.ErrorTypeSessionInvalid, "status 401")

	err := p.Abort(unit, cause)
	assert.Equal(t, cause, err)
	assert.Equal(t, Aborted, p.State())
	assert.Equal(t, []string{"1[0.1-0.11] Aborted"}, journal.entries)

	// the first cause wins and nothing is journaled twice
	assert.Equal(t, cause, p.Abort(unit, errors.New("later")))
	assert.Equal(t, cause, p.Recover(context.Background(), &fakeResetter{fingerprint: "uk-0"}, unit))
	assert.Len(t, journal.entries, 1)
}

func TestRecoverFromHealthyResetsFreshSession(t *testing.T) {
	journal := &memJournal{}
	p, _ := newTestPolicy(journal)
	start := models.FullUnit("session")

	require.NoError(t, p.Recover(context.Background(), &fakeResetter{fingerprint: "uk-0"}, start))
	assert.Equal(t, []string{"session[full] Resetting", "session[full] Healthy"}, journal.entries)
}

func TestRecoverCancelled(t *testing.T) {
	p, _ := newTestPolicy(nil)
	r := &fakeResetter{fingerprint: "stuck", rotate: func(int) bool { return false }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Recover(ctx, r, unit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Suspect, p.State())
}

func TestBudgetResetsAfterSuccess(t *testing.T) {
	p, _ := newTestPolicy(nil)
	r := &fakeResetter{
		fingerprint: "uk-0",
		rotate:      func(reload int) bool { return reload%4 == 0 },
	}

	require.NoError(t, p.Recover(context.Background(), r, unit))
	assert.Equal(t, 4, p.Attempts())

	p.ReportFailure(unit, errors.New("timeout"))
	require.NoError(t, p.Recover(context.Background(), r, unit))
	assert.Equal(t, 4, p.Attempts())
	assert.Equal(t, Healthy, p.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Resetting", Resetting.String())
	assert.Equal(t, "State(9)", State(9).String())
}
