package marketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "secret-token", logger.NewNopLogger(), opts...)
}

func TestFetchGood(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, goodPath, r.URL.Path)
		assert.Equal(t, "553", r.URL.Query().Get("id"))
		assert.Equal(t, "secret-token", r.Header.Get("ApiToken"))
		fmt.Fprint(w, `{"code": 200, "msg": "Success",
			"data": {"goods_info": {"id": 553, "name": "AK-47 | Redline"}}}`)
	})

	doc, err := client.FetchGood(context.Background(), "553")
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200,"msg":"Success","data":{"goods_info":{"id":553,"name":"AK-47 | Redline"}}}`, string(doc))
	assert.NotContains(t, string(doc), "\n")
}

func TestFetchGoodClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errs.ErrorType
	}{
		{"plain throttle text", 200, "Too Many Requests", errs.ErrorTypeUpstreamThrottled},
		{"429 status", 429, "slow down", errs.ErrorTypeUpstreamThrottled},
		{"html body", 200, "<html>gateway</html>", errs.ErrorTypeMalformedResponse},
		{"server error", 502, "", errs.ErrorTypeTransientNetwork},
		{"bad token", 200, `{"code":401,"msg":"invalid token"}`, errs.ErrorTypeSessionInvalid},
		{"api error", 200, `{"code":404,"msg":"not found"}`, errs.ErrorTypeMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.FetchGood(context.Background(), "1")
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestMalformedErrorCarriesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "upstream exploded")
	})

	_, err := client.FetchGood(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestSearchIDsPagesInOrder(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, searchPath, r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req searchRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "AK-47", req.Search)
		assert.Equal(t, 2, req.PageSize)

		switch req.PageIndex {
		case 1:
			fmt.Fprint(w, `{"code":200,"data":{"total":3,"data":{"9":{"id":9},"2":{"id":2}}}}`)
		case 2:
			fmt.Fprint(w, `{"code":200,"data":{"total":3,"data":{"5":{"id":5}}}}`)
		default:
			t.Errorf("unexpected page %d", req.PageIndex)
		}
	})

	items, err := client.SearchIDs(context.Background(), "AK-47", 2)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.JSONEq(t, `{"id":9}`, string(items[0]))
	assert.JSONEq(t, `{"id":2}`, string(items[1]))
	assert.JSONEq(t, `{"id":5}`, string(items[2]))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearchIDsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{"total":0,"data":[]}}`)
	})

	items, err := client.SearchIDs(context.Background(), "nothing", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

type countingLimiter struct {
	waits int32
}

func (l *countingLimiter) TryConsume(amount float64) bool { return true }
func (l *countingLimiter) Freeze(d time.Duration)         {}
func (l *countingLimiter) WaitConsume(ctx context.Context, amount float64) error {
	atomic.AddInt32(&l.waits, 1)
	return ctx.Err()
}

func TestLimiterGatesEveryRequest(t *testing.T) {
	limiter := &countingLimiter{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{"total":4,"data":[{"id":1},{"id":2}]}}`)
	}, WithLimiter(limiter), WithTimeout(5*time.Second))

	items, err := client.SearchIDs(context.Background(), "M4A1", 2)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, int32(2), atomic.LoadInt32(&limiter.waits))
}

func TestCanceledContextIsNotTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{}}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchGood(ctx, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrderedValues(t *testing.T) {
	items, err := orderedValues(json.RawMessage(`{"b":1,"a":{"x":[1,2]},"c":"s"}`))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, `1`, string(items[0]))
	assert.Equal(t, `{"x":[1,2]}`, string(items[1]))
	assert.Equal(t, `"s"`, string(items[2]))

	items, err = orderedValues(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, items)

	_, err = orderedValues(json.RawMessage(`42`))
	assert.True(t, errs.Is(err, errs.ErrorTypeMalformedResponse))
}
