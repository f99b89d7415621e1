package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/ratelimit"
)

const (
	// DefaultBaseURL is the public metadata API
	DefaultBaseURL = "https://api.csqaq.com"

	goodPath   = "/api/v1/info/good"
	searchPath = "/api/v1/info/get_good_id"

	successCode = 200
	// throttleMarker is sent as a plain-text body when the token is over its quota
	throttleMarker = "Too Many Requests"
)

// Client talks to the item metadata API
type Client struct {
	http   *resty.Client
	logger logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLimiter gates every request on limiter
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(c *Client) {
		c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.WaitConsume(req.Context(), 1)
		})
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// NewClient creates a client for baseURL authenticated with token
func NewClient(baseURL, token string, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("ApiToken", token).
		SetHeader("Accept", "application/json")

	c := &Client{http: rc, logger: log}
	for _, opt := range opts {
		opt(c)
	}

	c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.LogRequest(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
		return nil
	})

	return c
}

// envelope is the common API response shape
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// FetchGood returns the full response document for one item id. The
// document is returned compact and otherwise untouched.
func (c *Client) FetchGood(ctx context.Context, id string) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", id).
		Get(goodPath)
	if err != nil {
		return nil, c.transportError(ctx, err, "fetch good "+id)
	}

	if _, err := decodeEnvelope(resp); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, resp.Body()); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to compact good "+id)
	}
	return buf.Bytes(), nil
}

type searchRequest struct {
	PageIndex int    `json:"page_index"`
	PageSize  int    `json:"page_size"`
	Search    string `json:"search"`
}

type searchPage struct {
	Total int             `json:"total"`
	Data  json.RawMessage `json:"data"`
}

// SearchIDs returns every item matching term, paging until the reported
// total is covered
func (c *Client) SearchIDs(ctx context.Context, term string, pageSize int) ([]json.RawMessage, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	first, err := c.searchPage(ctx, term, 1, pageSize)
	if err != nil {
		return nil, err
	}

	items, err := orderedValues(first.Data)
	if err != nil {
		return nil, err
	}

	pages := (first.Total + pageSize - 1) / pageSize
	for page := 2; page <= pages; page++ {
		next, err := c.searchPage(ctx, term, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("page %d of %q: %w", page, term, err)
		}
		more, err := orderedValues(next.Data)
		if err != nil {
			return nil, err
		}
		items = append(items, more...)
	}

	c.logger.DebugWithFields("Id search finished", map[string]interface{}{
		"term":  term,
		"total": first.Total,
		"items": len(items),
		"pages": pages,
	})
	return items, nil
}

func (c *Client) searchPage(ctx context.Context, term string, page, pageSize int) (*searchPage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(searchRequest{PageIndex: page, PageSize: pageSize, Search: term}).
		Post(searchPath)
	if err != nil {
		return nil, c.transportError(ctx, err, "search "+term)
	}

	env, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}

	var result searchPage
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to decode search page")
	}
	return &result, nil
}

func (c *Client) transportError(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.WithError(err).WithField("op", op).Debug("Metadata request failed")
	return errs.Wrap(errs.ErrorTypeTransientNetwork, err, op)
}

// decodeEnvelope classifies a response. A non-JSON body mentioning the
// throttle marker is a throttle answer, any other non-JSON body is malformed
// and carries the raw text for the error log.
func decodeEnvelope(resp *resty.Response) (*envelope, error) {
	body := resp.Body()

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if strings.Contains(string(body), throttleMarker) || resp.StatusCode() == http.StatusTooManyRequests {
			return nil, errs.New(errs.ErrorTypeUpstreamThrottled, throttleMarker).WithCode(resp.StatusCode())
		}
		if e := errs.FromStatusCode(resp.StatusCode(), resp.Status()); e != nil && e.Type != errs.ErrorTypeMalformedResponse {
			return nil, e
		}
		return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err,
			fmt.Sprintf("undecodable body: %s", truncate(string(body), 512))).WithCode(resp.StatusCode())
	}

	if env.Code != successCode {
		msg := fmt.Sprintf("api error %d: %s", env.Code, env.Msg)
		if e := errs.FromStatusCode(env.Code, msg); e != nil {
			return nil, e
		}
		return nil, errs.New(errs.ErrorTypeMalformedResponse, msg).WithCode(env.Code)
	}
	return &env, nil
}

// orderedValues returns the values of a JSON object in document order, or the
// elements of a JSON array
func orderedValues(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to decode item list")
		}
		return items, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errs.New(errs.ErrorTypeMalformedResponse, "item set is neither an object nor an array")
	}

	var items []json.RawMessage
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to read item key")
		}
		var item json.RawMessage
		if err := dec.Decode(&item); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to read item")
		}
		items = append(items, item)
	}
	return items, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
