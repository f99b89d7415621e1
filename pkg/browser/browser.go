// Package browser defines the browsing session the crawler drives and ships
// a go-rod implementation of it.
//
// The core never sees selectors or CDP. It navigates, applies a value-range
// filter, advances pages and reads back the captured listing response.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	errs "marketcrawl/pkg/errors"
)

// ErrExhausted is returned by AdvancePage when there is no next page
var ErrExhausted = errors.New("browser: no more pages")

// Response is a captured listing response
type Response struct {
	Status int
	URL    string
	Body   []byte
}

// Err classifies a non-2xx status
func (r *Response) Err() error {
	if e := errs.FromStatusCode(r.Status, fmt.Sprintf("listing response from %s", r.URL)); e != nil {
		return e
	}
	return nil
}

// Listing is the envelope of a listing response. Records are opaque.
type Listing struct {
	TotalCount int
	Records    []json.RawMessage
}

type listingEnvelope struct {
	TotalCount *int              `json:"TotalCount"`
	Data       []json.RawMessage `json:"Data"`
}

// ParseListing decodes the listing envelope. A missing TotalCount reads as
// zero; a body that is not a JSON object is malformed.
func ParseListing(resp *Response) (*Listing, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || body[0] != '{' {
		return nil, errs.New(errs.ErrorTypeMalformedResponse, "listing body is not a JSON object").WithCode(resp.Status)
	}

	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to decode listing").WithCode(resp.Status)
	}

	listing := &Listing{Records: env.Data}
	if env.TotalCount != nil {
		listing.TotalCount = *env.TotalCount
	}
	return listing, nil
}

// Session is one browsing window with its own viewport fingerprint. It is
// driven by a single goroutine.
type Session interface {
	// Navigate loads url and returns the listing response it triggers
	Navigate(ctx context.Context, url string) (*Response, error)
	// ApplyFilter restricts the current listing to [min, max)
	ApplyFilter(ctx context.Context, min, max float64) (*Response, error)
	// AdvancePage moves to the next page, or returns ErrExhausted
	AdvancePage(ctx context.Context) (*Response, error)
	// PartitionAvailable reports whether the range filter control is shown
	PartitionAvailable(ctx context.Context) bool

	LoginRequired(ctx context.Context) (bool, error)
	CurrentFingerprint(ctx context.Context) (string, error)
	ClearState(ctx context.Context) error
	Reload(ctx context.Context) error

	Close() error
}

// Factory opens sessions. Each new session uses the next viewport.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
	ListingURL(targetID string) string
}
