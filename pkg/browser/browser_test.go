package browser

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketcrawl/pkg/config"
	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/logger"
)

func TestParseListing(t *testing.T) {
	resp := &Response{
		Status: 200,
		Body:   []byte(`{"Code":0,"TotalCount":23,"Data":[{"Id":1,"Abrade":"0.1012"},{"Id":2}]}`),
	}

	listing, err := ParseListing(resp)
	require.NoError(t, err)
	assert.Equal(t, 23, listing.TotalCount)
	require.Len(t, listing.Records, 2)
	assert.JSONEq(t, `{"Id":1,"Abrade":"0.1012"}`, string(listing.Records[0]))
}

func TestParseListingMissingFields(t *testing.T) {
	listing, err := ParseListing(&Response{Status: 200, Body: []byte(`{"Data":null}`)})
	require.NoError(t, err)
	assert.Zero(t, listing.TotalCount)
	assert.Empty(t, listing.Records)
}

func TestParseListingMalformed(t *testing.T) {
	for _, body := range []string{"", "<html>blocked</html>", `{"TotalCount":"many"}`, `[1,2]`} {
		_, err := ParseListing(&Response{Status: 200, Body: []byte(body)})
		assert.True(t, errs.Is(err, errs.ErrorTypeMalformedResponse), "body %q", body)
	}
}

func TestResponseErr(t *testing.T) {
	assert.NoError(t, (&Response{Status: 200}).Err())
	assert.True(t, errs.Is((&Response{Status: 429}).Err(), errs.ErrorTypeUpstreamThrottled))
	assert.True(t, errs.Is((&Response{Status: 502}).Err(), errs.ErrorTypeTransientNetwork))
	assert.True(t, errs.Is((&Response{Status: 401}).Err(), errs.ErrorTypeSessionInvalid))
}

func TestViewportCycle(t *testing.T) {
	cycle := NewViewportCycle(1901, 1919, 1051, 1079, rand.New(rand.NewSource(1)))
	require.Equal(t, 19*29, cycle.Len())

	seen := make(map[Viewport]bool)
	first := cycle.Next()
	seen[first] = true
	for i := 1; i < cycle.Len(); i++ {
		v := cycle.Next()
		assert.False(t, seen[v], "viewport %v repeated before cycle end", v)
		assert.GreaterOrEqual(t, v.Width, 1901)
		assert.LessOrEqual(t, v.Height, 1079)
		seen[v] = true
	}
	assert.Equal(t, first, cycle.Next())
}

func TestViewportCycleDegenerate(t *testing.T) {
	cycle := NewViewportCycle(10, 5, 10, 5, nil)
	assert.Equal(t, Viewport{Width: 5, Height: 5}, cycle.Next())
}

func TestSelectorOverrides(t *testing.T) {
	s := DefaultSelectors().WithOverrides(config.SelectorConfig{NextPage: "button.next"})
	assert.Equal(t, "button.next", s.NextPage)
	assert.Equal(t, DefaultSelectors().MinInput, s.MinInput)
}

func TestListingURL(t *testing.T) {
	f := NewRodFactory(config.DefaultConfig().Browser, logger.NewNopLogger())
	assert.Equal(t,
		"https://www.youpin898.com/market/goods-list?listType=10&templateId=44071",
		f.ListingURL("44071"))
}
