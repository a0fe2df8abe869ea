package geocode

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://nominatim.example.org/reverse"

func newMocked(t *testing.T) *Nominatim {
	t.Helper()
	n := NewNominatim(testURL, "lora-alerts-test", 5*time.Second)
	httpmock.ActivateNonDefault(n.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return n
}

func TestResolve(t *testing.T) {
	n := newMocked(t)

	httpmock.RegisterResponder(http.MethodGet, testURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "51.5", req.URL.Query().Get("lat"))
		assert.Equal(t, "-0.12", req.URL.Query().Get("lon"))
		assert.Equal(t, "jsonv2", req.URL.Query().Get("format"))
		assert.Equal(t, "lora-alerts-test", req.Header.Get("User-Agent"))
		return httpmock.NewStringResponse(http.StatusOK, `{"display_name":"Westminster, London, UK"}`), nil
	})

	addr, err := n.Resolve(context.Background(), 51.5, -0.12)
	require.NoError(t, err)
	assert.Equal(t, "Westminster, London, UK", addr)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestResolveNoAddress(t *testing.T) {
	n := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, testURL,
		httpmock.NewStringResponder(http.StatusOK, `{"error":"Unable to geocode"}`))

	_, err := n.Resolve(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestResolveHTTPError(t *testing.T) {
	n := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, testURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests, `rate limited`))

	_, err := n.Resolve(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "status 429")
}

func TestResolveBadJSON(t *testing.T) {
	n := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, testURL,
		httpmock.NewStringResponder(http.StatusOK, `<html>`))

	_, err := n.Resolve(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "invalid geocode response")
}
