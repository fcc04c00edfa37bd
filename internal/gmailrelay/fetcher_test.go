package gmailrelay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func historyProvider(t *testing.T, status int) *Provider {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"history unavailable"}}`, status)
	}))
	t.Cleanup(ts.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(ts.URL),
		option.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return &Provider{svc: svc, self: "me@gmail.com"}
}

func TestFetchHistoryExpiredCursor(t *testing.T) {
	// A 404 from the history endpoint means the cursor aged out and must
	// surface as the sentinel the pipeline resets on.
	p := historyProvider(t, http.StatusNotFound)

	_, _, err := p.FetchHistory(context.Background(), 100)
	assert.ErrorIs(t, err, ErrHistoryExpired)
}

func TestFetchHistoryOtherErrorsPassThrough(t *testing.T) {
	// Anything but 404 is a transient failure, not an expired cursor.
	p := historyProvider(t, http.StatusForbidden)

	_, _, err := p.FetchHistory(context.Background(), 100)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHistoryExpired)
}
