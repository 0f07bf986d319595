package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasfeed/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeQueries struct {
	quote     domain.Quote
	err       error
	samples   []domain.PriceSample
	gotFrom   time.Time
	gotTo     time.Time
	gotSubj   string
	histErr   error
	available []string
}

func (f *fakeQueries) CurrentPrice(_ context.Context, network, subjectID string) (domain.Quote, error) {
	f.gotSubj = subjectID
	if network != "ethereum" {
		return domain.Quote{}, fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, network)
	}
	return f.quote, f.err
}

func (f *fakeQueries) HistoricalPrices(_ context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	f.gotFrom, f.gotTo = from, to
	if network != "ethereum" {
		return nil, domain.ErrInvalidNetwork
	}
	if to.Before(from) {
		return nil, domain.ErrInvalidRange
	}
	return f.samples, f.histErr
}

func (f *fakeQueries) Networks() []string { return f.available }

type count int

func (c count) Count() int { return int(c) }

type brokenChecker struct{}

func (brokenChecker) Verify() error { return domain.ErrRegistryInconsistency }

func sample() domain.PriceSample {
	return domain.NewPriceSample("ethereum", "etherscan", decimal.NewFromInt(20), decimal.NewFromInt(2), decimal.NewFromInt(30), nil, t0)
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestPrice(t *testing.T) {
	q := &fakeQueries{quote: domain.Quote{PriceSample: sample(), SubjectID: "pet-1", FinalPrice: decimal.RequireFromString("67.6")}}
	h := NewRouter(q, nil, nil, nil)

	rec := do(t, h, "/v1/networks/Ethereum/price?subjectId=pet-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pet-1", q.gotSubj)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "67.6", body["finalPrice"])
	assert.Equal(t, "ethereum", body["network"])
	assert.Empty(t, rec.Header().Get("Warning"))
}

func TestPriceStale(t *testing.T) {
	q := &fakeQueries{
		quote: domain.Quote{PriceSample: sample(), FinalPrice: decimal.NewFromInt(52), Stale: true},
		err:   &domain.StaleError{Network: "ethereum", Err: errors.New("upstream down")},
	}
	rec := do(t, NewRouter(q, nil, nil, nil), "/v1/networks/ethereum/price")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Warning"))
	assert.Contains(t, rec.Body.String(), `"stale":true`)
}

func TestPriceErrors(t *testing.T) {
	rec := do(t, NewRouter(&fakeQueries{}, nil, nil, nil), "/v1/networks/solana/price")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	q := &fakeQueries{err: &domain.NoProviderError{Network: "ethereum"}}
	rec = do(t, NewRouter(q, nil, nil, nil), "/v1/networks/ethereum/price")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no provider available")
}

func TestHistory(t *testing.T) {
	q := &fakeQueries{samples: []domain.PriceSample{sample()}}
	h := NewRouter(q, nil, nil, nil)

	rec := do(t, h, "/v1/networks/ethereum/history?from=2026-05-01T09:00:00Z&to=2026-05-01T11:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, q.gotFrom.Equal(t0.Add(-time.Hour)))
	assert.True(t, q.gotTo.Equal(t0.Add(time.Hour)))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "etherscan", got[0]["source"])
}

func TestHistoryDefaultsAndEmpty(t *testing.T) {
	q := &fakeQueries{}

	rec := do(t, NewRouter(q, nil, nil, nil), "/v1/networks/ethereum/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, defaultHistoryWindow, q.gotTo.Sub(q.gotFrom))

	rec = do(t, NewRouter(q, nil, nil, nil), "/v1/networks/ethereum/history?to=2026-05-01T10:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, q.gotTo.Equal(t0))
	assert.True(t, q.gotFrom.Equal(t0.Add(-defaultHistoryWindow)))
}

func TestHistoryBadRange(t *testing.T) {
	h := NewRouter(&fakeQueries{}, nil, nil, nil)

	rec := do(t, h, "/v1/networks/ethereum/history?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "/v1/networks/ethereum/history?from=2026-05-01T11:00:00Z&to=2026-05-01T09:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "/v1/networks/solana/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNetworksAndHealth(t *testing.T) {
	q := &fakeQueries{available: []string{"bsc", "ethereum"}}

	rec := do(t, NewRouter(q, nil, count(3), nil), "/v1/networks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"networks":["bsc","ethereum"]}`, rec.Body.String())

	rec = do(t, NewRouter(q, nil, count(3), nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","networks":["bsc","ethereum"],"connections":3}`, rec.Body.String())

	rec = do(t, NewRouter(q, nil, nil, brokenChecker{}), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndWebSocketMount(t *testing.T) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := NewRouter(&fakeQueries{}, ws, nil, nil)

	assert.Equal(t, http.StatusTeapot, do(t, h, "/v1/ws").Code)

	rec := do(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
