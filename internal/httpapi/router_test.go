package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/set-night/chanpay/internal/job"
	"github.com/set-night/chanpay/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	report service.SweepReport
	err    error
	runs   int
}

func (s *stubSweeper) RunOnce(ctx context.Context) (service.SweepReport, error) {
	s.runs++
	return s.report, s.err
}

type stubDB struct{ err error }

func (d stubDB) Ping(ctx context.Context) error { return d.err }

func do(t *testing.T, h http.Handler, method, path, auth string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealth(t *testing.T) {
	w, body := do(t, NewRouter(Deps{DB: stubDB{}}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = do(t, NewRouter(Deps{DB: stubDB{err: errors.New("conn refused")}}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetrics(t *testing.T) {
	w, _ := do(t, NewRouter(Deps{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCronTrigger(t *testing.T) {
	sweeper := &stubSweeper{report: service.SweepReport{Expired: 2, FinalWarnings: 1, EscrowReleased: 3, EscrowAmount: 45000}}
	r := NewRouter(Deps{Sweeper: sweeper, CronSecret: "s3cret"})

	w, _ := do(t, r, http.MethodPost, "/cron/check-subscriptions", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = do(t, r, http.MethodPost, "/cron/check-subscriptions", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, sweeper.runs)

	w, body := do(t, r, http.MethodPost, "/cron/check-subscriptions", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["kicked"])
	assert.EqualValues(t, 45000, body["escrow_amount"])

	w, _ = do(t, r, http.MethodGet, "/cron/check-subscriptions", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, sweeper.runs)
}

func TestCronTriggerErrors(t *testing.T) {
	w, _ := do(t, NewRouter(Deps{Sweeper: &stubSweeper{}}), http.MethodPost, "/cron/check-subscriptions", "Bearer x")
	assert.Equal(t, http.StatusNotFound, w.Code)

	r := NewRouter(Deps{Sweeper: &stubSweeper{err: job.ErrSweepSkipped}, CronSecret: "x"})
	w, body := do(t, r, http.MethodPost, "/cron/check-subscriptions", "Bearer x")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])

	r = NewRouter(Deps{Sweeper: &stubSweeper{err: errors.New("storage failure")}, CronSecret: "x"})
	w, _ = do(t, r, http.MethodPost, "/cron/check-subscriptions", "Bearer x")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
