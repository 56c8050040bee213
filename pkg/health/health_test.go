package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, endpoint http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

// runN drives the i-th registered check n times.
func runN(h *Health, i, n int) {
	for range n {
		h.checks[i].run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		runs     int
		wantCode int
		wantBody string
	}{
		{
			name:     "starts healthy",
			runs:     0,
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok"}`,
		},
		{
			name:     "below failure threshold",
			runs:     DefaultFailureThreshold - 1,
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok"}`,
		},
		{
			name:     "at failure threshold",
			runs:     DefaultFailureThreshold,
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, failingCheck("connection refused"))
			runN(h, 0, tt.runs)

			w := probe(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not ready until SetReady", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("catalog", time.Second, passingCheck())

		w := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

		h.SetReady(true)
		assert.Equal(t, http.StatusOK, probe(t, h.ReadyEndpoint).Code)

		h.SetReady(false)
		assert.Equal(t, http.StatusServiceUnavailable, probe(t, h.ReadyEndpoint).Code)
	})

	t.Run("only failing readiness checks are listed", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passingCheck())
		h.AddReadinessCheck("redis", time.Second, failingCheck("dial tcp: refused"))
		h.AddLivenessCheck("goroutines", time.Second, failingCheck("too many"))
		h.SetReady(true)
		runN(h, 1, DefaultFailureThreshold)
		runN(h, 2, DefaultFailureThreshold)

		w := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"dial tcp: refused"}}`, w.Body.String())
	})

	t.Run("no checks but ready", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		assert.Equal(t, http.StatusOK, probe(t, h.ReadyEndpoint).Code)
	})
}

func TestCheck_Recovery(t *testing.T) {
	failing := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(2, 2))

	runN(h, 0, 2)
	assert.Equal(t, "down", h.checks[0].failure())

	failing = false
	runN(h, 0, 1)
	assert.Equal(t, "check is unhealthy", h.checks[0].failure(), "one success is below the success threshold")

	runN(h, 0, 1)
	assert.Empty(t, h.checks[0].failure())
	assert.True(t, h.Report(Liveness).Healthy())
}

func TestCheck_StartUnhealthy(t *testing.T) {
	h := New()
	h.AddReadinessCheck("catalog", time.Second, passingCheck(), StartUnhealthy())
	h.SetReady(true)

	assert.False(t, h.IsReady())
	runN(h, 0, 1)
	assert.True(t, h.IsReady())
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 0))

	runN(h, 0, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), h.checks[0].failure())
}

func TestStart_RunsChecks(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, failingCheck("down"), WithThresholds(1, 0))
	h.SetReady(true)

	h.Start(context.Background(), time.Hour)
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passingCheck())
	h.Start(context.Background(), 10*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				probe(t, h.LiveEndpoint)
				probe(t, h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	size := 0
	catalog := NonEmptyCheck("catalog", func() int { return size })
	assert.EqualError(t, catalog(ctx), "catalog is empty")
	size = 3
	require.NoError(t, catalog(ctx))

	require.NoError(t, PingCheck(func(context.Context) error { return nil })(ctx))
	assert.ErrorContains(t, PingCheck(func(context.Context) error { return errors.New("refused") })(ctx), "ping: refused")
}
