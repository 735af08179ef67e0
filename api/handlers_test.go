/*
handlers_test.go - Tests for the HTTP handlers

Tests for:
- GET /times end to end, including a golden body
- Concurrent readers sharing the store
- Write failures after the response started
- POST /times validation and conflicts
- Greeting, health, metrics and unmatched paths
*/
package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/timeslots/store/sqlite"
	"github.com/warp/timeslots/timeslot"
)

const seededBody = `[{"time":"2016-01-01T07:06:00+11:00"},{"time":"2016-01-01T07:12:00+11:00"},{"time":"2016-01-01T07:18:00+11:00"}]` + "\n"

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestHandler(t *testing.T, seed bool) (*Handler, http.Handler) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if seed {
		start, err := timeslot.Parse("2016-01-01T07:00:00+11:00")
		require.NoError(t, err)
		r, err := timeslot.NewRange(start, start.Add(24*time.Minute), 6*time.Minute)
		require.NoError(t, err)
		_, err = store.Seed(ctx, r.Slots())
		require.NoError(t, err)
	}

	h := NewHandler(store, zap.NewNop())
	return h, NewRouter(h, RouterOptions{})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

// failingWriter accepts headers and fails every body write.
type failingWriter struct {
	header http.Header
	status int
	writes int
}

func (w *failingWriter) Header() http.Header { return w.header }
func (w *failingWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}
func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, syscall.EPIPE
}

// blockingWriter parks the first body write until release is closed.
type blockingWriter struct {
	header  http.Header
	writing chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{
		header:  http.Header{},
		writing: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (w *blockingWriter) Header() http.Header { return w.header }
func (w *blockingWriter) WriteHeader(int)     {}
func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.writing)
		<-w.release
	})
	return len(p), nil
}

// =============================================================================
// GET /times
// =============================================================================

func TestListTimes_SeededStore(t *testing.T) {
	// GIVEN: the store seeded with 07:06, 07:12, 07:18 at +11:00
	// WHEN: GET /times
	// THEN: the records come back in store order, offset preserved, one newline
	_, router := newTestHandler(t, true)

	rec := do(t, router, http.MethodGet, "/times", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, seededBody, rec.Body.String())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "list_times", rec.Body.Bytes())
}

func TestListTimes_EmptyStore(t *testing.T) {
	_, router := newTestHandler(t, false)

	rec := do(t, router, http.MethodGet, "/times", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestListTimes_ConcurrentRequests(t *testing.T) {
	_, router := newTestHandler(t, true)
	srv := httptest.NewServer(router)
	defer srv.Close()

	const clients = 20
	var wg sync.WaitGroup
	bodies := make([]string, clients)
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/times")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			errs[i] = err
			bodies[i] = string(b)
		}(i)
	}
	wg.Wait()

	for i := 0; i < clients; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, seededBody, bodies[i])
	}
}

func TestListTimes_WriteFailureTruncates(t *testing.T) {
	// GIVEN: a client that vanished after the headers went out
	h, _ := newTestHandler(t, true)
	core, logs := observer.New(zap.WarnLevel)
	h.Log = zap.New(core)
	w := &failingWriter{header: http.Header{}}

	h.ListTimes(w, httptest.NewRequest(http.MethodGet, "/times", nil))

	// THEN: the status was sent, encoding stopped at the first write,
	// and the store is free for the next request
	assert.Equal(t, http.StatusOK, w.status)
	assert.Equal(t, 1, w.writes)
	assert.Equal(t, uint64(1), h.Metrics.WriteFailures())

	truncated := logs.FilterMessage("response truncated").All()
	require.Len(t, truncated, 1)
	assert.Equal(t, int64(http.StatusOK), truncated[0].ContextMap()["status"])
	assert.Equal(t, "/times", truncated[0].ContextMap()["path"])

	n, err := h.Store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestListTimes_EncodesOutsideStoreLock(t *testing.T) {
	// GIVEN: a client that stalls on the first body write
	// WHEN: another caller needs the store meanwhile
	// THEN: it gets the connection, the rows were already materialized
	h, _ := newTestHandler(t, true)
	w := newBlockingWriter()

	served := make(chan struct{})
	go func() {
		defer close(served)
		h.ListTimes(w, httptest.NewRequest(http.MethodGet, "/times", nil))
	}()
	defer func() {
		close(w.release)
		<-served
	}()

	select {
	case <-w.writing:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never wrote the body")
	}

	counted := make(chan error, 1)
	go func() {
		_, err := h.Store.Count(context.Background())
		counted <- err
	}()

	select {
	case err := <-counted:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("store still held while the body was being written")
	}
}

func TestListTimes_StoreFailureBeforeStart(t *testing.T) {
	h, router := newTestHandler(t, true)
	require.NoError(t, h.Store.Close())

	rec := do(t, router, http.MethodGet, "/times", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, `{"error":"Failed to list times","details":"store closed"}`+"\n", rec.Body.String())
}

// =============================================================================
// POST /times
// =============================================================================

func TestCreateTime(t *testing.T) {
	_, router := newTestHandler(t, false)

	rec := do(t, router, http.MethodPost, "/times", `{"time":"2016-01-01T07:30:00+11:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"time":"2016-01-01T07:30:00+11:00"}`+"\n", rec.Body.String())

	rec = do(t, router, http.MethodGet, "/times", "")
	assert.Equal(t, `[{"time":"2016-01-01T07:30:00+11:00"}]`+"\n", rec.Body.String())
}

func TestCreateTime_Duplicate(t *testing.T) {
	_, router := newTestHandler(t, true)

	rec := do(t, router, http.MethodPost, "/times", `{"time":"2016-01-01T07:06:00+11:00"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"Time already recorded"`)
}

func TestCreateTime_SameInstantOtherOffset_Conflict(t *testing.T) {
	// 2015-12-31T20:12:00Z is the seeded 07:12 at +11:00
	_, router := newTestHandler(t, true)

	rec := do(t, router, http.MethodPost, "/times", `{"time":"2015-12-31T20:12:00Z"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, router, http.MethodGet, "/times", "")
	assert.Equal(t, seededBody, rec.Body.String())
}

func TestCreateTime_BadRequests(t *testing.T) {
	_, router := newTestHandler(t, false)

	cases := map[string]string{
		"not json":      `time=now`,
		"unknown field": `{"time":"2016-01-01T07:30:00+11:00","zone":"x"}`,
		"no offset":     `{"time":"2016-01-01T07:30:00"}`,
		"empty":         `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/times", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// =============================================================================
// SERVICE ENDPOINTS
// =============================================================================

func TestHello(t *testing.T) {
	_, router := newTestHandler(t, false)

	rec := do(t, router, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, Greeting, rec.Body.String())
}

func TestHealth(t *testing.T) {
	_, router := newTestHandler(t, true)

	rec := do(t, router, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"status":"ok","records":3}`+"\n", rec.Body.String())
}

func TestUnmatchedPaths(t *testing.T) {
	h, router := newTestHandler(t, true)

	for _, path := range []string{"/times/", "/time", "/times/1", "/nope"} {
		rec := do(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "2016-01-01", path)
	}
	assert.Equal(t, uint64(4), h.Metrics.Requests(unmatchedRoute))
}

func TestMetrics(t *testing.T) {
	_, router := newTestHandler(t, true)
	do(t, router, http.MethodGet, "/times", "")
	do(t, router, http.MethodGet, "/times", "")

	rec := do(t, router, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	body := rec.Body.String()
	assert.Contains(t, body, `timeslots_http_requests_total{path="/times"} 2`)
	assert.Contains(t, body, "timeslots_records 3")
	assert.Contains(t, body, "# TYPE timeslots_store_acquisitions_total counter")
	assert.Contains(t, body, "timeslots_response_write_failures_total 0")
}
