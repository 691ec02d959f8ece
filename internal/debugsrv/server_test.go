package debugsrv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/netutil"

	"github.com/joshuapare/pageheap/pageheap"
	"github.com/joshuapare/pageheap/pageheap/central"
	"github.com/joshuapare/pageheap/pageheap/sysmem"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(tb testing.TB, opts sysmem.SimOptions) (*Server, *pageheap.Heap) {
	tb.Helper()
	h, err := pageheap.New(sysmem.NewSim(opts), nil, &pageheap.ConfigCompact)
	require.NoError(tb, err)
	return New(h, central.NewAllocator(h)), h
}

func do(tb testing.TB, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	tb.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(tb, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(tb, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSpanLifecycle(t *testing.T) {
	s, h := newTestServer(t, sysmem.SimOptions{})

	rec, body := do(t, s, http.MethodPost, "/spans", gin.H{"pages": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "in-use", body["state"])
	assert.EqualValues(t, 4, body["npages"])
	start := uint64(body["start"].(float64))

	rec, body = do(t, s, http.MethodGet, fmt.Sprintf("/lookup/%#x", start+3), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, start, body["start"])

	rec, body = do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	heap := body["heap"].(map[string]any)
	assert.EqualValues(t, 4, heap["inuse_pages"])
	assert.EqualValues(t, 4*4096, heap["heap_alloc"])

	rec, _ = do(t, s, http.MethodDelete, fmt.Sprintf("/spans/%d", start), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, h.Stats().InusePages)
	assert.Zero(t, h.Stats().HeapAlloc)

	rec, _ = do(t, s, http.MethodDelete, fmt.Sprintf("/spans/%d", start), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "already freed")

	rec, _ = do(t, s, http.MethodGet, fmt.Sprintf("/lookup/%d", start), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllocSpanValidation(t *testing.T) {
	s, h := newTestServer(t, sysmem.SimOptions{})

	tests := []struct {
		name string
		body any
	}{
		{"missing pages", gin.H{}},
		{"zero pages", gin.H{"pages": 0}},
		{"too many pages", gin.H{"pages": MaxRequestPages + 1}},
		{"negative class", gin.H{"pages": 1, "size_class": -1}},
		{"not json", "pages=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, s, http.MethodPost, "/spans", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Zero(t, h.Stats().AllocCalls)
}

func TestAllocSpanNoSpace(t *testing.T) {
	s, _ := newTestServer(t, sysmem.SimOptions{Limit: 16 * 4096})

	rec, body := do(t, s, http.MethodPost, "/spans", gin.H{"pages": 64})
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Contains(t, body["error"], "no span large enough")
}

func TestListSpans(t *testing.T) {
	s, _ := newTestServer(t, sysmem.SimOptions{})
	for range 3 {
		rec, _ := do(t, s, http.MethodPost, "/spans", gin.H{"pages": 2})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var spans []map[string]any
	rec, _ := do(t, s, http.MethodGet, "/spans?state=in-use", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spans))
	assert.Len(t, spans, 3)

	rec, _ = do(t, s, http.MethodGet, "/spans?state=free", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spans))
	require.Len(t, spans, 1)
	assert.EqualValues(t, 10, spans[0]["npages"])

	rec, _ = do(t, s, http.MethodGet, "/spans?state=zombie", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestObjects(t *testing.T) {
	s, h := newTestServer(t, sysmem.SimOptions{})

	rec, body := do(t, s, http.MethodPost, "/objects", gin.H{"size": 48})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	addr := body["addr"].(string)
	span := body["span"].(map[string]any)
	assert.NotZero(t, span["size_class"])

	rec, _ = do(t, s, http.MethodDelete, "/objects/"+addr, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = do(t, s, http.MethodDelete, "/objects/0x10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/objects", gin.H{"size": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var classes []map[string]any
	rec, _ = do(t, s, http.MethodGet, "/classes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &classes))
	assert.Len(t, classes, central.NewTable(h.Config().PageShift).NumClasses()-1)
}

func TestCorruptionStopsServing(t *testing.T) {
	s, _ := newTestServer(t, sysmem.SimOptions{})
	var fatal []error
	s.fatal = func(err error) { fatal = append(fatal, err) }

	rec, body := do(t, s, http.MethodPost, "/objects", gin.H{"size": 48})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	addr := body["addr"].(string)

	rec, _ = do(t, s, http.MethodDelete, "/objects/"+addr, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, fatal)

	rec, body = do(t, s, http.MethodDelete, "/objects/"+addr, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "double free")
	require.Len(t, fatal, 1)
	var ce *pageheap.CorruptionError
	assert.ErrorAs(t, fatal[0], &ce)

	rec, _ = do(t, s, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "heap is no longer served")
}

func TestOrdinaryPanicRecovered(t *testing.T) {
	s, _ := newTestServer(t, sysmem.SimOptions{})
	s.fatal = func(err error) { t.Fatalf("unexpected fatal: %v", err) }
	s.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	rec, _ := do(t, s, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerify(t *testing.T) {
	s, _ := newTestServer(t, sysmem.SimOptions{})
	do(t, s, http.MethodPost, "/spans", gin.H{"pages": 3})

	rec, body := do(t, s, http.MethodGet, "/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestObjectRoutesNeedAllocator(t *testing.T) {
	h, err := pageheap.New(sysmem.NewSim(sysmem.SimOptions{}), nil, nil)
	require.NoError(t, err)
	s := New(h, nil)

	rec, _ := do(t, s, http.MethodPost, "/objects", gin.H{"size": 8})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, body := do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "allocator")
}

func TestServeUntilCancelled(t *testing.T) {
	s, _ := newTestServer(t, sysmem.SimOptions{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + l.Addr().String()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.serveListener(ctx, netutil.LimitListener(l, 4)) }()

	resp, err := http.Get(url + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
