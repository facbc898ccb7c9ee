package syncCatalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glamstore/internal/catalog"
	sl "glamstore/internal/lib/logger"

	"github.com/stretchr/testify/assert"
)

type fakeSyncer struct {
	forced  int
	maxAges []time.Duration
	syncErr error
}

func (s *fakeSyncer) ForceSync() bool {
	s.forced++
	return true
}

func (s *fakeSyncer) TriggerSyncIfStale(maxAge time.Duration) bool {
	s.maxAges = append(s.maxAges, maxAge)
	return false
}

func (s *fakeSyncer) SyncNow(context.Context) error { return s.syncErr }

func do(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(body)))
	return rec
}

func TestSync(t *testing.T) {
	s := &fakeSyncer{}
	h := New(sl.NewDiscardLogger(), s, 30*time.Minute)

	rec := do(h, `{"force":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":true`)
	assert.Equal(t, 1, s.forced)

	rec = do(h, ``)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":false`)

	do(h, `{"max_age":"5m"}`)
	assert.Equal(t, []time.Duration{30 * time.Minute, 5 * time.Minute}, s.maxAges)

	assert.Equal(t, http.StatusBadRequest, do(h, `{"max_age":"soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, `{"force":`).Code)
}

func TestSyncWait(t *testing.T) {
	s := &fakeSyncer{}
	h := New(sl.NewDiscardLogger(), s, time.Minute)

	assert.Equal(t, http.StatusOK, do(h, `{"wait":true}`).Code)

	s.syncErr = catalog.ErrSyncInProgress
	assert.Equal(t, http.StatusConflict, do(h, `{"wait":true}`).Code)

	s.syncErr = errors.New("upstream 503")
	assert.Equal(t, http.StatusBadGateway, do(h, `{"wait":true}`).Code)
}
