package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sl "glamstore/internal/lib/logger"
	"glamstore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type provider struct {
	status  models.SyncStatus
	mode    bool
	modeErr error
}

func (p provider) Status() models.SyncStatus          { return p.status }
func (p provider) Mode(context.Context) (bool, error) { return p.mode, p.modeErr }

func TestStatus(t *testing.T) {
	last := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	h := New(sl.NewDiscardLogger(), provider{
		status: models.SyncStatus{Count: 120, LastSync: &last, State: models.SyncOK},
		mode:   true,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, float64(120), body["count"])
	assert.Equal(t, "ok", body["state"])
	assert.Equal(t, "2025-05-01T12:00:00Z", body["last_sync"])
	assert.Equal(t, true, body["magazine_mode"])
}

func TestStatusNeverSynced(t *testing.T) {
	h := New(sl.NewDiscardLogger(), provider{
		status:  models.SyncStatus{State: models.SyncIdle},
		modeErr: errors.New("db down"),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["last_sync"])
	assert.Equal(t, "idle", body["state"])
}
