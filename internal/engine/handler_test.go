package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/packetwarden/cloudflare-feed/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postIngest(core *FeedCore, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	core.HandleIngest(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader(body)))
	return rec
}

func getFeed(core *FeedCore) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	core.HandleFeed(rec, httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	return rec
}

func TestHandleIngest(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		status int
		want   string
	}{
		{"accepted", testPayload(5), http.StatusOK, `{"message":"Data accepted","count":5}`},
		{"empty threats", []byte(`{"hasData":true,"metadata":{},"threats":[]}`), http.StatusOK, `{"message":"Data accepted","count":0}`},
		{"missing threats", []byte(`{"hasData":true,"metadata":{}}`), http.StatusBadRequest, `{"error":"Invalid payload structure"}`},
		{"hasData false", []byte(`{"hasData":false,"metadata":{},"threats":[]}`), http.StatusBadRequest, `{"error":"Invalid payload structure"}`},
		{"malformed json", []byte(`{"hasData":`), http.StatusBadRequest, `{"error":"Invalid payload structure"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFeedFixture(true)

			rec := postIngest(f.core, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestHandleIngest_StoreFailureIs500(t *testing.T) {
	f := newFeedFixture(true)
	f.store.setErr(errStoreDown)

	rec := postIngest(f.core, testPayload(1))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "upstream timeout")
}

func TestHandleIngest_BodyTooLarge(t *testing.T) {
	f := newFeedFixture(true)
	body := []byte(`{"hasData":true,"metadata":{},"threats":[],"pad":"` + strings.Repeat("x", 1<<16) + `"}`)

	rec := postIngest(f.core, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(0), f.store.puts.Load())
}

func TestHandleFeed_StoredSnapshot(t *testing.T) {
	f := newFeedFixture(true)
	require.Equal(t, http.StatusOK, postIngest(f.core, testPayload(5)).Code)

	rec := getFeed(f.core)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60, s-maxage=60", rec.Header().Get("Cache-Control"))

	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, testSnapshot(5), snap)
}

func TestHandleFeed_FallbackIsNotCacheable(t *testing.T) {
	f := newFeedFixture(true)
	f.store.setErr(errStoreDown)

	rec := getFeed(f.core)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.HasData)
	assert.Len(t, snap.Threats, 5)
	assert.Equal(t, "192.168.1.100", snap.Threats[0].IP)
}
