package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/packetwarden/cloudflare-feed/internal/domain"
	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/packetwarden/cloudflare-feed/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "current_feed"

type feedFixture struct {
	core    *FeedCore
	store   *countingStore
	clock   *fakeClock
	metrics *Metrics
}

func newFeedFixture(bound bool) *feedFixture {
	f := &feedFixture{clock: newFakeClock(), metrics: NewMetrics(nil)}

	var st store.Store
	if bound {
		f.store = newCountingStore()
		st = f.store
	}

	reader := NewRegionalReader(newTestCache(f.clock), st, testTTL, f.metrics, zap.NewNop())
	cfg := infra.FeedConfig{Key: testKey, TTL: testTTL}
	f.core = NewFeedCore(reader, st, cfg, 1<<16, f.metrics, zap.NewNop())
	return f
}

func decodeSnapshot(t *testing.T, body []byte) domain.Snapshot {
	t.Helper()
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

func TestFeedCore_CurrentFromStore(t *testing.T) {
	f := newFeedFixture(true)
	f.store.data[testKey] = testPayload(3)

	body, fromStore := f.core.Current(context.Background())
	assert.True(t, fromStore)
	assert.Equal(t, testPayload(3), body)

	snap := decodeSnapshot(t, body)
	assert.True(t, snap.HasData)
	require.Len(t, snap.Threats, 3)
	assert.Equal(t, "203.0.113.1", snap.Threats[0].IP)
}

func TestFeedCore_CurrentFallsBack(t *testing.T) {
	tests := []struct {
		name   string
		bound  bool
		setup  func(s *countingStore)
		reason string
	}{
		{"empty store", true, func(s *countingStore) {}, "empty"},
		{"store error", true, func(s *countingStore) { s.setErr(errStoreDown) }, "store_error"},
		{"corrupted value", true, func(s *countingStore) { s.data[testKey] = []byte(`{"hasData":`) }, "decode_error"},
		{"store not bound", false, nil, "unbound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFeedFixture(tt.bound)
			if tt.setup != nil {
				tt.setup(f.store)
			}

			body, fromStore := f.core.Current(context.Background())
			assert.False(t, fromStore)
			assert.Equal(t, domain.Fallback().Threats, decodeSnapshot(t, body).Threats)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues(tt.reason)))
		})
	}
}

func TestFeedCore_IngestWritesStore(t *testing.T) {
	f := newFeedFixture(true)

	count, err := f.core.Ingest(context.Background(), testPayload(5))
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	var stored domain.Snapshot
	require.NoError(t, json.Unmarshal(f.store.data[testKey], &stored))
	assert.Equal(t, testSnapshot(5), stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IngestTotal.WithLabelValues("accepted")))
}

func TestFeedCore_IngestLastWriterWins(t *testing.T) {
	f := newFeedFixture(true)
	ctx := context.Background()

	_, err := f.core.Ingest(ctx, testPayload(5))
	require.NoError(t, err)
	_, err = f.core.Ingest(ctx, testPayload(2))
	require.NoError(t, err)

	var stored domain.Snapshot
	require.NoError(t, json.Unmarshal(f.store.data[testKey], &stored))
	assert.Len(t, stored.Threats, 2)
}

func TestFeedCore_IngestKeepsProducerBody(t *testing.T) {
	f := newFeedFixture(true)
	body := `{"hasData": 1, "metadata": {"minutesUntilReset": 44.5, "source": "honeypot-eu-1"},
		"threats": [{"rank": 1, "ip": "203.0.113.9", "enrichment": {"country": "NL", "city": "Amsterdam"}}]}`

	count, err := f.core.Ingest(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.JSONEq(t, body, string(f.store.data[testKey]))
}

func TestFeedCore_IngestRejectsInvalid(t *testing.T) {
	f := newFeedFixture(true)
	f.store.data[testKey] = testPayload(1)

	_, err := f.core.Ingest(context.Background(), []byte(`{"hasData":true,"metadata":{}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Equal(t, int32(0), f.store.puts.Load())
	assert.Equal(t, testPayload(1), f.store.data[testKey], "previous snapshot must survive")
}

func TestFeedCore_IngestWithoutStore(t *testing.T) {
	f := newFeedFixture(false)

	count, err := f.core.Ingest(context.Background(), testPayload(4))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IngestTotal.WithLabelValues("skipped")))
}

func TestFeedCore_IngestStoreFailure(t *testing.T) {
	f := newFeedFixture(true)
	f.store.setErr(errStoreDown)

	_, err := f.core.Ingest(context.Background(), testPayload(1))
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, domain.ErrInvalidPayload)
}

// Запись не инвалидирует региональный кэш: новые данные видны после ttl.
func TestFeedCore_IngestVisibleAfterTTL(t *testing.T) {
	f := newFeedFixture(true)
	ctx := context.Background()

	_, err := f.core.Ingest(ctx, testPayload(5))
	require.NoError(t, err)
	body, _ := f.core.Current(ctx)
	require.Len(t, decodeSnapshot(t, body).Threats, 5)

	_, err = f.core.Ingest(ctx, testPayload(2))
	require.NoError(t, err)
	body, _ = f.core.Current(ctx)
	assert.Len(t, decodeSnapshot(t, body).Threats, 5)

	f.clock.Advance(testTTL)
	body, _ = f.core.Current(ctx)
	assert.Len(t, decodeSnapshot(t, body).Threats, 2)
}
