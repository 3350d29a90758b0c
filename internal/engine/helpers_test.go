package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/packetwarden/cloudflare-feed/internal/cache"
	"github.com/packetwarden/cloudflare-feed/internal/domain"
)

var errStoreDown = errors.New("kv: upstream timeout")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(clock *fakeClock) *cache.MemoryCache {
	return cache.NewMemoryCache(cache.WithClock(clock.Now))
}

// countingStore считает обращения и умеет падать или держать чтение на gate.
type countingStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	gate chan struct{}

	gets atomic.Int32
	puts atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{data: make(map[string][]byte)}
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.gets.Add(1)
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *countingStore) Put(ctx context.Context, key string, value []byte) error {
	s.puts.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *countingStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// testSnapshot собирает валидный снапшот из n записей.
func testSnapshot(n int) domain.Snapshot {
	snap := domain.Snapshot{
		HasData: true,
		Metadata: &domain.Metadata{
			Timestamp:         "2026-10-16T18:00:00.000Z",
			CurrentHour:       "18:00",
			MinutesUntilReset: 42,
			TotalAttacks:      n * 100,
			TotalIPs:          n,
		},
		Threats: make([]domain.ThreatRecord, 0, n),
	}
	for i := 1; i <= n; i++ {
		snap.Threats = append(snap.Threats, domain.ThreatRecord{
			Rank:         i,
			IP:           fmt.Sprintf("203.0.113.%d", i),
			TotalAttacks: 100,
			AttackTypes:  []domain.AttackType{{Type: "SSH Brute Force", Count: 100}},
			Enrichment:   domain.Enrichment{Country: "NL", ASN: "AS64500", Org: "Example Hosting"},
		})
	}
	return snap
}

func testPayload(n int) []byte {
	data, err := json.Marshal(testSnapshot(n))
	if err != nil {
		panic(err)
	}
	return data
}
