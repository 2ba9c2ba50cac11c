package reputation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clickshield/kestrel/internal/cache"
	"github.com/clickshield/kestrel/internal/domain"
)

// fakeRepo implements just enough of domain.Repository for store tests.
type fakeRepo struct {
	domain.Repository

	mu          sync.Mutex
	reputations map[string]*domain.ReputationRecord
	saveErr     error
	getDelay    time.Duration
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{reputations: make(map[string]*domain.ReputationRecord)}
}

func (r *fakeRepo) SaveReputation(ctx context.Context, rec *domain.ReputationRecord) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.reputations[rec.IP] = &cp
	return nil
}

func (r *fakeRepo) GetReputation(ctx context.Context, ip string) (*domain.ReputationRecord, error) {
	if r.getDelay > 0 {
		select {
		case <-time.After(r.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.reputations[ip]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) ListReputations(ctx context.Context, status domain.ListStatus) ([]*domain.ReputationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ReputationRecord
	for _, rec := range r.reputations {
		if rec.ListStatus == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountClicksByIP(ctx context.Context, campaignID, ip string, since time.Time) (int64, error) {
	return 0, nil
}

func newTestStore(repo domain.Repository) *Store {
	return NewStore(repo, cache.NewLRUCache(1000), nil, time.Hour, 50*time.Millisecond)
}

func TestLookupStatusUnknownIP(t *testing.T) {
	s := newTestStore(newFakeRepo())

	if got := s.LookupStatus(context.Background(), "203.0.113.50"); got != domain.ListStatusNone {
		t.Errorf("status = %s, want none for unseen IP", got)
	}
}

func TestSetStatusAndLookup(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(repo)
	ctx := context.Background()

	if err := s.SetStatus(ctx, "203.0.113.50", domain.ListStatusBlocklisted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if got := s.LookupStatus(ctx, "203.0.113.50"); got != domain.ListStatusBlocklisted {
		t.Errorf("status = %s, want blocklisted", got)
	}

	// Persisted too.
	rec, err := repo.GetReputation(ctx, "203.0.113.50")
	if err != nil {
		t.Fatalf("expected persisted record: %v", err)
	}
	if rec.ListStatus != domain.ListStatusBlocklisted {
		t.Errorf("persisted status = %s, want blocklisted", rec.ListStatus)
	}
}

func TestSetStatusIdempotent(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(repo)
	ctx := context.Background()

	if err := s.SetStatus(ctx, "203.0.113.50", domain.ListStatusAllowlisted); err != nil {
		t.Fatalf("first SetStatus failed: %v", err)
	}

	// Same status again is a no-op even when the repository would fail.
	repo.saveErr = domain.ErrPersistence
	if err := s.SetStatus(ctx, "203.0.113.50", domain.ListStatusAllowlisted); err != nil {
		t.Errorf("idempotent SetStatus should not touch the repository: %v", err)
	}
}

func TestSetStatusLastWriteWins(t *testing.T) {
	s := newTestStore(newFakeRepo())
	ctx := context.Background()

	s.SetStatus(ctx, "203.0.113.50", domain.ListStatusAllowlisted)
	s.SetStatus(ctx, "203.0.113.50", domain.ListStatusBlocklisted)

	if got := s.LookupStatus(ctx, "203.0.113.50"); got != domain.ListStatusBlocklisted {
		t.Errorf("status = %s, want blocklisted (last write wins)", got)
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	s := newTestStore(newFakeRepo())

	if err := s.SetStatus(context.Background(), "203.0.113.50", "banned"); err == nil {
		t.Error("expected error for unknown list status")
	}
}

func TestLookupStatusTimeoutDegradesToNone(t *testing.T) {
	repo := newFakeRepo()
	repo.reputations["203.0.113.50"] = &domain.ReputationRecord{
		IP:         "203.0.113.50",
		ListStatus: domain.ListStatusBlocklisted,
	}
	repo.getDelay = 500 * time.Millisecond // beyond the 50ms store timeout

	s := newTestStore(repo)

	start := time.Now()
	got := s.LookupStatus(context.Background(), "203.0.113.50")
	elapsed := time.Since(start)

	if got != domain.ListStatusNone {
		t.Errorf("status = %s, want none on backing-store timeout", got)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("lookup took %v, want bounded by the configured timeout", elapsed)
	}
}

func TestLookupStatusReadsThroughCache(t *testing.T) {
	shared := cache.NewLRUCache(1000)
	ctx := context.Background()

	// A repository hit on one node populates the shared cache.
	repoA := newFakeRepo()
	repoA.reputations["203.0.113.50"] = &domain.ReputationRecord{
		IP: "203.0.113.50", ListStatus: domain.ListStatusBlocklisted,
	}
	storeA := NewStore(repoA, shared, nil, time.Hour, 50*time.Millisecond)
	if got := storeA.LookupStatus(ctx, "203.0.113.50"); got != domain.ListStatusBlocklisted {
		t.Fatalf("status = %s, want blocklisted from repository", got)
	}

	// A second node whose repository is unreachable still resolves the IP
	// from the shared cache.
	repoB := newFakeRepo()
	repoB.getDelay = time.Second
	storeB := NewStore(repoB, shared, nil, time.Hour, 50*time.Millisecond)

	start := time.Now()
	got := storeB.LookupStatus(ctx, "203.0.113.50")
	elapsed := time.Since(start)

	if got != domain.ListStatusBlocklisted {
		t.Errorf("status = %s, want blocklisted from shared cache", got)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("cache hit took %v, want no repository round-trip", elapsed)
	}
}

func TestSetStatusPopulatesCache(t *testing.T) {
	shared := cache.NewLRUCache(1000)
	ctx := context.Background()

	storeA := NewStore(newFakeRepo(), shared, nil, time.Hour, 50*time.Millisecond)
	if err := storeA.SetStatus(ctx, "203.0.113.50", domain.ListStatusAllowlisted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	// A fresh store with an empty repository sees the write via the cache.
	storeB := NewStore(newFakeRepo(), shared, nil, time.Hour, 50*time.Millisecond)
	if got := storeB.LookupStatus(ctx, "203.0.113.50"); got != domain.ListStatusAllowlisted {
		t.Errorf("status = %s, want allowlisted from shared cache", got)
	}
}

func TestWarmLoadsPersistedLists(t *testing.T) {
	repo := newFakeRepo()
	repo.reputations["203.0.113.1"] = &domain.ReputationRecord{
		IP: "203.0.113.1", ListStatus: domain.ListStatusBlocklisted,
	}
	repo.reputations["203.0.113.2"] = &domain.ReputationRecord{
		IP: "203.0.113.2", ListStatus: domain.ListStatusAllowlisted,
	}

	s := newTestStore(repo)
	if err := s.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	// Slow down the repository: hits must come from memory now.
	repo.getDelay = time.Second

	if got := s.LookupStatus(context.Background(), "203.0.113.1"); got != domain.ListStatusBlocklisted {
		t.Errorf("status = %s, want blocklisted from warm cache", got)
	}
	if got := s.LookupStatus(context.Background(), "203.0.113.2"); got != domain.ListStatusAllowlisted {
		t.Errorf("status = %s, want allowlisted from warm cache", got)
	}
}

func TestRecordClickCounts(t *testing.T) {
	s := newTestStore(newFakeRepo())
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 5; i++ {
		count := s.RecordClick(ctx, "203.0.113.50", "camp-1", now)
		if count != int64(i) {
			t.Errorf("click %d: count = %d, want %d", i, count, i)
		}
	}

	// Different campaign counts independently.
	if count := s.RecordClick(ctx, "203.0.113.50", "camp-2", now); count != 1 {
		t.Errorf("count = %d, want 1 for fresh campaign", count)
	}

	// Different IP counts independently.
	if count := s.RecordClick(ctx, "203.0.113.51", "camp-1", now); count != 1 {
		t.Errorf("count = %d, want 1 for fresh IP", count)
	}
}

func TestRecordClickConcurrent(t *testing.T) {
	s := newTestStore(newFakeRepo())
	ctx := context.Background()
	now := time.Now().UTC()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.RecordClick(ctx, "203.0.113.50", "camp-1", now)
		}()
	}
	wg.Wait()

	// The next click sees every prior one: counts are exact, not approximate.
	if count := s.RecordClick(ctx, "203.0.113.50", "camp-1", now); count != n+1 {
		t.Errorf("count = %d, want %d after %d concurrent clicks", count, n+1, n)
	}
}

func TestLookupBuildsFullView(t *testing.T) {
	s := newTestStore(newFakeRepo())
	ctx := context.Background()

	s.SetStatus(ctx, "203.0.113.50", domain.ListStatusBlocklisted)

	rep := s.Lookup(ctx, "203.0.113.50", "camp-1", time.Now().UTC())

	if rep.IP != "203.0.113.50" {
		t.Errorf("IP = %s", rep.IP)
	}
	if rep.ListStatus != domain.ListStatusBlocklisted {
		t.Errorf("status = %s, want blocklisted", rep.ListStatus)
	}
	if rep.ClickCountWindow != 1 {
		t.Errorf("count = %d, want 1 including current click", rep.ClickCountWindow)
	}
}

func TestClassifyIP(t *testing.T) {
	s := newTestStore(newFakeRepo())

	tests := []struct {
		ip   string
		want domain.IPType
	}{
		{"3.1.2.3", domain.IPTypeDatacenter},     // AWS
		{"34.64.0.1", domain.IPTypeDatacenter},   // GCP
		{"104.131.5.9", domain.IPTypeDatacenter}, // DigitalOcean
		{"146.70.10.20", domain.IPTypeVPN},       // commercial VPN block
		{"203.0.113.10", domain.IPTypeResidential},
		{"not-an-ip", domain.IPTypeUnknown},
		{"", domain.IPTypeUnknown},
	}

	for _, tt := range tests {
		if got := s.ClassifyIP(tt.ip); got != tt.want {
			t.Errorf("ClassifyIP(%q) = %s, want %s", tt.ip, got, tt.want)
		}
	}
}

func TestAddRanges(t *testing.T) {
	s := newTestStore(newFakeRepo())

	if err := s.AddDatacenterRange("198.51.100.0/24"); err != nil {
		t.Fatalf("AddDatacenterRange failed: %v", err)
	}
	if got := s.ClassifyIP("198.51.100.7"); got != domain.IPTypeDatacenter {
		t.Errorf("after AddDatacenterRange: %s, want datacenter", got)
	}

	if err := s.AddVPNRange("192.0.2.0/24"); err != nil {
		t.Fatalf("AddVPNRange failed: %v", err)
	}
	if got := s.ClassifyIP("192.0.2.9"); got != domain.IPTypeVPN {
		t.Errorf("after AddVPNRange: %s, want vpn", got)
	}

	if err := s.AddVPNRange("garbage"); err == nil {
		t.Error("expected error for invalid CIDR")
	}
}
