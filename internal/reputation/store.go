// Package reputation maintains per-IP allow/deny state and click velocity.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/clickshield/kestrel/internal/domain"
)

// shardCount fixes the number of lock shards. Locking is per-shard so
// unrelated IPs never serialize on each other.
const shardCount = 64

// reputationTTL bounds staleness of cached reputation records on nodes
// whose shard map has not seen the IP.
const reputationTTL = 5 * time.Minute

// Store answers membership, classification, and rate queries for source IPs.
// The in-memory shard map is authoritative on the hot path; the repository
// backs it for durability and the cache carries the sliding velocity
// counters plus a read-through copy of cold reputation records.
//
// None of the query methods surface infrastructure errors to callers: an
// unreachable backing store degrades to list status "none" after the
// configured timeout, logged but never failing the click.
type Store struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	window  time.Duration
	timeout time.Duration

	shards [shardCount]shard

	rangeMu          sync.RWMutex
	datacenterRanges []netip.Prefix
	vpnRanges        []netip.Prefix
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	status   domain.ListStatus
	lastSeen time.Time
}

// NewStore creates a reputation store. The repository and bus are optional;
// the cache is required since it owns the velocity counters.
func NewStore(repo domain.Repository, cache domain.Cache, bus domain.EventBus, window, timeout time.Duration) *Store {
	if window <= 0 {
		window = time.Hour
	}
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}

	s := &Store{
		repo:             repo,
		cache:            cache,
		bus:              bus,
		window:           window,
		timeout:          timeout,
		datacenterRanges: mustParsePrefixes(defaultDatacenterRanges),
		vpnRanges:        mustParsePrefixes(defaultVPNRanges),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	return s
}

// Warm loads persisted list statuses into the shard map. Called once at
// startup; lookups work without it, at the cost of repository round-trips.
func (s *Store) Warm(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	for _, status := range []domain.ListStatus{domain.ListStatusAllowlisted, domain.ListStatusBlocklisted} {
		recs, err := s.repo.ListReputations(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to load %s IPs: %w", status, err)
		}
		for _, rec := range recs {
			sh := s.shardFor(rec.IP)
			sh.mu.Lock()
			sh.entries[rec.IP] = &entry{status: rec.ListStatus, lastSeen: rec.LastSeenAt}
			sh.mu.Unlock()
		}
	}
	return nil
}

// LookupStatus returns the list status for an IP. Never fails: unseen IPs
// and backing-store timeouts both return "none".
func (s *Store) LookupStatus(ctx context.Context, ip string) domain.ListStatus {
	sh := s.shardFor(ip)

	sh.mu.RLock()
	e, ok := sh.entries[ip]
	sh.mu.RUnlock()
	if ok {
		return e.status
	}

	// Cold entry: consult the cache, then the repository, bounded by the
	// timeout. This is the pipeline's only suspension point; availability
	// wins over reputation freshness.
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.cache != nil {
		if raw, err := s.cache.Get(lookupCtx, reputationKey(ip)); err == nil && raw != nil {
			var rec domain.ReputationRecord
			if json.Unmarshal(raw, &rec) == nil {
				sh.mu.Lock()
				sh.entries[ip] = &entry{status: rec.ListStatus, lastSeen: rec.LastSeenAt}
				sh.mu.Unlock()
				return rec.ListStatus
			}
		}
	}

	if s.repo != nil {
		rec, err := s.repo.GetReputation(lookupCtx, ip)
		switch {
		case err == nil && rec != nil:
			sh.mu.Lock()
			sh.entries[ip] = &entry{status: rec.ListStatus, lastSeen: rec.LastSeenAt}
			sh.mu.Unlock()
			s.cacheReputation(lookupCtx, rec)
			return rec.ListStatus
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			slog.Warn("reputation lookup degraded to none", "ip", ip, "error", err)
		}
	}

	return domain.ListStatusNone
}

// cacheReputation stores a record in the shared cache so other nodes skip
// the repository round-trip. Cache failures are silent; the shard map and
// repository remain authoritative.
func (s *Store) cacheReputation(ctx context.Context, rec *domain.ReputationRecord) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, reputationKey(rec.IP), payload, reputationTTL); err != nil {
		slog.Debug("failed to cache reputation record", "ip", rec.IP, "error", err)
	}
}

// RecordClick increments the sliding click counter for an IP and campaign
// and returns the updated count, including the click being recorded.
// Concurrent calls for the same key serialize in the counter backend so the
// count is exact. Counter failures degrade to a count of 1 rather than
// failing the click.
func (s *Store) RecordClick(ctx context.Context, ip, campaignID string, ts time.Time) int64 {
	sh := s.shardFor(ip)
	sh.mu.Lock()
	if e, ok := sh.entries[ip]; ok {
		if ts.After(e.lastSeen) {
			e.lastSeen = ts
		}
	} else {
		sh.entries[ip] = &entry{status: domain.ListStatusNone, lastSeen: ts}
	}
	sh.mu.Unlock()

	counterCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.cache.IncrementCounter(counterCtx, velocityKey(campaignID, ip), s.window)
	if err == nil {
		return count
	}
	slog.Warn("velocity counter unavailable", "ip", ip, "campaign_id", campaignID, "error", err)

	// Fall back to the persisted click log when the counter cache is cold.
	if s.repo != nil {
		n, repoErr := s.repo.CountClicksByIP(counterCtx, campaignID, ip, ts.Add(-s.window))
		if repoErr == nil {
			return n + 1
		}
	}
	return 1
}

// SetStatus sets the allow/deny state of an IP. Idempotent: setting the same
// status twice is a no-op; otherwise last write wins. Setting status never
// re-scores past clicks.
func (s *Store) SetStatus(ctx context.Context, ip string, status domain.ListStatus) error {
	if !domain.ValidListStatus(status) {
		return fmt.Errorf("%w: unknown list status %q", domain.ErrInvalidInput, status)
	}

	now := time.Now().UTC()
	sh := s.shardFor(ip)

	sh.mu.Lock()
	e, ok := sh.entries[ip]
	if ok && e.status == status {
		sh.mu.Unlock()
		return nil
	}
	if !ok {
		e = &entry{lastSeen: now}
		sh.entries[ip] = e
	}
	e.status = status
	lastSeen := e.lastSeen
	sh.mu.Unlock()

	rec := &domain.ReputationRecord{
		IP:         ip,
		ListStatus: status,
		LastSeenAt: lastSeen,
		UpdatedAt:  now,
	}
	if s.repo != nil {
		if err := s.repo.SaveReputation(ctx, rec); err != nil {
			return fmt.Errorf("failed to persist reputation for %s: %w", ip, err)
		}
	}
	s.cacheReputation(ctx, rec)

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]string{"ip": ip, "status": string(status)})
		if err := s.bus.Publish(ctx, domain.TopicReputationUpdated, payload); err != nil {
			slog.Warn("failed to publish reputation update", "ip", ip, "error", err)
		}
	}

	return nil
}

// Lookup builds the full reputation view used by the scoring engine,
// recording the click in the process.
func (s *Store) Lookup(ctx context.Context, ip, campaignID string, ts time.Time) domain.Reputation {
	return domain.Reputation{
		IP:               ip,
		ListStatus:       s.LookupStatus(ctx, ip),
		ClickCountWindow: s.RecordClick(ctx, ip, campaignID, ts),
	}
}

// ClassifyIP classifies the network type of an IP using the range tables.
// Unparseable IPs classify as unknown.
func (s *Store) ClassifyIP(ip string) domain.IPType {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return domain.IPTypeUnknown
	}

	s.rangeMu.RLock()
	defer s.rangeMu.RUnlock()

	for _, p := range s.vpnRanges {
		if p.Contains(addr) {
			return domain.IPTypeVPN
		}
	}
	for _, p := range s.datacenterRanges {
		if p.Contains(addr) {
			return domain.IPTypeDatacenter
		}
	}
	if addr.Is4() || addr.Is4In6() {
		return domain.IPTypeResidential
	}
	return domain.IPTypeUnknown
}

// AddDatacenterRange extends the datacenter range table.
func (s *Store) AddDatacenterRange(cidr string) error {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	s.rangeMu.Lock()
	s.datacenterRanges = append(s.datacenterRanges, p)
	s.rangeMu.Unlock()
	return nil
}

// AddVPNRange extends the VPN range table.
func (s *Store) AddVPNRange(cidr string) error {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	s.rangeMu.Lock()
	s.vpnRanges = append(s.vpnRanges, p)
	s.rangeMu.Unlock()
	return nil
}

func (s *Store) shardFor(ip string) *shard {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return &s.shards[h.Sum32()%shardCount]
}

func velocityKey(campaignID, ip string) string {
	return "velocity:" + campaignID + ":" + ip
}

func reputationKey(ip string) string {
	return "reputation:" + ip
}
