// internal/app/resolver.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/observability"

	"github.com/agnivade/levenshtein"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CatalogueSource downloads the complete upstream address catalogue.
type CatalogueSource interface {
	FetchCatalogue(ctx context.Context) ([]address.Record, error)
}

// AddressResolver maps free-text addresses to location ids using a cached
// copy of the upstream catalogue.
type AddressResolver struct {
	source    CatalogueSource
	cache     address.IndexCache
	clock     clockwork.Clock
	maxAge    time.Duration
	tolerance int
	metrics   *observability.Metrics
	logger    *logrus.Entry

	mu    sync.RWMutex
	index *address.Index
	group singleflight.Group
}

func NewAddressResolver(
	source CatalogueSource,
	cache address.IndexCache,
	clock clockwork.Clock,
	maxAge time.Duration,
	tolerance int,
	metrics *observability.Metrics,
	logger *logrus.Entry,
) *AddressResolver {
	return &AddressResolver{
		source:    source,
		cache:     cache,
		clock:     clock,
		maxAge:    maxAge,
		tolerance: tolerance,
		metrics:   metrics,
		logger:    logger.WithField("component", "address_resolver"),
	}
}

// Init loads the persisted index, if any. A missing index is built lazily on
// the first Resolve.
func (r *AddressResolver) Init(ctx context.Context) error {
	idx, err := r.cache.LoadIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to load address index: %w", err)
	}
	if idx == nil {
		r.logger.Info("No persisted address index, it will be built on first use")
		return nil
	}
	r.swap(idx)
	r.logger.WithFields(logrus.Fields{"records": idx.Len(), "built_at": idx.BuiltAt}).Info("Address index loaded")
	return nil
}

// Rebuild downloads the catalogue and replaces the index wholesale.
// Concurrent callers share one download.
func (r *AddressResolver) Rebuild(ctx context.Context) (*address.Index, error) {
	v, err, shared := r.group.Do("rebuild", func() (any, error) {
		records, err := r.source.FetchCatalogue(ctx)
		if err != nil {
			r.metrics.IndexRebuilds.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to fetch address catalogue: %w", err)
		}
		idx := address.NewIndex(records, r.clock.Now())
		if err := r.cache.SaveIndex(ctx, idx); err != nil {
			// the fresh index is still usable in memory
			r.logger.WithError(err).Error("Failed to persist address index")
		}
		r.swap(idx)
		r.metrics.IndexRebuilds.WithLabelValues("success").Inc()
		r.logger.WithField("records", idx.Len()).Info("Address index rebuilt")
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("Joined an address index rebuild already in progress")
	}
	return v.(*address.Index), nil
}

func (r *AddressResolver) swap(idx *address.Index) {
	r.mu.Lock()
	r.index = idx
	r.mu.Unlock()
	r.metrics.IndexSize.Set(float64(idx.Len()))
}

func (r *AddressResolver) current() *address.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// currentOrRebuild returns a usable index, rebuilding first when it is empty
// or older than maxAge. A stale index is used if the rebuild fails.
func (r *AddressResolver) currentOrRebuild(ctx context.Context) (*address.Index, error) {
	idx := r.current()
	if idx.Len() > 0 && r.clock.Since(idx.BuiltAt) <= r.maxAge {
		return idx, nil
	}
	fresh, err := r.Rebuild(ctx)
	if err == nil {
		return fresh, nil
	}
	if idx.Len() > 0 {
		r.logger.WithError(err).Warn("Address index rebuild failed, using stale index")
		return idx, nil
	}
	return nil, err
}

// Resolve finds the location for a free-text address. hint may name a postal
// code or district and is used to narrow several candidates down to one.
func (r *AddressResolver) Resolve(ctx context.Context, query, hint string) (address.Record, error) {
	key := address.Normalize(query)
	if key == "" {
		return address.Record{}, address.ErrNotFound
	}
	idx, err := r.currentOrRebuild(ctx)
	if err != nil {
		return address.Record{}, err
	}

	candidates := distinctLocations(idx.Exact(key))
	fuzzy := len(candidates) == 0
	if fuzzy {
		candidates = distinctLocations(r.closest(idx, key))
	}
	if hint = strings.TrimSpace(hint); hint != "" && len(candidates) > 1 {
		if narrowed := filterByHint(candidates, hint); len(narrowed) > 0 {
			candidates = narrowed
		}
	}

	switch {
	case len(candidates) == 0:
		r.metrics.Resolutions.WithLabelValues("not_found").Inc()
		return address.Record{}, fmt.Errorf("%w: %q", address.ErrNotFound, query)
	case fuzzy:
		// a spelling correction is never applied without the user's confirmation
		r.metrics.Resolutions.WithLabelValues("fuzzy").Inc()
		return address.Record{}, &address.AmbiguousError{Query: query, Candidates: candidates, Corrected: true}
	case len(candidates) == 1:
		r.metrics.Resolutions.WithLabelValues("exact").Inc()
		return candidates[0], nil
	default:
		r.metrics.Resolutions.WithLabelValues("ambiguous").Inc()
		return address.Record{}, &address.AmbiguousError{Query: query, Candidates: candidates}
	}
}

// closest returns the records whose street is nearest to the street of key,
// within tolerance. The house number must match exactly.
func (r *AddressResolver) closest(idx *address.Index, key string) []address.Record {
	if r.tolerance <= 0 {
		return nil
	}
	street, number := address.SplitStreet(key)
	streetLen := utf8.RuneCountInString(street)
	best := r.tolerance + 1
	var keys []string
	for _, k := range idx.Keys() {
		s, n := address.SplitStreet(k)
		if n != number {
			continue
		}
		if abs(utf8.RuneCountInString(s)-streetLen) > r.tolerance {
			continue
		}
		d := levenshtein.ComputeDistance(street, s)
		switch {
		case d < best:
			best = d
			keys = []string{k}
		case d == best:
			keys = append(keys, k)
		}
	}
	var out []address.Record
	for _, k := range keys {
		out = append(out, idx.Exact(k)...)
	}
	return out
}

// Lookup returns the catalogue record of a location id.
func (r *AddressResolver) Lookup(locationID string) (address.Record, bool) {
	return r.current().Record(locationID)
}

// CheckReadiness fails while no index is available.
func (r *AddressResolver) CheckReadiness(_ context.Context) error {
	if r.current().Len() == 0 {
		return errors.New("address index is empty")
	}
	return nil
}

func distinctLocations(records []address.Record) []address.Record {
	seen := make(map[string]bool, len(records))
	out := records[:0:0]
	for _, rec := range records {
		if seen[rec.LocationID] {
			continue
		}
		seen[rec.LocationID] = true
		out = append(out, rec)
	}
	return out
}

func filterByHint(records []address.Record, hint string) []address.Record {
	h := address.Normalize(hint)
	var out []address.Record
	for _, rec := range records {
		if rec.Fields.PostalCode != "" && rec.Fields.PostalCode == h {
			out = append(out, rec)
			continue
		}
		if d := address.Normalize(rec.Fields.District); d != "" && strings.Contains(d, h) {
			out = append(out, rec)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
