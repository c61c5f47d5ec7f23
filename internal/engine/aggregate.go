package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	gobreaker "github.com/sony/gobreaker/v2"
)

// SecondaryLimit is the per-provider limit of the single-token fan-out.
const SecondaryLimit = 10

// SourceSpec registers a provider with the aggregator.
type SourceSpec struct {
	Provider Provider
	Limit    int  // default per-query limit
	Artist   bool // also queried with the first token of multi-word queries
}

// AggregatorOptions tunes timeouts and breakers.
type AggregatorOptions struct {
	Timeout         time.Duration // per provider call
	BreakerFailures uint32        // consecutive failures that open a breaker
	BreakerCooldown time.Duration // open → half-open delay
}

type source struct {
	spec    SourceSpec
	breaker *gobreaker.CircuitBreaker[[]Candidate]
}

// Aggregator fans a query out to every provider and merges the results.
type Aggregator struct {
	sources []source
	timeout time.Duration
}

// NewAggregator builds an aggregator over specs. Order of specs is the
// arrival order used by pre-deduplication.
func NewAggregator(specs []SourceSpec, opts AggregatorOptions) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	a := &Aggregator{timeout: opts.Timeout}
	for _, spec := range specs {
		failures := opts.BreakerFailures
		a.sources = append(a.sources, source{
			spec: spec,
			breaker: gobreaker.NewCircuitBreaker[[]Candidate](gobreaker.Settings{
				Name:        string(spec.Provider.Kind()),
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     opts.BreakerCooldown,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= failures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					slog.Info("provider breaker state change",
						slog.String("provider", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()))
				},
			}),
		})
	}
	return a
}

// Provider returns the registered provider of the given kind.
func (a *Aggregator) Provider(kind ProviderKind) (Provider, bool) {
	for _, s := range a.sources {
		if s.spec.Provider.Kind() == kind {
			return s.spec.Provider, true
		}
	}
	return nil, false
}

type searchTask struct {
	src   source
	query string
	limit int
}

// Search queries all providers concurrently and returns the ranked merge.
// perProviderLimit > 0 overrides every source's default limit.
// A failing, slow or tripped provider contributes nothing.
func (a *Aggregator) Search(ctx context.Context, query string, perProviderLimit int) []Candidate {
	metrics.SearchRequests.Add(1)

	var tasks []searchTask
	for _, s := range a.sources {
		tasks = append(tasks, searchTask{src: s, query: query, limit: pickLimit(perProviderLimit, s.spec.Limit)})
	}
	if term, ok := artistTerm(query); ok {
		slog.Debug("hybrid search", slog.String("term", term))
		for _, s := range a.sources {
			if s.spec.Artist {
				tasks = append(tasks, searchTask{src: s, query: term, limit: pickLimit(perProviderLimit, SecondaryLimit)})
			}
		}
	}

	// Slots keep merge order equal to task order regardless of completion order.
	slots := make([][]Candidate, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slots[i] = a.searchOne(ctx, t)
		}()
	}
	wg.Wait()

	var raw []Candidate
	for _, s := range slots {
		raw = append(raw, s...)
	}
	return Rank(query, PreDedup(raw))
}

func (a *Aggregator) searchOne(ctx context.Context, t searchTask) []Candidate {
	kind := t.src.spec.Provider.Kind()
	metrics.ProviderSearches.Add(1)

	results, err := t.src.breaker.Execute(func() ([]Candidate, error) {
		cctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return t.src.spec.Provider.Search(cctx, t.query, t.limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRejects.Add(1)
		} else {
			metrics.ProviderErrors.Add(1)
		}
		slog.Debug("provider search failed", slog.String("provider", string(kind)), slog.Any("error", err))
		return nil
	}
	for i := range results {
		if results[i].Provider == "" {
			results[i].Provider = kind
		}
	}
	return results
}

// SearchCached serves query from cache when a non-empty duration-filtered
// set exists, otherwise searches and caches a non-empty result.
// Returns the candidates, the query hash and whether the cache served them.
func (a *Aggregator) SearchCached(ctx context.Context, cache *Cache, query string) ([]Candidate, string, bool) {
	hash := QueryHash(query)
	if cached, ok := cache.GetCandidates(ctx, hash); ok {
		if filtered := FilterDuration(cached); len(filtered) > 0 {
			IncrSearchCacheServed()
			return filtered, hash, true
		}
	}
	results := a.Search(ctx, query, 0)
	if len(results) > 0 {
		cache.PutCandidates(ctx, hash, results)
	}
	return results, hash, false
}

func pickLimit(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}

// artistTerm returns the first token of a multi-word query when it is long
// enough to plausibly name an artist.
func artistTerm(query string) (string, bool) {
	words := strings.Fields(query)
	if len(words) < 2 || utf8.RuneCountInString(words[0]) <= 2 {
		return "", false
	}
	return words[0], true
}
