// Package stories resolves the best N stories.
//
// Resolve reads the ranked id list through the cache, fans out over the
// first N ids with bounded concurrency and returns the stories it could
// resolve, highest score first. Individual items that are missing, rate
// limited or failing are dropped; only invalid input and cancellation are
// reported as errors.
package stories

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Sternrassler/hn-best-stories/pkg/cache"
	"github.com/Sternrassler/hn-best-stories/pkg/client"
	"github.com/Sternrassler/hn-best-stories/pkg/fanout"
	"github.com/Sternrassler/hn-best-stories/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for story resolution.
var (
	storyFetchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_story_fetch_outcomes_total",
		Help: "Total per-item fetch outcomes (resolved, absent, denied, failed)",
	}, []string{"outcome"})

	idListFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_id_list_fallback_total",
		Help: "Total id list fetch failures by fallback source (primary, stale, none)",
	}, []string{"source"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hn_resolve_duration_seconds",
		Help:    "Duration of Resolve calls in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// InvalidCountMessage is the user-facing message for a non-positive count.
const InvalidCountMessage = "The parameter 'n' must be greater than 0."

// ErrInvalidCount is returned by Resolve for n <= 0.
var ErrInvalidCount = errors.New(InvalidCountMessage)

// Upstream fetches the id list and single items.
type Upstream interface {
	FetchBestStoryIDs(ctx context.Context) ([]int, error)
	FetchItem(ctx context.Context, id int) (*client.Item, error)
}

// Limiter admits outbound item fetches.
type Limiter interface {
	Acquire(ctx context.Context, permits int) (ratelimit.Lease, error)
}

// Outcome is the result kind of a single item fetch.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeAbsent   Outcome = "absent"
	OutcomeDenied   Outcome = "denied"
	OutcomeFailed   Outcome = "failed"
)

// Config holds resolver configuration.
type Config struct {
	// IDListTTL is how long the id list is served from cache.
	IDListTTL time.Duration

	// ItemTTL is how long a single item is served from cache.
	ItemTTL time.Duration

	// StaleIDListTTL bounds how long the last good id list remains
	// available as a fallback when the upstream is down.
	StaleIDListTTL time.Duration

	// MaxConcurrency limits concurrent item fetches.
	MaxConcurrency int
}

// DefaultConfig returns 5 minutes for the id list, 15 minutes per item,
// a day of stale fallback and two fetches per CPU.
func DefaultConfig() Config {
	return Config{
		IDListTTL:      5 * time.Minute,
		ItemTTL:        15 * time.Minute,
		StaleIDListTTL: 24 * time.Hour,
		MaxConcurrency: fanout.DefaultConcurrency(),
	}
}

// Resolver composes cache, limiter and upstream. It holds no per-request
// state and is safe for concurrent use.
type Resolver struct {
	upstream Upstream
	limiter  Limiter
	ids      cache.Cache[[]int]
	items    cache.Cache[client.Item]
	config   Config
	logger   zerolog.Logger
}

// NewResolver creates a resolver. Zero config values fall back to DefaultConfig.
func NewResolver(upstream Upstream, limiter Limiter, ids cache.Cache[[]int], items cache.Cache[client.Item], cfg Config, logger zerolog.Logger) *Resolver {
	def := DefaultConfig()
	if cfg.IDListTTL <= 0 {
		cfg.IDListTTL = def.IDListTTL
	}
	if cfg.ItemTTL <= 0 {
		cfg.ItemTTL = def.ItemTTL
	}
	if cfg.StaleIDListTTL <= 0 {
		cfg.StaleIDListTTL = def.StaleIDListTTL
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}

	return &Resolver{
		upstream: upstream,
		limiter:  limiter,
		ids:      ids,
		items:    items,
		config:   cfg,
		logger:   logger.With().Str("component", "stories").Logger(),
	}
}

type itemResult struct {
	story   Story
	outcome Outcome
}

// Resolve returns up to n best stories sorted by score descending. The
// result may be shorter than n or empty; the only errors are
// ErrInvalidCount and the context's error.
func (r *Resolver) Resolve(ctx context.Context, n int) ([]Story, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}

	startTime := time.Now()
	defer func() {
		resolveDuration.Observe(time.Since(startTime).Seconds())
	}()

	ids, err := r.bestStoryIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > n {
		ids = ids[:n]
	}

	results, err := fanout.Run(ctx, fanout.Config{MaxConcurrency: r.config.MaxConcurrency}, ids, r.resolveItem)
	if err != nil {
		return nil, err
	}

	counts := make(map[Outcome]int, 4)
	stories := make([]Story, 0, len(results))
	for _, res := range results {
		counts[res.outcome]++
		storyFetchOutcomesTotal.WithLabelValues(string(res.outcome)).Inc()
		if res.outcome == OutcomeResolved {
			stories = append(stories, res.story)
		}
	}

	sort.SliceStable(stories, func(i, j int) bool {
		return stories[i].Score > stories[j].Score
	})

	event := r.logger.Debug()
	if counts[OutcomeFailed] > 0 || counts[OutcomeDenied] > 0 {
		event = r.logger.Info()
	}
	event.
		Int("requested", n).
		Int("candidates", len(ids)).
		Int("resolved", counts[OutcomeResolved]).
		Int("absent", counts[OutcomeAbsent]).
		Int("denied", counts[OutcomeDenied]).
		Int("failed", counts[OutcomeFailed]).
		Dur("duration", time.Since(startTime)).
		Msg("Best stories resolved")

	return stories, nil
}

// bestStoryIDs returns the ranked id list. When the upstream is down it
// falls back to the primary entry, then the stale copy, then nothing.
func (r *Resolver) bestStoryIDs(ctx context.Context) ([]int, error) {
	ids, _, err := r.ids.GetOrCreate(ctx, cache.BestStoryIDsKey, func(ctx context.Context) ([]int, bool, error) {
		ids, err := r.upstream.FetchBestStoryIDs(ctx)
		if err != nil || len(ids) == 0 {
			return nil, false, err
		}
		r.ids.Set(ctx, cache.StaleBestStoryIDsKey, ids, r.config.StaleIDListTTL)
		return ids, true, nil
	}, r.config.IDListTTL)
	if err == nil {
		return ids, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	r.logger.Warn().Err(err).Msg("Best story ids unavailable from upstream, trying cached copies")

	if ids, ok := r.ids.Get(ctx, cache.BestStoryIDsKey); ok {
		idListFallbackTotal.WithLabelValues("primary").Inc()
		return ids, nil
	}
	if ids, ok := r.ids.Get(ctx, cache.StaleBestStoryIDsKey); ok {
		idListFallbackTotal.WithLabelValues("stale").Inc()
		r.logger.Info().Int("count", len(ids)).Msg("Serving stale best story ids")
		return ids, nil
	}

	idListFallbackTotal.WithLabelValues("none").Inc()
	r.logger.Warn().Msg("No cached best story ids, returning empty result")
	return nil, nil
}

// resolveItem fetches one item. Failures become outcomes; only
// cancellation is returned as an error.
func (r *Resolver) resolveItem(ctx context.Context, id int) (itemResult, error) {
	key := cache.ItemKey(id)

	// Cache hits never consume rate limit tokens.
	if item, ok := r.items.Get(ctx, key); ok {
		return itemResult{story: FromItem(item), outcome: OutcomeResolved}, nil
	}
	if err := ctx.Err(); err != nil {
		return itemResult{}, err
	}

	lease, err := r.limiter.Acquire(ctx, 1)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return itemResult{}, ctxErr
		}
		r.logger.Warn().Err(err).Int("id", id).Msg("Rate limiter refused item fetch")
		return itemResult{outcome: OutcomeDenied}, nil
	}
	if !lease.Acquired {
		r.logger.Warn().Int("id", id).Msg("Rate limit queue full, skipping item")
		return itemResult{outcome: OutcomeDenied}, nil
	}

	item, ok, err := r.items.GetOrCreate(ctx, key, func(ctx context.Context) (client.Item, bool, error) {
		item, err := r.upstream.FetchItem(ctx, id)
		if err != nil || item == nil {
			return client.Item{}, false, err
		}
		return *item, true, nil
	}, r.config.ItemTTL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return itemResult{}, ctxErr
		}
		r.logger.Warn().Err(err).Int("id", id).Msg("Item fetch failed, dropping")
		return itemResult{outcome: OutcomeFailed}, nil
	}
	if !ok {
		r.logger.Debug().Int("id", id).Msg("Item not found upstream")
		return itemResult{outcome: OutcomeAbsent}, nil
	}

	return itemResult{story: FromItem(item), outcome: OutcomeResolved}, nil
}
