package stories

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/hn-best-stories/pkg/cache"
	"github.com/Sternrassler/hn-best-stories/pkg/client"
	"github.com/Sternrassler/hn-best-stories/pkg/ratelimit"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// fakeUpstream serves fixed ids and items and counts calls.
type fakeUpstream struct {
	mu        sync.Mutex
	ids       []int
	idsErr    error
	items     map[int]client.Item
	itemErrs  map[int]error
	idCalls   int
	itemCalls map[int]int

	// blockItems makes FetchItem wait for cancellation.
	blockItems bool
}

func newFakeUpstream(ids ...int) *fakeUpstream {
	return &fakeUpstream{
		ids:       ids,
		items:     make(map[int]client.Item),
		itemErrs:  make(map[int]error),
		itemCalls: make(map[int]int),
	}
}

func (f *fakeUpstream) addItem(id, score int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = client.Item{ID: id, Title: "story", By: "author", Time: 1175714200, Score: score}
}

func (f *fakeUpstream) setIDsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idsErr = err
}

func (f *fakeUpstream) FetchBestStoryIDs(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	return append([]int(nil), f.ids...), nil
}

func (f *fakeUpstream) FetchItem(ctx context.Context, id int) (*client.Item, error) {
	f.mu.Lock()
	f.itemCalls[id]++
	block := f.blockItems
	err := f.itemErrs[id]
	item, ok := f.items[id]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (f *fakeUpstream) calls() (ids int, items int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.itemCalls {
		items += n
	}
	return f.idCalls, items
}

// fakeLimiter grants every permit unless told otherwise.
type fakeLimiter struct {
	calls  atomic.Int32
	deny   map[int]bool // by call order, 1-based
	err    error
	onCall func()
}

func (l *fakeLimiter) Acquire(ctx context.Context, permits int) (ratelimit.Lease, error) {
	n := int(l.calls.Add(1))
	if l.onCall != nil {
		l.onCall()
	}
	if l.err != nil {
		return ratelimit.Lease{}, l.err
	}
	if l.deny[n] {
		return ratelimit.Lease{}, nil
	}
	return ratelimit.Lease{Acquired: true}, nil
}

type fixture struct {
	upstream *fakeUpstream
	limiter  *fakeLimiter
	ids      *cache.Memory[[]int]
	items    *cache.Memory[client.Item]
	resolver *Resolver
}

func newFixture(t *testing.T, upstream *fakeUpstream) *fixture {
	t.Helper()
	ids, err := cache.NewMemory[[]int](10, testLogger())
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	items, err := cache.NewMemory[client.Item](100, testLogger())
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	limiter := &fakeLimiter{}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 4

	return &fixture{
		upstream: upstream,
		limiter:  limiter,
		ids:      ids,
		items:    items,
		resolver: NewResolver(upstream, limiter, ids, items, cfg, testLogger()),
	}
}

func storyScores(stories []Story) []int {
	scores := make([]int, len(stories))
	for i, s := range stories {
		scores[i] = s.Score
	}
	return scores
}

func TestResolve_InvalidCount(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		f := newFixture(t, newFakeUpstream(1))

		stories, err := f.resolver.Resolve(context.Background(), n)
		if !errors.Is(err, ErrInvalidCount) {
			t.Errorf("Resolve(%d) error = %v, want ErrInvalidCount", n, err)
		}
		if err != nil && err.Error() != "The parameter 'n' must be greater than 0." {
			t.Errorf("message = %q", err.Error())
		}
		if stories != nil {
			t.Errorf("Resolve(%d) = %v, want nil", n, stories)
		}
		if ids, items := f.upstream.calls(); ids+items != 0 {
			t.Errorf("Resolve(%d) must not call upstream", n)
		}
	}
}

func TestResolve_SortedAndBounded(t *testing.T) {
	scores := map[int]int{1: 5, 2: 80, 3: 12, 4: 80, 5: 1, 6: 99, 7: 40, 8: 3}
	upstream := newFakeUpstream(1, 2, 3, 4, 5, 6, 7, 8)
	for id, score := range scores {
		upstream.addItem(id, score)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{n: 1, want: []int{5}},
		{n: 3, want: []int{80, 12, 5}},
		{n: 5, want: []int{80, 80, 12, 5, 1}},
		{n: 8, want: []int{99, 80, 80, 40, 12, 5, 3, 1}},
		{n: 200, want: []int{99, 80, 80, 40, 12, 5, 3, 1}},
	}

	for _, tt := range tests {
		f := newFixture(t, upstream)
		stories, err := f.resolver.Resolve(context.Background(), tt.n)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", tt.n, err)
		}
		got := storyScores(stories)
		if len(got) != len(tt.want) {
			t.Fatalf("Resolve(%d) scores = %v, want %v", tt.n, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Resolve(%d) scores = %v, want %v", tt.n, got, tt.want)
				break
			}
		}
	}
}

func TestResolve_TiesKeepFetchOrder(t *testing.T) {
	upstream := newFakeUpstream(3, 1, 2)
	upstream.items[3] = client.Item{ID: 3, Title: "c", Score: 7}
	upstream.items[1] = client.Item{ID: 1, Title: "a", Score: 7}
	upstream.items[2] = client.Item{ID: 2, Title: "b", Score: 7}

	f := newFixture(t, upstream)
	stories, err := f.resolver.Resolve(context.Background(), 3)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{"c", "a", "b"}
	if len(stories) != len(want) {
		t.Fatalf("len(stories) = %d, want %d", len(stories), len(want))
	}
	for i, s := range stories {
		if s.Title != want[i] {
			t.Fatalf("titles = %v, want %v", stories, want)
		}
	}
}

func TestResolve_FailingItemIsDropped(t *testing.T) {
	upstream := newFakeUpstream(1, 2, 3)
	upstream.items[1] = client.Item{ID: 1, Title: "one", Score: 10}
	upstream.items[3] = client.Item{ID: 3, Title: "three", Score: 20}
	upstream.itemErrs[2] = client.ErrCircuitOpen

	f := newFixture(t, upstream)
	stories, err := f.resolver.Resolve(context.Background(), 3)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(stories) != 2 || stories[0].Title != "three" || stories[1].Title != "one" {
		t.Errorf("Resolve() = %+v, want [three one]", stories)
	}
}

func TestResolve_FewerIDsThanRequested(t *testing.T) {
	upstream := newFakeUpstream(10, 20)
	upstream.addItem(10, 1)
	upstream.addItem(20, 2)

	f := newFixture(t, upstream)
	stories, err := f.resolver.Resolve(context.Background(), 5)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(stories) != 2 {
		t.Errorf("len = %d, want 2", len(stories))
	}
}

func TestResolve_AbsentItemsDroppedAndNotCached(t *testing.T) {
	upstream := newFakeUpstream(1, 2)
	upstream.addItem(1, 10)

	f := newFixture(t, upstream)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		stories, err := f.resolver.Resolve(ctx, 2)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(stories) != 1 {
			t.Errorf("len = %d, want 1", len(stories))
		}
	}

	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	if upstream.itemCalls[2] != 2 {
		t.Errorf("absent item calls = %d, want 2 (absent results are not cached)", upstream.itemCalls[2])
	}
	if upstream.itemCalls[1] != 1 {
		t.Errorf("present item calls = %d, want 1", upstream.itemCalls[1])
	}
}

func TestResolve_CacheHitSkipsLimiter(t *testing.T) {
	upstream := newFakeUpstream(1, 2, 3)
	f := newFixture(t, upstream)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		f.items.Set(ctx, cache.ItemKey(id), client.Item{ID: id, Score: id}, time.Minute)
	}
	f.limiter.onCall = func() { t.Error("limiter must not be consulted on a cache hit") }

	stories, err := f.resolver.Resolve(ctx, 3)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(stories) != 3 {
		t.Errorf("len = %d, want 3", len(stories))
	}
	if _, items := upstream.calls(); items != 0 {
		t.Errorf("item calls = %d, want 0", items)
	}
}

func TestResolve_DeniedItemsDropped(t *testing.T) {
	upstream := newFakeUpstream(1, 2, 3)
	for id := 1; id <= 3; id++ {
		upstream.addItem(id, id)
	}

	f := newFixture(t, upstream)
	f.resolver.config.MaxConcurrency = 1
	f.limiter.deny = map[int]bool{2: true}

	stories, err := f.resolver.Resolve(context.Background(), 3)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(stories) != 2 {
		t.Errorf("len = %d, want 2", len(stories))
	}
	if _, items := upstream.calls(); items != 2 {
		t.Errorf("item calls = %d, want 2 (denied item must not reach upstream)", items)
	}
}

func TestResolve_LimiterErrorIsDenial(t *testing.T) {
	upstream := newFakeUpstream(1, 2)
	upstream.addItem(1, 1)
	upstream.addItem(2, 2)

	f := newFixture(t, upstream)
	f.limiter.err = ratelimit.ErrClosed

	stories, err := f.resolver.Resolve(context.Background(), 2)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(stories) != 0 {
		t.Errorf("len = %d, want 0", len(stories))
	}
}

func TestResolve_StaleFallback(t *testing.T) {
	upstream := newFakeUpstream(1, 2)
	upstream.addItem(1, 10)
	upstream.addItem(2, 20)

	f := newFixture(t, upstream)
	ctx := context.Background()

	if _, err := f.resolver.Resolve(ctx, 2); err != nil {
		t.Fatalf("warm-up Resolve() error = %v", err)
	}

	// Primary entry expired and the upstream is down.
	f.ids.Remove(ctx, cache.BestStoryIDsKey)
	upstream.setIDsErr(client.ErrRetryExhausted)

	stories, err := f.resolver.Resolve(ctx, 2)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := storyScores(stories); len(got) != 2 || got[0] != 20 {
		t.Errorf("scores = %v, want [20 10] from stale ids", got)
	}
}

func TestResolve_NoIDsAnywhereIsEmptySuccess(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.setIDsErr(client.ErrCircuitOpen)

	f := newFixture(t, upstream)
	stories, err := f.resolver.Resolve(context.Background(), 10)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if stories == nil || len(stories) != 0 {
		t.Errorf("Resolve() = %#v, want empty non-nil slice", stories)
	}
}

func TestResolve_EmptyIDListNotCached(t *testing.T) {
	upstream := newFakeUpstream()
	f := newFixture(t, upstream)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.resolver.Resolve(ctx, 3); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if ids, _ := upstream.calls(); ids != 2 {
		t.Errorf("id list calls = %d, want 2", ids)
	}
}

func TestResolve_WritesStaleCopy(t *testing.T) {
	upstream := newFakeUpstream(4, 5)
	f := newFixture(t, upstream)
	ctx := context.Background()

	if _, err := f.resolver.Resolve(ctx, 1); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	stale, ok := f.ids.Get(ctx, cache.StaleBestStoryIDsKey)
	if !ok || len(stale) != 2 || stale[0] != 4 {
		t.Errorf("stale copy = %v, %v; want [4 5]", stale, ok)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	upstream := newFakeUpstream(1, 2, 3)
	for id := 1; id <= 3; id++ {
		upstream.addItem(id, id*10)
	}

	f := newFixture(t, upstream)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, 3)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	idCalls, itemCalls := upstream.calls()

	for i := 0; i < 3; i++ {
		again, err := f.resolver.Resolve(ctx, 3)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(again) != len(first) {
			t.Errorf("len = %d, want %d", len(again), len(first))
		}
	}

	if ids, items := upstream.calls(); ids != idCalls || items != itemCalls {
		t.Errorf("upstream calls grew from (%d, %d) to (%d, %d)", idCalls, itemCalls, ids, items)
	}
	if f.limiter.calls.Load() != 3 {
		t.Errorf("limiter calls = %d, want 3 (cache hits skip the limiter)", f.limiter.calls.Load())
	}
}

func TestResolve_CancelledBeforeStart(t *testing.T) {
	upstream := newFakeUpstream(1)
	upstream.addItem(1, 1)
	f := newFixture(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.Resolve(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestResolve_CancellationDuringFanOutPropagates(t *testing.T) {
	upstream := newFakeUpstream(1, 2, 3, 4, 5, 6)
	upstream.blockItems = true
	f := newFixture(t, upstream)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	stories, err := f.resolver.Resolve(ctx, 6)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Resolve() error = %v, want context.DeadlineExceeded", err)
	}
	if stories != nil {
		t.Errorf("Resolve() = %v, want nil on cancellation", stories)
	}
	if time.Since(start) > time.Second {
		t.Error("Resolve() did not unwind promptly")
	}
}

func TestResolve_WithTokenBucket(t *testing.T) {
	upstream := newFakeUpstream(1, 2, 3, 4)
	for id := 1; id <= 4; id++ {
		upstream.addItem(id, id)
	}
	ids, _ := cache.NewMemory[[]int](10, testLogger())
	items, _ := cache.NewMemory[client.Item](10, testLogger())

	bucket, err := ratelimit.NewTokenBucket(ratelimit.ConfigForRate(2), testLogger())
	if err != nil {
		t.Fatalf("NewTokenBucket() error = %v", err)
	}
	defer bucket.Close()

	r := NewResolver(upstream, bucket, ids, items, DefaultConfig(), testLogger())
	stories, err := r.Resolve(context.Background(), 4)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(stories) != 4 {
		t.Errorf("len = %d, want 4 (burst of 2R covers 4 fetches)", len(stories))
	}
}
