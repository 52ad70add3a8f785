package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/github-cache/internal/testutil"
	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/Sternrassler/github-cache/pkg/lock"
	"github.com/Sternrassler/github-cache/pkg/origin"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingPath = "/orgs/acme/repos"

// fakeSource serves a fixed listing body and records its calls.
type fakeSource struct {
	body   string
	err    error
	calls  int
	forced bool
}

func (s *fakeSource) Fetch(_ context.Context, path string, force bool) (*cache.CachedResponse, error) {
	s.calls++
	s.forced = s.forced || force
	if s.err != nil {
		return nil, s.err
	}
	resp := cache.NewResponse(200, "200 OK", http.Header{}, []byte(s.body))
	resp.ValidUntil = time.Now().Add(time.Minute)
	return resp, nil
}

var testSpecs = []Spec{
	{Field: "stargazers_count", Path: "stars"},
	{Field: "pushed_at", Converter: ConverterDate},
}

const listing = `[
	{"full_name": "acme/a", "stargazers_count": 1, "pushed_at": "2024-01-01T00:00:00Z"},
	{"full_name": "acme/b", "stargazers_count": 30, "pushed_at": "2023-01-01T00:00:00Z"},
	{"full_name": "acme/c", "stargazers_count": 20, "pushed_at": "2025-01-01T00:00:00Z"}
]`

func newTestEngine(t *testing.T, source Source, cfg Config) (*Engine, *lock.Coordinator, *miniredis.Miniredis) {
	t.Helper()

	client, mr := testutil.NewRedis(t)
	keys := keyspace.New("github-cache")
	locker := lock.NewCoordinator(client, keys, 0, zerolog.Nop())
	store := NewStore(client, keys, zerolog.Nop())

	if cfg.RootPath == "" {
		cfg.RootPath = listingPath
	}
	if cfg.Specs == nil {
		cfg.Specs = testSpecs
	}
	return NewEngine(source, locker, store, cfg, zerolog.Nop()), locker, mr
}

func TestEngine_RefreshAndTopN(t *testing.T) {
	source := &fakeSource{body: listing}
	e, _, mr := newTestEngine(t, source, Config{})
	ctx := context.Background()

	require.NoError(t, e.Refresh(ctx))
	assert.False(t, source.forced, "refresh must reuse the cache")
	assert.False(t, mr.Exists("github-cache/lock"), "lock must be released")

	top, err := e.TopN(ctx, "top/2/stars")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"acme/b", ptr(30)}, {"acme/c", ptr(20)}}, top)

	recent, err := e.TopN(ctx, "top/1/pushed_at")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"acme/c", ptr(1735689600000)}}, recent)

	unknown, err := e.TopN(ctx, "top/2/forks")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/a", "acme/b"}, identities(unknown), "unknown views keep snapshot order")
}

func TestEngine_TopN_BadShape(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeSource{body: listing}, Config{})

	_, err := e.TopN(context.Background(), "bottom/2/stars")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_TopN_NoSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeSource{body: listing}, Config{})

	top, err := e.TopN(context.Background(), "top/5/stars")
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestEngine_Refresh_LockHeld(t *testing.T) {
	source := &fakeSource{body: listing}
	e, locker, mr := newTestEngine(t, source, Config{})
	ctx := context.Background()

	// Another instance holds the lock
	token, err := locker.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Refresh(ctx), "a held lock is a skipped cycle, not a failure")
	assert.Zero(t, source.calls)
	assert.False(t, mr.Exists("github-cache/views/count"))

	owner, _ := mr.Get("github-cache/lock")
	assert.Equal(t, string(token), owner, "the other holder keeps the lock")
}

// brokenLocker fails every acquisition with err.
type brokenLocker struct{ err error }

func (l brokenLocker) WithLock(context.Context, func(context.Context) error) (bool, error) {
	return false, l.err
}

func TestEngine_Refresh_LockError(t *testing.T) {
	source := &fakeSource{body: listing}
	client, _ := testutil.NewRedis(t)
	store := NewStore(client, keyspace.New("github-cache"), zerolog.Nop())

	var logs bytes.Buffer
	redisDown := errors.New("dial tcp: connection refused")
	e := NewEngine(source, brokenLocker{err: redisDown}, store,
		Config{RootPath: listingPath, Specs: testSpecs}, zerolog.New(&logs))

	err := e.Refresh(context.Background())
	assert.ErrorIs(t, err, redisDown, "a failing lock backend is not a skipped cycle")
	assert.Zero(t, source.calls)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "connection refused")
}

func TestEngine_Refresh_MalformedAborts(t *testing.T) {
	source := &fakeSource{body: listing}
	e, _, mr := newTestEngine(t, source, Config{})
	ctx := context.Background()

	require.NoError(t, e.Refresh(ctx))
	before, _ := mr.Get("github-cache/views/count")

	source.body = `[{"full_name": "acme/a", "stargazers_count": 1}, 42]`
	err := e.Refresh(ctx)
	assert.ErrorIs(t, err, ErrMalformed)

	after, _ := mr.Get("github-cache/views/count")
	assert.Equal(t, before, after, "a failed cycle must not write")
	assert.False(t, mr.Exists("github-cache/lock"), "lock is released on failure")

	top, err := e.TopN(ctx, "top/1/stars")
	require.NoError(t, err)
	assert.Equal(t, "acme/b", top[0].Identity, "previous snapshot is still served")
}

func TestEngine_Refresh_SourceUnavailable(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("%w: boom", origin.ErrUnavailable)}
	e, _, mr := newTestEngine(t, source, Config{})

	err := e.Refresh(context.Background())
	assert.True(t, errors.Is(err, origin.ErrUnavailable))
	assert.False(t, mr.Exists("github-cache/lock"))
}

func TestEngine_Refresh_EmptyListingKeepsSnapshot(t *testing.T) {
	source := &fakeSource{body: listing}
	e, _, _ := newTestEngine(t, source, Config{})
	ctx := context.Background()

	require.NoError(t, e.Refresh(ctx))
	source.body = `[]`
	require.NoError(t, e.Refresh(ctx))

	top, err := e.TopN(ctx, "top/10/stars")
	require.NoError(t, err)
	assert.Len(t, top, 3)
}

func TestEngine_SnapshotMemo(t *testing.T) {
	source := &fakeSource{body: listing}
	e, _, mr := newTestEngine(t, source, Config{MemoTTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, e.Refresh(ctx))
	_, err := e.TopN(ctx, "top/1/stars")
	require.NoError(t, err)

	// Snapshot rewritten behind the engine's back is not seen until the memo expires
	mr.Set("github-cache/views/count", "0")
	top, err := e.TopN(ctx, "top/1/stars")
	require.NoError(t, err)
	assert.Len(t, top, 1)

	// A local refresh purges the memo
	source.body = `[{"full_name": "acme/z", "stargazers_count": 99}]`
	require.NoError(t, e.Refresh(ctx))
	top, err = e.TopN(ctx, "top/1/stars")
	require.NoError(t, err)
	assert.Equal(t, "acme/z", top[0].Identity)
}
