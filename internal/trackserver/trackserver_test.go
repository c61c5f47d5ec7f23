package trackserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
	"github.com/anatolykoptev/go_music/internal/engine/dispatch"
)

type fakeSearcher struct {
	results []engine.Candidate
	calls   int
}

func (f *fakeSearcher) SearchCached(ctx context.Context, cache *engine.Cache, query string) ([]engine.Candidate, string, bool) {
	f.calls++
	hash := engine.QueryHash(query)
	if len(f.results) > 0 {
		cache.PutCandidates(ctx, hash, f.results)
	}
	return f.results, hash, false
}

type fakeGate struct {
	member    bool
	memberErr error
	cooldown  int
}

func (g *fakeGate) CheckSearch(int64) (int, bool) { return g.cooldown, g.cooldown == 0 }

func (g *fakeGate) IsMember(context.Context, int64, string) (bool, error) {
	return g.member, g.memberErr
}

type submission struct {
	kind engine.ProviderKind
	id   string
}

type fakeSubmitter struct {
	decision admission.Decision
	got      []submission
}

func (f *fakeSubmitter) Submit(_ context.Context, requester int64, kind engine.ProviderKind, id string) (admission.Decision, *engine.Job) {
	f.got = append(f.got, submission{kind, id})
	if !f.decision.Allowed {
		return f.decision, nil
	}
	job := dispatch.NewJob(engine.TierNormal, time.Now(), requester, kind, id)
	return f.decision, &job
}

func (f *fakeSubmitter) Status() []dispatch.LaneStatus {
	return []dispatch.LaneStatus{{Name: "fast"}, {Name: "slow"}}
}

type fakeHistory struct {
	limit int
	err   error
}

func (h *fakeHistory) RecentDownloads(_ context.Context, _ int64, limit int) ([]engine.Download, error) {
	h.limit = limit
	return nil, h.err
}

func tracks(n int) []engine.Candidate {
	out := make([]engine.Candidate, n)
	for i := range out {
		out[i] = engine.Candidate{
			Provider: engine.KindSaavn,
			ID:       "id" + strings.Repeat("x", i),
			Title:    "Get Lucky",
			Artist:   "Daft Punk",
			Duration: 248,
		}
	}
	return out
}

func newService() (*Service, *fakeSearcher, *fakeGate, *fakeSubmitter) {
	searcher := &fakeSearcher{}
	gate := &fakeGate{member: true}
	sub := &fakeSubmitter{}
	s := &Service{
		Searcher:        searcher,
		Cache:           engine.NewCache(nil, engine.CacheOptions{TTL: time.Minute}),
		Gate:            gate,
		Dispatcher:      sub,
		Inbox:           NewInbox(os.TempDir(), 0),
		History:         &fakeHistory{},
		PrimaryChannel:  "@music",
		ElevatedChannel: "@music_vip",
	}
	return s, searcher, gate, sub
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("first page", func(t *testing.T) {
		s, searcher, _, _ := newService()
		searcher.results = tracks(7)

		out, err := s.Search(ctx, SearchInput{RequesterID: 1, Query: "  daft punk "})
		require.NoError(t, err)
		assert.Equal(t, "🎧 Found 7 tracks. Choose:", out.Text)
		assert.Equal(t, 7, out.Total)
		assert.Equal(t, engine.QueryHash("daft punk"), out.Hash)
		require.Len(t, out.Keyboard, 6)
		assert.Equal(t, "dl:saavn:id", out.Keyboard[0][0].Data)
		assert.Equal(t, "page:1:"+out.Hash, out.Keyboard[5][0].Data)
	})

	t.Run("not a member", func(t *testing.T) {
		s, searcher, gate, _ := newService()
		gate.member = false
		gate.memberErr = errors.New("timeout")

		out, err := s.Search(ctx, SearchInput{RequesterID: 1, Query: "daft punk"})
		require.NoError(t, err)
		assert.Contains(t, out.Text, "@music")
		require.Len(t, out.Keyboard, 1)
		assert.Equal(t, "https://t.me/music", out.Keyboard[0][0].URL)
		assert.Zero(t, searcher.calls)
	})

	t.Run("cooldown", func(t *testing.T) {
		s, searcher, gate, _ := newService()
		gate.cooldown = 5

		out, err := s.Search(ctx, SearchInput{RequesterID: 1, Query: "daft punk"})
		require.NoError(t, err)
		assert.Equal(t, admission.CooldownMessage(5), out.Text)
		assert.Zero(t, searcher.calls)
	})

	t.Run("too short", func(t *testing.T) {
		s, searcher, _, _ := newService()
		out, err := s.Search(ctx, SearchInput{RequesterID: 1, Query: " я "})
		require.NoError(t, err)
		assert.Equal(t, msgTooShort, out.Text)
		assert.Zero(t, searcher.calls)
	})

	t.Run("nothing found", func(t *testing.T) {
		s, _, _, _ := newService()
		out, err := s.Search(ctx, SearchInput{RequesterID: 1, Query: "zzzz"})
		require.NoError(t, err)
		assert.Equal(t, msgNotFound, out.Text)
		assert.Empty(t, out.Keyboard)
	})

	t.Run("requester required", func(t *testing.T) {
		s, _, _, _ := newService()
		_, err := s.Search(ctx, SearchInput{Query: "daft punk"})
		assert.ErrorIs(t, err, engine.ErrValidation)
	})
}

func TestPage(t *testing.T) {
	ctx := context.Background()
	s, searcher, _, _ := newService()
	searcher.results = tracks(7)

	first, err := s.Search(ctx, SearchInput{RequesterID: 1, Query: "daft punk"})
	require.NoError(t, err)

	out, err := s.Page(ctx, PageInput{RequesterID: 1, Data: "page:1:" + first.Hash})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Page)
	require.Len(t, out.Keyboard, 3)
	assert.Equal(t, "👈", out.Keyboard[2][0].Text)

	out, err = s.Page(ctx, PageInput{RequesterID: 1, Data: "page:2:" + first.Hash})
	require.NoError(t, err)
	assert.Equal(t, msgNoMore, out.Text)

	out, err = s.Page(ctx, PageInput{RequesterID: 1, Data: "page:0:deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, msgExpired, out.Text)

	_, err = s.Page(ctx, PageInput{RequesterID: 1, Data: "page:x"})
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("queued", func(t *testing.T) {
		s, _, _, sub := newService()
		sub.decision = admission.Decision{Allowed: true, Reason: "✅ queued", Lane: admission.LaneSlow, Position: 2, Wait: 90 * time.Second}

		out, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: "dl:yandex:123"})
		require.NoError(t, err)
		assert.True(t, out.Queued)
		assert.NotEmpty(t, out.JobID)
		assert.Equal(t, "slow", out.Lane)
		assert.Equal(t, 2, out.Position)
		assert.Equal(t, 90, out.WaitSeconds)
		assert.Equal(t, []submission{{engine.KindYandex, "123"}}, sub.got)
	})

	t.Run("soundcloud url keeps colons", func(t *testing.T) {
		s, _, _, sub := newService()
		sub.decision = admission.Decision{Allowed: true}

		_, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: "dl:soundcloud:https://soundcloud.com/a/b"})
		require.NoError(t, err)
		assert.Equal(t, []submission{{engine.KindSoundCloud, "https://soundcloud.com/a/b"}}, sub.got)
	})

	t.Run("short soundcloud", func(t *testing.T) {
		s, _, _, sub := newService()
		sub.decision = admission.Decision{Allowed: true}
		long := "https://soundcloud.com/artist/" + strings.Repeat("t", 80)
		short := s.Cache.RememberLocator(ctx, long)

		_, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: "dl:sc:" + short})
		require.NoError(t, err)
		assert.Equal(t, []submission{{engine.KindSoundCloud, long}}, sub.got)
	})

	t.Run("expired short link", func(t *testing.T) {
		s, _, _, sub := newService()
		out, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: "dl:sc:000000000000"})
		require.NoError(t, err)
		assert.Equal(t, msgLinkExpired, out.Text)
		assert.Empty(t, sub.got)
	})

	t.Run("quota denial offers the elevated channel", func(t *testing.T) {
		s, _, _, sub := newService()
		sub.decision = admission.Decision{Denial: admission.DenialQuota, Reason: "💀 limit"}

		out, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: "dl:yt:abc"})
		require.NoError(t, err)
		assert.False(t, out.Queued)
		assert.Equal(t, "quota", out.Denial)
		require.Len(t, out.Keyboard, 1)
		assert.Equal(t, "https://t.me/music_vip", out.Keyboard[0][0].URL)
	})

	t.Run("in flight denial has no keyboard", func(t *testing.T) {
		s, _, _, sub := newService()
		sub.decision = admission.Decision{Denial: admission.DenialInFlight, Reason: "wait"}

		out, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: "dl:yt:abc"})
		require.NoError(t, err)
		assert.Nil(t, out.Keyboard)
	})

	t.Run("rejects", func(t *testing.T) {
		s, _, _, sub := newService()
		for _, data := range []string{"dl:spotify:1", "page:0:abc", "dl:"} {
			_, err := s.Download(ctx, DownloadInput{RequesterID: 7, Data: data})
			assert.ErrorIs(t, err, engine.ErrValidation, data)
		}
		assert.Empty(t, sub.got)
	})
}

func TestInbox(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inbox := NewInbox(dir, time.Hour)

	require.NoError(t, inbox.Notify(ctx, 5, "j1", "🚀 Preparing your track..."))
	require.NoError(t, inbox.Deliver(ctx, engine.Delivery{
		JobID:     "j1",
		Requester: 5,
		Caption:   "💛 `Daft Punk - Get Lucky`",
		Extension: "mp3",
		Audio:     []byte("ID3 audio"),
		Thumbnail: []byte("jpeg"),
	}))
	require.NoError(t, inbox.Deliver(ctx, engine.Delivery{
		JobID:     "j2",
		Requester: 5,
		Extension: "../evil",
		Audio:     []byte("x"),
	}))

	items := inbox.Drain(5)
	require.Len(t, items, 3)
	assert.Equal(t, ItemStatus, items[0].Kind)
	assert.Equal(t, ItemTrack, items[1].Kind)

	data, err := os.ReadFile(items[1].FilePath)
	require.NoError(t, err)
	assert.Equal(t, "ID3 audio", string(data))
	assert.True(t, strings.HasPrefix(items[1].FilePath, dir))
	assert.NotEmpty(t, items[1].ThumbnailPath)
	assert.True(t, strings.HasSuffix(items[2].FilePath, "j2.bin"))

	assert.Empty(t, inbox.Drain(5), "drain must forget items")

	for i := 0; i < MaxInboxItems+10; i++ {
		require.NoError(t, inbox.Notify(ctx, 6, "j", "x"))
	}
	assert.Len(t, inbox.Drain(6), MaxInboxItems)
}

func TestInboxEvictionRemovesFiles(t *testing.T) {
	ctx := context.Background()
	inbox := NewInbox(t.TempDir(), time.Hour)

	require.NoError(t, inbox.Deliver(ctx, engine.Delivery{
		JobID: "first", Requester: 7, Extension: "mp3", Audio: []byte("a"), Thumbnail: []byte("c"),
	}))
	inbox.mu.Lock()
	first := inbox.items[7][0]
	inbox.mu.Unlock()
	require.FileExists(t, first.FilePath)
	require.FileExists(t, first.ThumbnailPath)

	for i := 0; i < MaxInboxItems; i++ {
		require.NoError(t, inbox.Notify(ctx, 7, "j", "x"))
	}
	assert.NoFileExists(t, first.FilePath)
	assert.NoFileExists(t, first.ThumbnailPath)
}

func TestInboxSweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inbox := NewInbox(dir, time.Hour)

	require.NoError(t, inbox.Deliver(ctx, engine.Delivery{
		JobID: "old", Requester: 8, Extension: "mp3", Audio: []byte("a"),
	}))
	items := inbox.Drain(8)
	require.Len(t, items, 1)

	work := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(work, 0o755))
	partial := filepath.Join(work, "partial.webm")
	require.NoError(t, os.WriteFile(partial, []byte("x"), 0o644))

	n, err := inbox.Sweep()
	require.NoError(t, err)
	assert.Zero(t, n, "fresh files must survive")
	assert.FileExists(t, items[0].FilePath)

	inbox.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = inbox.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, items[0].FilePath)
	assert.NoDirExists(t, filepath.Dir(items[0].FilePath))
	assert.FileExists(t, partial, "non-requester directories are not swept")
}

func TestInboxSweepMissingDir(t *testing.T) {
	inbox := NewInbox(filepath.Join(t.TempDir(), "absent"), 0)
	n, err := inbox.Sweep()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecentHistory(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newService()
	h := s.History.(*fakeHistory)

	out, err := s.RecentHistory(ctx, HistoryInput{RequesterID: 1})
	require.NoError(t, err)
	assert.NotNil(t, out.Downloads)
	assert.Equal(t, DefaultHistoryLimit, h.limit)

	_, err = s.RecentHistory(ctx, HistoryInput{RequesterID: 1, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, h.limit)

	h.err = errors.New("db down")
	_, err = s.RecentHistory(ctx, HistoryInput{RequesterID: 1})
	assert.Error(t, err)
}
