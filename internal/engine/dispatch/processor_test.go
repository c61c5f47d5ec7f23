package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_music/internal/engine"
)

type stubProvider struct {
	kind  engine.ProviderKind
	track *engine.Track
	err   error
}

func (s *stubProvider) Kind() engine.ProviderKind { return s.kind }
func (s *stubProvider) Search(context.Context, string, int) ([]engine.Candidate, error) {
	return nil, nil
}
func (s *stubProvider) Fetch(context.Context, string) (*engine.Track, error) { return s.track, s.err }

type providerMap map[engine.ProviderKind]engine.Provider

func (m providerMap) Provider(k engine.ProviderKind) (engine.Provider, bool) {
	p, ok := m[k]
	return p, ok
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []engine.Delivery
	notes      []string
	err        error
}

func (f *fakeDeliverer) Deliver(_ context.Context, d engine.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeDeliverer) Notify(_ context.Context, _ int64, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
	return nil
}

type memLog struct {
	mu   sync.Mutex
	recs []engine.Download
}

func (m *memLog) RecordDownload(_ context.Context, d engine.Download) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, d)
	return nil
}

func (m *memLog) CountDownloadsSince(context.Context, int64, time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs), nil
}

type releaseRecorder struct {
	mu       sync.Mutex
	released []int64
}

func (r *releaseRecorder) Release(id int64) {
	r.mu.Lock()
	r.released = append(r.released, id)
	r.mu.Unlock()
}

func newProcessor(providers providerMap) (*Processor, *fakeDeliverer, *memLog, *releaseRecorder) {
	del := &fakeDeliverer{}
	log := &memLog{}
	rel := &releaseRecorder{}
	p := &Processor{
		Providers: providers,
		Deliverer: del,
		Downloads: log,
		Inflight:  rel,
		Link: func(locator, ext string) (string, error) {
			return "https://proxy.example/stream/" + ext + "/" + locator, nil
		},
		Now: func() time.Time { return time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC) },
	}
	return p, del, log, rel
}

func TestProcessorDeliversBytes(t *testing.T) {
	track := &engine.Track{Audio: make([]byte, 2048), Thumbnail: []byte{1}, Title: "Digital Love", Artist: "Daft Punk", Duration: 301, Extension: "mp3"}
	p, del, log, _ := newProcessor(providerMap{engine.KindSaavn: &stubProvider{kind: engine.KindSaavn, track: track}})
	job := NewJob(engine.TierNormal, time.Now(), 7, engine.KindSaavn, "abc")

	require.NoError(t, p.Handle(context.Background(), job))

	require.Len(t, del.deliveries, 1)
	d := del.deliveries[0]
	assert.Equal(t, job.ID, d.JobID)
	assert.Len(t, d.Audio, 2048)
	assert.Empty(t, d.StreamURL)
	assert.Equal(t, "💛 `Daft Punk - Digital Love`", d.Caption)
	assert.Equal(t, []string{msgPreparing, msgSending}, del.notes)

	require.Len(t, log.recs, 1)
	assert.Equal(t, "saavn_abc", log.recs[0].TrackID)
	assert.Equal(t, int64(7), log.recs[0].Requester)
	assert.Equal(t, 301, log.recs[0].Duration)
}

func TestProcessorDirectURLBecomesProxyLink(t *testing.T) {
	track := &engine.Track{DirectURL: "https://cdn/x.m3u8", Title: "T", Artist: "A", Duration: 100, Extension: "m4a", ThumbnailURL: "https://img"}
	p, del, _, _ := newProcessor(providerMap{engine.KindSoundCloud: &stubProvider{kind: engine.KindSoundCloud, track: track}})

	require.NoError(t, p.Handle(context.Background(), NewJob(1, time.Now(), 1, engine.KindSoundCloud, "https://soundcloud.com/a/t")))

	require.Len(t, del.deliveries, 1)
	d := del.deliveries[0]
	assert.Equal(t, "https://proxy.example/stream/m4a/https://cdn/x.m3u8", d.StreamURL)
	assert.Nil(t, d.Audio)
	assert.Equal(t, "https://img", d.ThumbnailURL)
	assert.Equal(t, "☁️ `A - T`", d.Caption)
}

func TestProcessorErrors(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		p, _, _, _ := newProcessor(providerMap{})
		err := p.Handle(context.Background(), NewJob(1, time.Now(), 1, "nope", "x"))
		assert.ErrorIs(t, err, engine.ErrValidation)
	})

	t.Run("fetch error", func(t *testing.T) {
		cause := fmt.Errorf("gone: %w", engine.ErrProviderUnavailable)
		p, del, log, _ := newProcessor(providerMap{engine.KindYouTube: &stubProvider{kind: engine.KindYouTube, err: cause}})
		err := p.Handle(context.Background(), NewJob(1, time.Now(), 1, engine.KindYouTube, "x"))
		assert.ErrorIs(t, err, engine.ErrProviderUnavailable)
		assert.Empty(t, del.deliveries)
		assert.Empty(t, log.recs, "failed jobs must not count toward quota")
	})

	t.Run("empty track", func(t *testing.T) {
		p, _, _, _ := newProcessor(providerMap{engine.KindYouTube: &stubProvider{kind: engine.KindYouTube, track: &engine.Track{}}})
		err := p.Handle(context.Background(), NewJob(1, time.Now(), 1, engine.KindYouTube, "x"))
		assert.ErrorIs(t, err, engine.ErrProviderUnavailable)
	})

	t.Run("delivery error", func(t *testing.T) {
		track := &engine.Track{Audio: []byte("x"), Title: "T"}
		p, del, log, _ := newProcessor(providerMap{engine.KindYouTube: &stubProvider{kind: engine.KindYouTube, track: track}})
		del.err = errors.New("chat blocked")
		err := p.Handle(context.Background(), NewJob(1, time.Now(), 1, engine.KindYouTube, "x"))
		assert.Error(t, err)
		assert.Empty(t, log.recs)
	})
}

func TestProcessorFailAndFinish(t *testing.T) {
	p, del, _, rel := newProcessor(providerMap{})

	p.Fail(context.Background(), engine.Job{Provider: engine.KindYouTube}, errors.New("x"))
	p.Fail(context.Background(), engine.Job{Provider: engine.KindSoundCloud}, errors.New("x"))
	p.Fail(context.Background(), engine.Job{Provider: engine.KindYandex}, fmt.Errorf("%w: boom", ErrPanicked))
	assert.Equal(t, []string{msgUnavailable, msgNoLink, msgUnexpected}, del.notes)

	p.Finish(engine.Job{Requester: 99})
	assert.Equal(t, []int64{99}, rel.released)
}

func TestNewJob(t *testing.T) {
	at := time.Now()
	a := NewJob(engine.TierElevated, at, 5, engine.KindYandex, "123")
	b := NewJob(engine.TierElevated, at, 5, engine.KindYandex, "123")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)
	assert.Equal(t, engine.TierElevated, a.Tier)
	assert.Equal(t, at, a.EnqueuedAt)
}
