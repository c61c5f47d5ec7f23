package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// Status lines shown to the requester while a job runs.
const (
	msgPreparing   = "🚀 Preparing your track..."
	msgSending     = "✅ Sending..."
	msgUnavailable = "❌ Could not download the track. It may be unavailable."
	msgNoLink      = "❌ Could not get a link to the track."
	msgUnexpected  = "❌ An unexpected error occurred while processing your request."
)

// ProviderSet resolves a provider by kind.
type ProviderSet interface {
	Provider(kind engine.ProviderKind) (engine.Provider, bool)
}

// Releaser frees a requester's in-flight slot.
type Releaser interface {
	Release(requester int64)
}

// LinkFunc turns a direct media locator into a streaming-proxy link.
type LinkFunc func(locator, ext string) (string, error)

// Processor is the Handler for download jobs.
type Processor struct {
	Providers ProviderSet
	Deliverer engine.Deliverer
	Downloads engine.DownloadLog
	Inflight  Releaser
	Link      LinkFunc
	Now       func() time.Time
}

var _ Handler[engine.Job] = (*Processor)(nil)

var errNoAudio = errors.New("no audio source")

// slowFetch is the fetch latency above which a warning is logged.
const slowFetch = 60 * time.Second

// Handle fetches the track, delivers it and records the download.
func (p *Processor) Handle(ctx context.Context, job engine.Job) error {
	p.notify(ctx, job, msgPreparing)

	provider, ok := p.Providers.Provider(job.Provider)
	if !ok {
		return fmt.Errorf("provider %q: %w", job.Provider, engine.ErrValidation)
	}

	engine.IncrFetchRequests()
	var track *engine.Track
	err := engine.TrackOperation(ctx, "fetch "+string(job.Provider), slowFetch, func(ctx context.Context) error {
		var err error
		track, err = provider.Fetch(ctx, job.ResourceID)
		return err
	})
	if err != nil {
		engine.IncrFetchErrors()
		return fmt.Errorf("fetch %s/%s: %w", job.Provider, job.ResourceID, err)
	}

	d := engine.Delivery{
		JobID:        job.ID,
		Requester:    job.Requester,
		Provider:     job.Provider,
		Title:        orDefault(track.Title, "Unknown Title"),
		Artist:       orDefault(track.Artist, "Unknown Artist"),
		Duration:     track.Duration,
		Extension:    track.Extension,
		ThumbnailURL: track.ThumbnailURL,
	}
	d.Caption = engine.Caption(job.Provider, d.Artist, d.Title)

	switch {
	case track.DirectURL != "":
		link, err := p.Link(track.DirectURL, track.Extension)
		if err != nil {
			return fmt.Errorf("stream link: %w", err)
		}
		d.StreamURL = link
	case len(track.Audio) > 0:
		d.Audio = track.Audio
		d.Thumbnail = track.Thumbnail
	default:
		return fmt.Errorf("%s/%s: %w: %w", job.Provider, job.ResourceID, errNoAudio, engine.ErrProviderUnavailable)
	}

	p.notify(ctx, job, msgSending)
	if err := p.Deliverer.Deliver(ctx, d); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	rec := engine.Download{
		Requester: job.Requester,
		TrackID:   string(job.Provider) + "_" + job.ResourceID,
		At:        p.now(),
		Title:     d.Title,
		Artist:    d.Artist,
		Duration:  d.Duration,
	}
	if err := p.Downloads.RecordDownload(ctx, rec); err != nil {
		slog.Error("record download failed", slog.String("job", job.ID), slog.Any("error", err))
	}

	engine.IncrJobsCompleted()
	slog.Info("job delivered",
		slog.String("job", job.ID),
		slog.String("provider", string(job.Provider)),
		slog.String("title", engine.DisplayName(d.Artist, d.Title)))
	return nil
}

// Fail reports a job failure to the requester once.
func (p *Processor) Fail(ctx context.Context, job engine.Job, err error) {
	engine.IncrJobsFailed()
	slog.Warn("job failed",
		slog.String("job", job.ID),
		slog.String("provider", string(job.Provider)),
		slog.Any("error", err))
	p.notify(ctx, job, failureText(job, err))
}

// Finish releases the requester's in-flight slot.
func (p *Processor) Finish(job engine.Job) {
	p.Inflight.Release(job.Requester)
}

func failureText(job engine.Job, err error) string {
	switch {
	case errors.Is(err, ErrPanicked):
		return msgUnexpected
	case job.Provider == engine.KindSoundCloud:
		return msgNoLink
	}
	return msgUnavailable
}

func (p *Processor) notify(ctx context.Context, job engine.Job, text string) {
	if err := p.Deliverer.Notify(ctx, job.Requester, job.ID, text); err != nil {
		slog.Debug("notify failed", slog.String("job", job.ID), slog.Any("error", err))
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
