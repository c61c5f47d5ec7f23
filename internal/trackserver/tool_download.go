package trackserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
	"github.com/anatolykoptev/go_music/internal/engine/dispatch"
	"github.com/anatolykoptev/go_music/internal/toolutil"
)

const msgLinkExpired = "⌛ The link has expired. Please search again."

// shortSoundCloud is the callback source for locators kept in the cache.
const shortSoundCloud = "sc"

// DownloadInput is the track_download request.
type DownloadInput struct {
	RequesterID int64  `json:"requester_id" jsonschema:"Chat user id of the requester"`
	Data        string `json:"data" jsonschema:"Download callback data dl:<source>:<id> from a track_search button"`
}

// DownloadOutput is the admission verdict for one download.
type DownloadOutput struct {
	Text        string            `json:"text"`
	Keyboard    toolutil.Keyboard `json:"keyboard,omitempty"`
	Queued      bool              `json:"queued"`
	JobID       string            `json:"job_id,omitempty"`
	Lane        string            `json:"lane,omitempty"`
	Position    int               `json:"position,omitempty"`
	WaitSeconds int               `json:"wait_seconds,omitempty"`
	Denial      string            `json:"denial,omitempty"`
	Priority    bool              `json:"priority,omitempty"`
}

// QueueStatusInput is the queue_status request. It takes no arguments.
type QueueStatusInput struct{}

// QueueStatusOutput reports both lanes.
type QueueStatusOutput struct {
	Lanes []dispatch.LaneStatus `json:"lanes"`
}

func registerTrackDownload(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "track_download",
		Description: "Queue a track for download given a track_search button's data. The finished track and status updates arrive in track_inbox.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input DownloadInput) (*mcp.CallToolResult, DownloadOutput, error) {
		out, err := s.Download(ctx, input)
		return nil, out, err
	})
}

func registerQueueStatus(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_status",
		Description: "Show waiting and running jobs, capacity and workers of the fast and slow download lanes.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ QueueStatusInput) (*mcp.CallToolResult, QueueStatusOutput, error) {
		return nil, QueueStatusOutput{Lanes: s.Dispatcher.Status()}, nil
	})
}

// Download resolves callback data to a provider resource and submits it.
func (s *Service) Download(ctx context.Context, in DownloadInput) (DownloadOutput, error) {
	if err := validRequester(in.RequesterID); err != nil {
		return DownloadOutput{}, err
	}
	source, id, err := toolutil.ParseDownload(in.Data)
	if err != nil {
		return DownloadOutput{}, err
	}

	kind := engine.ProviderKind(source)
	if source == shortSoundCloud {
		locator, ok := s.Cache.ResolveLocator(ctx, id)
		if !ok {
			return DownloadOutput{Text: msgLinkExpired}, nil
		}
		kind, id = engine.KindSoundCloud, locator
	}
	switch kind {
	case engine.KindYandex, engine.KindSaavn, engine.KindSoundCloud, engine.KindYouTube:
	default:
		return DownloadOutput{}, fmt.Errorf("unknown source %q: %w", source, engine.ErrValidation)
	}

	dec, job := s.Dispatcher.Submit(ctx, in.RequesterID, kind, id)
	out := DownloadOutput{
		Text:     dec.Reason,
		Lane:     string(dec.Lane),
		Denial:   string(dec.Denial),
		Priority: dec.Priority,
	}
	if job == nil {
		slog.Info("track_download denied",
			slog.Int64("requester", in.RequesterID),
			slog.String("provider", string(kind)),
			slog.Any("error", dec.Err()))
		out.Keyboard = s.denialKeyboard(dec)
		return out, nil
	}

	out.Queued = true
	out.JobID = job.ID
	out.Position = dec.Position
	out.WaitSeconds = int(dec.Wait.Seconds())
	slog.Info("track_download queued",
		slog.Int64("requester", in.RequesterID),
		slog.String("job", job.ID),
		slog.String("lane", out.Lane),
		slog.Int("position", out.Position))
	return out, nil
}

func (s *Service) denialKeyboard(dec admission.Decision) toolutil.Keyboard {
	var row []toolutil.Button
	switch {
	case dec.Denial == admission.DenialMembership:
		row = channelButton("Join channel", s.PrimaryChannel)
	case dec.Denial == admission.DenialQuota && !dec.Priority:
		row = channelButton("Raise the limit ✨", s.ElevatedChannel)
	}
	if row == nil {
		return nil
	}
	return toolutil.Keyboard{row}
}
