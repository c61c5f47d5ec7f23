package trackserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// DefaultHistoryLimit is the track_history page size.
const DefaultHistoryLimit = 20

// InboxInput is the track_inbox request.
type InboxInput struct {
	RequesterID int64 `json:"requester_id" jsonschema:"Chat user id of the requester"`
}

// InboxOutput carries the drained items.
type InboxOutput struct {
	Items []InboxItem `json:"items"`
}

// HistoryInput is the track_history request.
type HistoryInput struct {
	RequesterID int64 `json:"requester_id" jsonschema:"Chat user id of the requester"`
	Limit       int   `json:"limit,omitempty" jsonschema:"Max downloads to list (default 20, max 100)"`
}

// HistoryOutput lists downloads newest first.
type HistoryOutput struct {
	Downloads []engine.Download `json:"downloads"`
}

func registerTrackInbox(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "track_inbox",
		Description: "Fetch delivered tracks (spooled file path or streaming link) and status updates for a requester. Items are removed once returned.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input InboxInput) (*mcp.CallToolResult, InboxOutput, error) {
		if err := validRequester(input.RequesterID); err != nil {
			return nil, InboxOutput{}, err
		}
		items := s.Inbox.Drain(input.RequesterID)
		if items == nil {
			items = []InboxItem{}
		}
		return nil, InboxOutput{Items: items}, nil
	})
}

func registerTrackHistory(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "track_history",
		Description: "List a requester's recorded downloads, newest first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
		out, err := s.RecentHistory(ctx, input)
		return nil, out, err
	})
}

// RecentHistory lists recorded downloads.
func (s *Service) RecentHistory(ctx context.Context, in HistoryInput) (HistoryOutput, error) {
	if err := validRequester(in.RequesterID); err != nil {
		return HistoryOutput{}, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, 100)
	list, err := s.History.RecentDownloads(ctx, in.RequesterID, limit)
	if err != nil {
		return HistoryOutput{}, fmt.Errorf("track_history: %w", err)
	}
	if list == nil {
		list = []engine.Download{}
	}
	return HistoryOutput{Downloads: list}, nil
}
