// Package trackserver exposes the search and download pipeline as MCP tools.
// Every tool answers with the text and keyboard a chat adapter would render.
package trackserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
	"github.com/anatolykoptev/go_music/internal/engine/dispatch"
	"github.com/anatolykoptev/go_music/internal/toolutil"
)

// Searcher runs a cached aggregate search.
type Searcher interface {
	SearchCached(ctx context.Context, cache *engine.Cache, query string) ([]engine.Candidate, string, bool)
}

// Gatekeeper holds the search-time checks.
type Gatekeeper interface {
	CheckSearch(requester int64) (remaining int, ok bool)
	IsMember(ctx context.Context, requester int64, channel string) (bool, error)
}

// Submitter admits and enqueues downloads.
type Submitter interface {
	Submit(ctx context.Context, requester int64, kind engine.ProviderKind, resourceID string) (admission.Decision, *engine.Job)
	Status() []dispatch.LaneStatus
}

// History lists a requester's recorded downloads.
type History interface {
	RecentDownloads(ctx context.Context, requester int64, limit int) ([]engine.Download, error)
}

// Service holds the collaborators behind the tools.
type Service struct {
	Searcher        Searcher
	Cache           *engine.Cache
	Gate            Gatekeeper
	Dispatcher      Submitter
	Inbox           *Inbox
	History         History
	PrimaryChannel  string
	ElevatedChannel string
	Now             func() time.Time
}

// RegisterTools registers track_search, track_page, track_download,
// track_inbox, track_history and queue_status.
func RegisterTools(server *mcp.Server, s *Service) {
	registerTrackSearch(server, s)
	registerTrackPage(server, s)
	registerTrackDownload(server, s)
	registerTrackInbox(server, s)
	registerTrackHistory(server, s)
	registerQueueStatus(server, s)
}

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 6

func validRequester(id int64) error {
	if id <= 0 {
		return fmt.Errorf("requester_id is required: %w", engine.ErrValidation)
	}
	return nil
}

// channelButton links to a public channel handle such as "@name".
func channelButton(text, channel string) []toolutil.Button {
	name, ok := strings.CutPrefix(channel, "@")
	if !ok || name == "" {
		return nil
	}
	return []toolutil.Button{{Text: text, URL: "https://t.me/" + name}}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
