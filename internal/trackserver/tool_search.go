package trackserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
	"github.com/anatolykoptev/go_music/internal/toolutil"
)

// MinQueryRunes is the shortest accepted search query.
const MinQueryRunes = 2

// Requester-facing texts of the search flow.
const (
	msgTooShort = "Query is too short. Minimum 2 characters."
	msgNotFound = "😔 Nothing found for your query."
	msgExpired  = "⌛ Search results have expired. Please search again."
	msgNoMore   = "No more suitable tracks."
)

// SearchInput is the track_search request.
type SearchInput struct {
	RequesterID int64  `json:"requester_id" jsonschema:"Chat user id of the requester"`
	Query       string `json:"query" jsonschema:"Free-text track query, e.g. artist and title"`
}

// PageInput is the track_page request.
type PageInput struct {
	RequesterID int64  `json:"requester_id" jsonschema:"Chat user id of the requester"`
	Data        string `json:"data" jsonschema:"Navigation callback data page:<n>:<hash>"`
}

// PageOutput is one rendered result page.
type PageOutput struct {
	Text     string            `json:"text"`
	Keyboard toolutil.Keyboard `json:"keyboard,omitempty"`
	Page     int               `json:"page"`
	Total    int               `json:"total,omitempty"`
	Hash     string            `json:"query_hash,omitempty"`
	Cached   bool              `json:"cached,omitempty"`
}

func registerTrackSearch(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "track_search",
		Description: "Search tracks across all music providers. Returns the first page of ranked results as inline buttons; pass a button's data to track_download or track_page.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, PageOutput, error) {
		out, err := s.Search(ctx, input)
		return nil, out, err
	})
}

func registerTrackPage(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "track_page",
		Description: "Show another page of a previous track_search, given a navigation button's data.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input PageInput) (*mcp.CallToolResult, PageOutput, error) {
		out, err := s.Page(ctx, input)
		return nil, out, err
	})
}

// Search checks membership, the cooldown and the query length, then
// answers with page 0 of the ranked results.
func (s *Service) Search(ctx context.Context, in SearchInput) (PageOutput, error) {
	if err := validRequester(in.RequesterID); err != nil {
		return PageOutput{}, err
	}
	query := strings.TrimSpace(in.Query)

	member, err := s.Gate.IsMember(ctx, in.RequesterID, s.PrimaryChannel)
	if err != nil {
		slog.Warn("track_search: membership lookup failed",
			slog.Int64("requester", in.RequesterID), slog.Any("error", err))
	}
	if !member {
		out := PageOutput{Text: fmt.Sprintf(
			"🤨 You need to join %s to use the bot.\n\nAfter joining, send your query again 🔄", s.PrimaryChannel)}
		if row := channelButton("Join channel", s.PrimaryChannel); row != nil {
			out.Keyboard = toolutil.Keyboard{row}
		}
		return out, nil
	}

	if remaining, ok := s.Gate.CheckSearch(in.RequesterID); !ok {
		return PageOutput{Text: admission.CooldownMessage(remaining)}, nil
	}
	if utf8.RuneCountInString(query) < MinQueryRunes {
		return PageOutput{Text: msgTooShort}, nil
	}

	results, hash, cached := s.Searcher.SearchCached(ctx, s.Cache, query)
	slog.Info("track_search",
		slog.Int64("requester", in.RequesterID),
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Bool("cached", cached))
	if len(results) == 0 {
		return PageOutput{Text: msgNotFound}, nil
	}

	kb, _ := toolutil.BuildPage(ctx, s.Cache, results, 0, hash)
	return PageOutput{
		Text:     fmt.Sprintf("🎧 Found %d tracks. Choose:", len(results)),
		Keyboard: kb,
		Total:    len(results),
		Hash:     hash,
		Cached:   cached,
	}, nil
}

// Page renders a later page from the cached result list.
func (s *Service) Page(ctx context.Context, in PageInput) (PageOutput, error) {
	if err := validRequester(in.RequesterID); err != nil {
		return PageOutput{}, err
	}
	page, hash, err := toolutil.ParsePage(in.Data)
	if err != nil {
		return PageOutput{}, err
	}

	cached, ok := s.Cache.GetCandidates(ctx, hash)
	results := engine.FilterDuration(cached)
	if !ok || len(results) == 0 {
		return PageOutput{Text: msgExpired, Page: page}, nil
	}
	kb, ok := toolutil.BuildPage(ctx, s.Cache, results, page, hash)
	if !ok {
		return PageOutput{Text: msgNoMore, Page: page}, nil
	}
	return PageOutput{
		Text:     fmt.Sprintf("🎧 Found %d tracks. Page %d:", len(results), page+1),
		Keyboard: kb,
		Page:     page,
		Total:    len(results),
		Hash:     hash,
		Cached:   true,
	}, nil
}
