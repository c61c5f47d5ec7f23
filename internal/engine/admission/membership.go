package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// Membership answers whether a requester belongs to a channel.
type Membership interface {
	IsMember(ctx context.Context, channel string, requester int64) (bool, error)
}

// Open admits everyone. Used when no bot token is configured.
type Open struct{}

func (Open) IsMember(context.Context, string, int64) (bool, error) { return true, nil }

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram checks membership with the Bot API getChatMember method.
type Telegram struct {
	token  string
	base   string
	client *http.Client
}

// NewTelegram builds a Bot API membership client. Empty base uses the public endpoint.
func NewTelegram(token, base string, client *http.Client) *Telegram {
	if base == "" {
		base = DefaultTelegramAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{token: token, base: strings.TrimRight(base, "/"), client: client}
}

type chatMemberResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		Status string `json:"status"`
	} `json:"result"`
}

// IsMember implements Membership. HTTP 400 maps to engine.ErrMembershipBadRequest.
func (t *Telegram) IsMember(ctx context.Context, channel string, requester int64) (bool, error) {
	q := url.Values{}
	q.Set("chat_id", channel)
	q.Set("user_id", strconv.FormatInt(requester, 10))
	u := fmt.Sprintf("%s/bot%s/getChatMember?%s", t.base, t.token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("getChatMember request: %w", stripURL(err))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("getChatMember: %w", stripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return false, fmt.Errorf("getChatMember read: %w", err)
	}

	var data chatMemberResponse
	_ = json.Unmarshal(body, &data)

	if resp.StatusCode == http.StatusBadRequest {
		return false, fmt.Errorf("getChatMember: %s: %w", data.Description, engine.ErrMembershipBadRequest)
	}
	if resp.StatusCode != http.StatusOK || !data.OK {
		return false, fmt.Errorf("getChatMember: status %d: %s", resp.StatusCode, data.Description)
	}

	switch data.Result.Status {
	case "member", "administrator", "creator":
		return true, nil
	}
	return false, nil
}

// stripURL drops the request URL from transport errors. The URL path
// carries the bot token.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
