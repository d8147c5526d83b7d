// Package discord is a small read-only client for the Discord REST API,
// authenticated with the bot token.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/oauth2"
)

const DefaultAPIBase = "https://discord.com/api/v10"

var ErrNotFound = errors.New("discord: not found")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("discord API returned %d: %s (retry after %s)", e.Status, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("discord API returned %d: %s", e.Status, e.Message)
}

type Guild struct {
	ID                       snowflake.ID `json:"id"`
	Name                     string       `json:"name"`
	Icon                     string       `json:"icon"`
	OwnerID                  snowflake.ID `json:"owner_id"`
	ApproximateMemberCount   int          `json:"approximate_member_count"`
	ApproximatePresenceCount int          `json:"approximate_presence_count"`
}

type User struct {
	ID         snowflake.ID `json:"id"`
	Username   string       `json:"username"`
	GlobalName string       `json:"global_name"`
	Bot        bool         `json:"bot"`
}

// CreatedAt is the account creation time encoded in the id.
func (u *User) CreatedAt() time.Time { return u.ID.Time() }

type Member struct {
	User     User      `json:"user"`
	Nick     string    `json:"nick"`
	JoinedAt time.Time `json:"joined_at"`
}

// DisplayName prefers the server nickname, then the global name.
func (m *Member) DisplayName() string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	}
	return m.User.Username
}

type memberKey struct {
	guild, user snowflake.ID
}

type Client struct {
	http    *http.Client
	base    string
	members *ttlCache[memberKey, *Member]
}

// NewClient returns a client sending "Authorization: Bot <token>". Member
// lookups are cached for cacheTTL; zero disables the cache.
func NewClient(ctx context.Context, token, apiBase string, cacheTTL time.Duration) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bot"})
	hc := oauth2.NewClient(ctx, src)
	hc.Timeout = 10 * time.Second
	return &Client{
		http:    hc,
		base:    strings.TrimRight(apiBase, "/"),
		members: newTTLCache[memberKey, *Member](cacheTTL),
	}
}

// GetGuild fetches a guild with approximate member counts.
func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild id %q: %w", guildID, err)
	}
	var g Guild
	if err := c.get(ctx, fmt.Sprintf("/guilds/%s?with_counts=true", id), &g); err != nil {
		return nil, fmt.Errorf("fetching guild %s: %w", id, err)
	}
	return &g, nil
}

// GetMember fetches a guild member.
func (c *Client) GetMember(ctx context.Context, guildID, userID string) (*Member, error) {
	gid, err := snowflake.Parse(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild id %q: %w", guildID, err)
	}
	uid, err := snowflake.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("user id %q: %w", userID, err)
	}
	key := memberKey{gid, uid}
	if m, ok := c.members.Get(key); ok {
		return m, nil
	}
	var m Member
	if err := c.get(ctx, fmt.Sprintf("/guilds/%s/members/%s", gid, uid), &m); err != nil {
		return nil, fmt.Errorf("fetching member %s of %s: %w", uid, gid, err)
	}
	c.members.Set(key, &m)
	return &m, nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apiError(resp, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response, body []byte) *APIError {
	var payload struct {
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
	}
	_ = json.Unmarshal(body, &payload)
	e := &APIError{Status: resp.StatusCode, Message: payload.Message}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if payload.RetryAfter > 0 {
		e.RetryAfter = time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return e
}

// ProfileURL links to a user in the Discord client.
func ProfileURL(userID string) string {
	return "https://discord.com/users/" + url.PathEscape(userID)
}
