package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matchkeeper/matchsync/internal/store"
)

var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrNotFound     = errors.New("remote: not found")
)

// StatusError is returned for any other non-2xx authority response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote: status %d", e.Code)
}

// Client talks to the remote authority's request/response surface. It is
// only used by reconciliation; live events take the channel.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

// createResponse is the minimum every create endpoint returns: an id
// confirming acceptance.
type createResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateSeason(ctx context.Context, s store.Season) error {
	return c.do(ctx, http.MethodPost, "/seasons", s, &createResponse{})
}

func (c *Client) CreateTeam(ctx context.Context, t store.Team) error {
	return c.do(ctx, http.MethodPost, "/teams", t, &createResponse{})
}

// CreatePlayer posts an unattached player.
func (c *Client) CreatePlayer(ctx context.Context, p store.Player) error {
	return c.do(ctx, http.MethodPost, "/players", p, &createResponse{})
}

// CreatePlayerWithTeam posts a player together with their team so the
// authority establishes the relationship atomically with creation.
func (c *Client) CreatePlayerWithTeam(ctx context.Context, p store.Player) error {
	return c.do(ctx, http.MethodPost, "/players-with-team", p, &createResponse{})
}

func (c *Client) CreateMatch(ctx context.Context, m store.Match) error {
	return c.do(ctx, http.MethodPost, "/matches", m, &createResponse{})
}

func (c *Client) CreateLineupEntry(ctx context.Context, e store.LineupEntry) error {
	return c.do(ctx, http.MethodPost, "/lineup-entries", e, &createResponse{})
}

// DeleteLineupEntry deletes by the (match, player) key rather than the
// client-generated id; the authority keys lineup slots that way.
func (c *Client) DeleteLineupEntry(ctx context.Context, matchID, playerID string) error {
	path := fmt.Sprintf("/lineup-entries/%s/%s", url.PathEscape(matchID), url.PathEscape(playerID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) SaveDefaultLineup(ctx context.Context, d store.DefaultLineup) error {
	return c.do(ctx, http.MethodPost, "/default-lineups", d, &createResponse{})
}

func (c *Client) DeleteDefaultLineup(ctx context.Context, teamID string) error {
	return c.do(ctx, http.MethodDelete, "/default-lineups/"+url.PathEscape(teamID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
}
