package listing

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Witriol/mediaq/internal/credentials"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	maxPageSize    = 50
)

var ErrInvalidPlaylist = errors.New("invalid_playlist_id")

// quota and rate reasons reported by the Data API on 403/429.
var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

type Item struct {
	VideoID     string `json:"videoId"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Position    int    `json:"position"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

type Page struct {
	Items         []Item `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
	TotalResults  int    `json:"totalResults"`
}

// Client lists playlist items, rotating API keys on quota errors.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Keys    *credentials.Pool
}

func NewClient(baseURL string, keys *credentials.Pool) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: newHTTPClient(), Keys: keys}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 20 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 5,
		},
	}
}

// PlaylistItems fetches one page. pageToken is forwarded untouched on every attempt.
func (c *Client) PlaylistItems(ctx context.Context, playlistID, pageToken string) (*Page, error) {
	playlistID = strings.TrimSpace(playlistID)
	if playlistID == "" || strings.ContainsAny(playlistID, "/?&# ") {
		return nil, ErrInvalidPlaylist
	}
	return credentials.Do(ctx, c.Keys, func(ctx context.Context, key string) (*Page, error) {
		return c.fetch(ctx, key, playlistID, pageToken)
	})
}

type apiResponse struct {
	NextPageToken string `json:"nextPageToken"`
	PageInfo      struct {
		TotalResults int `json:"totalResults"`
	} `json:"pageInfo"`
	Items []struct {
		Snippet struct {
			Title       string `json:"title"`
			Position    int    `json:"position"`
			PublishedAt string `json:"publishedAt"`
			Thumbnails  map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
			ResourceID struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *Client) fetch(ctx context.Context, key, playlistID, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("maxResults", fmt.Sprint(maxPageSize))
	q.Set("playlistId", playlistID)
	q.Set("key", key)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/playlistItems?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, body)
	}
	var doc apiResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode playlist items: %w", err)
	}
	page := &Page{NextPageToken: doc.NextPageToken, TotalResults: doc.PageInfo.TotalResults, Items: []Item{}}
	for _, it := range doc.Items {
		id := it.Snippet.ResourceID.VideoID
		item := Item{
			VideoID:     id,
			Title:       it.Snippet.Title,
			URL:         "https://www.youtube.com/watch?v=" + id,
			Position:    it.Snippet.Position,
			PublishedAt: it.Snippet.PublishedAt,
		}
		for _, size := range []string{"high", "medium", "default"} {
			if th, ok := it.Snippet.Thumbnails[size]; ok && th.URL != "" {
				item.Thumbnail = th.URL
				break
			}
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func classify(status int, body []byte) error {
	var e apiError
	_ = json.Unmarshal(body, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", credentials.ErrNotFound, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", credentials.ErrQuotaExceeded, msg)
	case http.StatusForbidden:
		for _, r := range e.Error.Errors {
			if quotaReasons[r.Reason] {
				return fmt.Errorf("%w: %s", credentials.ErrQuotaExceeded, r.Reason)
			}
			if r.Reason == "playlistItemsNotAccessible" {
				return fmt.Errorf("%w: %s", credentials.ErrNotFound, msg)
			}
		}
	}
	return fmt.Errorf("listing api status %d: %s", status, msg)
}
