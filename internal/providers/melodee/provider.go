package melodee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tones/tones/internal/provider"
)

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	PageSize   int
	HTTPClient *http.Client
}

type Provider struct {
	cfg    Config
	client *http.Client
	caps   provider.Capabilities
	now    func() time.Time

	mu    sync.Mutex
	token string
}

func New() *Provider {
	return &Provider{
		caps: provider.Capabilities{
			provider.CapPlaylists: true,
			provider.CapLyrics:    true,
		},
		now: time.Now,
	}
}

func (p *Provider) ID() string   { return "melodee" }
func (p *Provider) Name() string { return "Melodee" }

func (p *Provider) Capabilities() provider.Capabilities { return p.caps }

func (p *Provider) Initialize(ctx context.Context, profileCfg any) error {
	raw, ok := profileCfg.(map[string]any)
	if !ok {
		return provider.ErrInvalidConfig
	}
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}
	p.cfg = cfg
	if p.cfg.HTTPClient != nil {
		p.client = p.cfg.HTTPClient
	} else {
		p.client = &http.Client{Timeout: 8 * time.Second}
	}
	if err := p.authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

func parseConfig(raw map[string]any) (Config, error) {
	cfg := Config{PageSize: 100}
	if v, ok := raw["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := raw["username"].(string); ok {
		cfg.Username = v
	}
	if v, ok := raw["password"].(string); ok {
		cfg.Password = v
	}
	if v, ok := raw["password_env"].(string); ok && cfg.Password == "" {
		cfg.Password = os.Getenv(v)
	}
	if v, ok := raw["page_size"].(int64); ok && v > 0 {
		cfg.PageSize = int(v)
	}
	if cfg.BaseURL == "" {
		return Config{}, provider.ErrInvalidConfig
	}
	return cfg, nil
}

func (p *Provider) Health(ctx context.Context) (bool, string) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/health", nil)
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	resp.Body.Close()
	return resp.StatusCode < 500, resp.Status
}

func (p *Provider) authenticate(ctx context.Context) error {
	body := map[string]string{"username": p.cfg.Username, "password": p.cfg.Password}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/v1/auth/authenticate", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return mapHTTPError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return provider.ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("auth status %d", resp.StatusCode)
	}
	var r struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return err
	}
	if r.AccessToken == "" {
		return errors.New("empty token")
	}
	p.mu.Lock()
	p.token = r.AccessToken
	p.mu.Unlock()
	return nil
}

func (p *Provider) bearer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return ""
	}
	return "Bearer " + p.token
}

func (p *Provider) authHeader(req *http.Request) {
	if b := p.bearer(); b != "" {
		req.Header.Set("Authorization", b)
	}
}

// doRequest sends a bodiless request, re-authenticating once on 401.
func (p *Provider) doRequest(req *http.Request) (*http.Response, error) {
	p.authHeader(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := p.authenticate(req.Context()); err != nil {
			return nil, err
		}
		p.authHeader(req)
		return p.client.Do(req)
	}
	return resp, nil
}

// ListTracks pages through a playlist, an album or a search. An artist
// query is a search scoped to that artist.
func (p *Provider) ListTracks(ctx context.Context, q provider.TrackQuery, req provider.ListReq) (provider.Page[provider.Track], error) {
	switch {
	case q.PlaylistID != "":
		return getPaged[provider.Track](ctx, p, "/api/v1/playlists/"+url.PathEscape(q.PlaylistID)+"/songs", nil, req)
	case q.AlbumID != "":
		return getPaged[provider.Track](ctx, p, "/api/v1/albums/"+url.PathEscape(q.AlbumID)+"/songs", nil, req)
	case q.ArtistID != "":
		return getPaged[provider.Track](ctx, p, "/api/v1/search/songs", url.Values{"q": {"artist:" + q.ArtistID}}, req)
	case q.Search != "":
		return getPaged[provider.Track](ctx, p, "/api/v1/search/songs", url.Values{"q": {q.Search}}, req)
	default:
		return getPaged[provider.Track](ctx, p, "/api/v1/songs", nil, req)
	}
}

func (p *Provider) GetTrack(ctx context.Context, id string) (provider.Track, error) {
	return getOne[provider.Track](ctx, p, "/api/v1/songs/"+url.PathEscape(id))
}

// GetStream returns the signed stream URL of a song. Its expiry comes from
// the URL's query string.
func (p *Provider) GetStream(ctx context.Context, trackId string) (provider.StreamInfo, error) {
	track, err := p.GetTrack(ctx, trackId)
	if err != nil {
		return provider.StreamInfo{}, err
	}
	if track.StreamURL == "" {
		return provider.StreamInfo{}, provider.ErrNotFound
	}
	info := provider.StreamInfo{
		URL:       track.StreamURL,
		ExpiresAt: provider.ExpiryFromURL(track.StreamURL, p.now(), 0),
	}
	if b := p.bearer(); b != "" {
		info.Headers = map[string]string{"Authorization": b}
	}
	return info, nil
}

func (p *Provider) GetLyrics(ctx context.Context, trackId string) (provider.Lyrics, error) {
	r, err := getOne[struct {
		PlainLyrics  string `json:"plainLyrics"`
		SyncedLyrics string `json:"syncedLyrics"`
	}](ctx, p, "/api/v1/songs/"+url.PathEscape(trackId)+"/lyrics")
	if err != nil {
		return provider.Lyrics{}, err
	}
	text := r.SyncedLyrics
	if text == "" {
		text = r.PlainLyrics
	}
	if text == "" {
		return provider.Lyrics{}, provider.ErrNotFound
	}
	return provider.Lyrics{Text: text}, nil
}

type pagedResponse[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"hasMore"`
	Total   int  `json:"total"`
}

func getPaged[T any](ctx context.Context, p *Provider, path string, params url.Values, req provider.ListReq) (provider.Page[T], error) {
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = p.cfg.PageSize
	}
	offset := parseCursor(req.Cursor)
	u, _ := url.Parse(p.cfg.BaseURL + path)
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("page", strconv.Itoa(offset/pageSize+1))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := p.doRequest(httpReq)
	if err != nil {
		return provider.Page[T]{}, mapHTTPError(err)
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return provider.Page[T]{}, err
	}
	var data pagedResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return provider.Page[T]{}, err
	}
	next := ""
	if data.HasMore {
		next = fmt.Sprintf("%d", offset+pageSize)
	}
	return provider.Page[T]{Items: data.Items, NextCursor: next, TotalHint: data.Total}, nil
}

func getOne[T any](ctx context.Context, p *Provider, path string) (T, error) {
	var zero T
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
	resp, err := p.doRequest(req)
	if err != nil {
		return zero, mapHTTPError(err)
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return zero, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&zero); err != nil {
		return zero, err
	}
	return zero, nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return provider.ErrUnauthorized
	case code == http.StatusNotFound:
		return provider.ErrNotFound
	case code == http.StatusTooManyRequests:
		return provider.ErrRateLimited
	case code >= 500:
		return provider.ErrTemporary
	case code >= 400:
		return fmt.Errorf("http status %d", code)
	}
	return nil
}

func parseCursor(cur string) int {
	if cur == "" {
		return 0
	}
	var off int
	fmt.Sscanf(cur, "%d", &off)
	return off
}

func mapHTTPError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return provider.ErrTemporary
	case errors.Is(err, provider.ErrUnauthorized):
		return err
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", provider.ErrOffline, err)
	}
	return err
}
