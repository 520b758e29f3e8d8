package lyrics

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tones/tones/internal/provider"
)

const (
	kugouSearchURL   = "https://mobilecdn.kugou.com"
	kugouCandidate   = "https://krcs.kugou.com"
	kugouDownloadURL = "https://lyrics.kugou.com"
	kugouTolerance   = 8 * time.Second
	kugouMaxSongs    = 4
)

var kugouHeader = regexp.MustCompile(`^\[(id|ar|ti|al|by|hash|sign|qq|total|offset|language):.*\]$`)

type KuGouOptions struct {
	// SearchURL, CandidateURL and DownloadURL override the three KuGou hosts.
	SearchURL         string
	CandidateURL      string
	DownloadURL       string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Enabled           bool
}

// KuGou looks tracks up in the KuGou catalogue and downloads their LRC.
type KuGou struct {
	searchURL    string
	candidateURL string
	downloadURL  string
	client       client
	enabled      bool
}

func NewKuGou(opts KuGouOptions) *KuGou {
	or := func(v, def string) string {
		if v == "" {
			return def
		}
		return strings.TrimRight(v, "/")
	}
	return &KuGou{
		searchURL:    or(opts.SearchURL, kugouSearchURL),
		candidateURL: or(opts.CandidateURL, kugouCandidate),
		downloadURL:  or(opts.DownloadURL, kugouDownloadURL),
		client:       newClient(opts.HTTPClient, opts.RequestsPerSecond),
		enabled:      opts.Enabled,
	}
}

func (k *KuGou) Kind() Kind      { return KindKuGou }
func (k *KuGou) Name() string    { return "Kugou" }
func (k *KuGou) IsEnabled() bool { return k.enabled }

type kugouSong struct {
	Hash       string `json:"hash"`
	Duration   int    `json:"duration"` // seconds
	SongName   string `json:"songname"`
	SingerName string `json:"singername"`
}

type kugouCandidateInfo struct {
	ID        string `json:"id"`
	AccessKey string `json:"accesskey"`
	Duration  int    `json:"duration"` // milliseconds
}

func (k *KuGou) GetLyrics(ctx context.Context, track provider.Track) (string, error) {
	var found string
	err := k.each(ctx, track, func(text string) bool {
		found = text
		return false
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", provider.ErrNotFound
	}
	return found, nil
}

func (k *KuGou) GetAllLyrics(ctx context.Context, track provider.Track, emit func(string)) error {
	seen := map[string]bool{}
	return k.each(ctx, track, func(text string) bool {
		if !seen[text] {
			seen[text] = true
			emit(text)
		}
		return true
	})
}

// each downloads lyrics for matching songs until yield returns false.
func (k *KuGou) each(ctx context.Context, track provider.Track, yield func(string) bool) error {
	songs, err := k.searchSongs(ctx, track)
	if err != nil {
		return err
	}
	for _, song := range songs {
		candidates, err := k.searchCandidates(ctx, track, song)
		if err != nil {
			if provider.IsNotFound(err) {
				continue
			}
			return err
		}
		for _, c := range candidates {
			text, err := k.download(ctx, c)
			if err != nil {
				if provider.IsNotFound(err) {
					continue
				}
				return err
			}
			if !yield(text) {
				return nil
			}
		}
	}
	return nil
}

func (k *KuGou) searchSongs(ctx context.Context, track provider.Track) ([]kugouSong, error) {
	keyword := strings.TrimSpace(track.Title + " - " + track.ArtistName)
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("page", "1")
	q.Set("pagesize", "8")
	q.Set("showtype", "1")
	var resp struct {
		Status int `json:"status"`
		Data   struct {
			Info []kugouSong `json:"info"`
		} `json:"data"`
	}
	if err := k.client.getJSON(ctx, k.searchURL+"/api/v3/search/song?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	var out []kugouSong
	for _, s := range resp.Data.Info {
		if s.Hash == "" || !withinTolerance(time.Duration(s.Duration)*time.Second, track.Duration(), kugouTolerance) {
			continue
		}
		out = append(out, s)
		if len(out) == kugouMaxSongs {
			break
		}
	}
	return out, nil
}

func (k *KuGou) searchCandidates(ctx context.Context, track provider.Track, song kugouSong) ([]kugouCandidateInfo, error) {
	q := url.Values{}
	q.Set("ver", "1")
	q.Set("man", "yes")
	q.Set("client", "mobi")
	q.Set("keyword", song.SongName+" - "+song.SingerName)
	q.Set("hash", song.Hash)
	ms := track.DurationMs
	if ms <= 0 {
		ms = song.Duration * 1000
	}
	q.Set("duration", strconv.Itoa(ms))
	var resp struct {
		Status     int                  `json:"status"`
		Candidates []kugouCandidateInfo `json:"candidates"`
	}
	if err := k.client.getJSON(ctx, k.candidateURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, provider.ErrNotFound
	}
	return resp.Candidates, nil
}

func (k *KuGou) download(ctx context.Context, c kugouCandidateInfo) (string, error) {
	q := url.Values{}
	q.Set("fmt", "lrc")
	q.Set("charset", "utf8")
	q.Set("client", "pc")
	q.Set("ver", "1")
	q.Set("id", c.ID)
	q.Set("accesskey", c.AccessKey)
	var resp struct {
		Status  int    `json:"status"`
		Content string `json:"content"`
	}
	if err := k.client.getJSON(ctx, k.downloadURL+"/download?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", provider.ErrNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return "", fmt.Errorf("decode kugou lyrics: %w", err)
	}
	text := stripLRCHeaders(string(raw))
	if text == "" {
		return "", provider.ErrNotFound
	}
	return text, nil
}

// stripLRCHeaders drops metadata tags such as [ar:...] and [ti:...].
func stripLRCHeaders(lrc string) string {
	lines := strings.Split(strings.ReplaceAll(lrc, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
		if line == "" || kugouHeader.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
