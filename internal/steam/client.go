// Package steam reads player status from steamcommunity.com profile pages.
//
// Client implements both the status provider (group friend list snapshots and
// single profiles) and the identity resolver used by the monitor.
package steam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

const (
	DefaultBaseURL   = "https://steamcommunity.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxPageBytes     = 8 << 20
)

type Config struct {
	// BaseURL replaces https://steamcommunity.com (tests, mirrors).
	BaseURL     string
	ProxyURL    string
	Timeout     time.Duration
	UserAgent   string
	Credentials model.Credentials
}

type Client struct {
	base string
	ua   string
	http *http.Client
	log  logx.Logger

	mu    sync.RWMutex
	creds model.Credentials

	cacheMu sync.Mutex
	pages   map[string]cachedPage
}

// cachedPage backs conditional requests: a 304 replays body.
type cachedPage struct {
	etag         string
	lastModified string
	body         []byte
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(cfg.ProxyURL); p != "" {
		pu, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("steam proxy url: %w", err)
		}
		tr.Proxy = http.ProxyURL(pu)
	}
	return &Client{
		base:  base,
		ua:    ua,
		http:  &http.Client{Timeout: timeout, Transport: tr},
		log:   log,
		creds: cfg.Credentials,
		pages: map[string]cachedPage{},
	}, nil
}

// SetCredentials replaces the session cookies for subsequent requests.
func (c *Client) SetCredentials(cr model.Credentials) {
	c.mu.Lock()
	c.creds = cr
	c.mu.Unlock()
	c.log.Info("steam credentials updated", logx.Bool("set", !cr.Empty()))
}

func (c *Client) credentials() model.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// rewrite points a canonical steamcommunity.com URL at the configured base.
func (c *Client) rewrite(u string) string {
	if c.base == DefaultBaseURL {
		return u
	}
	for _, prefix := range []string{"https://steamcommunity.com", "http://steamcommunity.com"} {
		if strings.HasPrefix(u, prefix) {
			return c.base + strings.TrimPrefix(u, prefix)
		}
	}
	return u
}

// fetch GETs a page. 403 maps to model.ErrForbidden; every other failure
// (network, timeout, non-2xx) maps to model.ErrUnavailable.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u := c.rewrite(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", model.ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if cr := c.credentials(); cr.LoginSecure != "" && cr.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: "steamLoginSecure", Value: cr.LoginSecure})
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: cr.SessionID})
	}

	c.cacheMu.Lock()
	cached, hasCached := c.pages[u]
	c.cacheMu.Unlock()
	if hasCached {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %s: timeout", model.ErrUnavailable, u)
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrUnavailable, u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && hasCached:
		c.log.Debug("page not modified", logx.String("url", u))
		return cached.body, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", model.ErrForbidden, u)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s: http %d", model.ErrUnavailable, u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrUnavailable, u, err)
	}
	etag, lm := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
	c.cacheMu.Lock()
	if etag != "" || lm != "" {
		c.pages[u] = cachedPage{etag: etag, lastModified: lm, body: body}
	} else {
		delete(c.pages, u)
	}
	c.cacheMu.Unlock()
	return body, nil
}

// FetchGroupSnapshot reads {profile}/friends/ and returns every listed friend.
func (c *Client) FetchGroupSnapshot(ctx context.Context, groupProfile string) (*model.Snapshot, error) {
	body, err := c.fetch(ctx, strings.TrimRight(strings.TrimSpace(groupProfile), "/")+"/friends/")
	if err != nil {
		return nil, err
	}
	entities, err := ParseFriends(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse friends: %v", model.ErrUnavailable, err)
	}
	c.log.Debug("friend list parsed", logx.Int("friends", len(entities)))
	return &model.Snapshot{FetchedAt: time.Now(), Entities: entities}, nil
}

// FetchEntityStatus reads one profile page.
func (c *Client) FetchEntityStatus(ctx context.Context, entityID string) (model.Status, error) {
	body, err := c.fetch(ctx, DefaultBaseURL+"/profiles/"+entityID+"/")
	if err != nil {
		return model.Status{}, err
	}
	p, err := ParseProfile(body)
	if err != nil {
		return model.Status{}, fmt.Errorf("%w: parse profile: %v", model.ErrUnavailable, err)
	}
	return model.Status{EntityID: entityID, DisplayName: p.Name, Activity: p.Activity, AvatarRef: p.Avatar}, nil
}
