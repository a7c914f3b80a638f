// Package render turns notification text into an image card through an
// external HTML-to-image service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	logx "steamwatch/pkg/logx"
)

const (
	defaultTimeout = 30 * time.Second
	defaultWidth   = 480
	maxImageBytes  = 16 << 20
)

var ErrNoEndpoint = errors.New("render: endpoint not configured")

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

var cardTemplate = template.Must(template.New("card").Parse(`<!doctype html>
<html><head><meta charset="utf-8"></head>
<body style="margin:0">
<div style="display:flex;align-items:center;font-family:sans-serif;padding:10px;border-radius:5px;background-color:#f0f2f5;width:{{.Width}}px">
{{if .Avatar}}<img src="{{.Avatar}}" style="width:50px;height:50px;border-radius:50%;margin-right:15px">{{end}}
<div style="font-size:16px;margin:0">{{.Body}}</div>
</div>
</body></html>`))

type Config struct {
	Endpoint string
	Timeout  time.Duration
	Width    int
}

type Client struct {
	endpoint string
	width    int
	http     *http.Client
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	width := cfg.Width
	if width <= 0 {
		width = defaultWidth
	}
	return &Client{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		width:    width,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Card renders the HTML document for text (markdown) next to the avatar.
func (c *Client) Card(text, avatarURL string) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(text), &body); err != nil {
		return "", fmt.Errorf("markdown: %w", err)
	}
	var out bytes.Buffer
	err := cardTemplate.Execute(&out, struct {
		Width  int
		Avatar string
		Body   template.HTML
	}{c.width, avatarURL, template.HTML(body.String())})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

type renderRequest struct {
	HTML   string `json:"html"`
	Width  int    `json:"width"`
	Format string `json:"format"`
}

// Render posts the card to the endpoint and returns the image it answers with.
func (c *Client) Render(ctx context.Context, text, avatarURL string) ([]byte, error) {
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	doc, err := c.Card(text, avatarURL)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(renderRequest{HTML: doc, Width: c.width, Format: "png"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png, image/*")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("render: http %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("render: unexpected content type %q", ct)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	c.log.Debug("card rendered", logx.Int("bytes", len(img)))
	return img, nil
}
