// Package meme talks to a meme-generator HTTP service: upload the avatar,
// generate a steam_message meme, download the result.
package meme

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "steamwatch/pkg/logx"
)

const (
	DefaultBaseURL  = "http://127.0.0.1:2233"
	defaultTimeout  = 20 * time.Second
	maxImageBytes   = 16 << 20
	memeKey         = "steam_message"
	avatarImageName = "avatar"
)

var ErrNoImageID = errors.New("meme: response carried no image_id")

type Config struct {
	BaseURL string
	// Timeout bounds each of the three HTTP steps.
	Timeout time.Duration
}

type Client struct {
	base    string
	timeout time.Duration
	http    *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{base: base, timeout: timeout, http: &http.Client{}, log: log}
}

type imageRef struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type uploadRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type generateRequest struct {
	Images []imageRef `json:"images"`
	Texts  []string   `json:"texts"`
}

type imageIDResponse struct {
	ImageID string `json:"image_id"`
}

// Make returns the generated image bytes.
func (c *Client) Make(ctx context.Context, avatarURL, text string) ([]byte, error) {
	avatarID, err := c.postForID(ctx, "/image/upload", uploadRequest{Type: "url", URL: avatarURL})
	if err != nil {
		return nil, fmt.Errorf("upload avatar: %w", err)
	}
	memeID, err := c.postForID(ctx, "/memes/"+memeKey, generateRequest{
		Images: []imageRef{{Name: avatarImageName, ID: avatarID}},
		Texts:  []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("generate meme: %w", err)
	}
	img, err := c.download(ctx, memeID)
	if err != nil {
		return nil, fmt.Errorf("download meme: %w", err)
	}
	c.log.Debug("meme generated", logx.String("image_id", memeID), logx.Int("bytes", len(img)))
	return img, nil
}

func (c *Client) postForID(ctx context.Context, path string, body any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s: http %d", path, resp.StatusCode)
	}
	var out imageIDResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode: %w", path, err)
	}
	if strings.TrimSpace(out.ImageID) == "" {
		return "", ErrNoImageID
	}
	return out.ImageID, nil
}

func (c *Client) download(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/image/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}
