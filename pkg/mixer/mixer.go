package mixer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbenito/stemtune/pkg/mix"
)

// ErrRender reports that the render request failed or returned no usable
// stream.
var ErrRender = errors.New("mixer: couldn't render mix")

type Config struct {
	Host   string
	Client *http.Client
	Debug  bool
}

// Client requests freshly rendered mixes from the remote mixing service. The
// service applies the gains to the most recently separated file for the
// session.
type Client struct {
	host   string
	client *http.Client
	debug  bool
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	return &Client{
		host:   strings.TrimSuffix(cfg.Host, "/"),
		client: client,
		debug:  cfg.Debug,
	}
}

type renderResponse struct {
	Path string `json:"path"`
}

// Render asks the service for a mix with the given per-stem gains and
// returns an absolute URL to the rendered stream.
func (c *Client) Render(ctx context.Context, g mix.Gains) (string, error) {
	form := url.Values{}
	form.Set("vocals_gain", strconv.Itoa(g.Vocals))
	form.Set("drums_gain", strconv.Itoa(g.Drums))
	form.Set("bass_gain", strconv.Itoa(g.Bass))
	form.Set("other_gain", strconv.Itoa(g.Other))

	u := c.host + "/mix"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("mixer: couldn't create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: couldn't read response: %v", ErrRender, err)
	}
	if c.debug {
		log.Printf("mixer: response %d %s\n", resp.StatusCode, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 100 {
			msg = msg[:100] + "..."
		}
		return "", fmt.Errorf("%w: %s returned %d (%s)", ErrRender, u, resp.StatusCode, msg)
	}
	var decoded renderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: couldn't unmarshal response: %v", ErrRender, err)
	}
	if decoded.Path == "" {
		return "", fmt.Errorf("%w: response carries no path", ErrRender)
	}
	return c.resolve(decoded.Path), nil
}

// resolve turns a service-relative path into an absolute URL.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.host + path
}
