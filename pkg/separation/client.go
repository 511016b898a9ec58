package separation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrSubmission reports that the separation service rejected an upload or
// was unreachable.
var ErrSubmission = errors.New("separation: couldn't submit file")

// Job states reported by the service.
const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Status is the service's view of the in-flight separation job.
type Status struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type Config struct {
	Host   string
	Client *http.Client
	Debug  bool
}

// Client talks to the remote stem-separation service.
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

func (c *Client) log(format string, args ...interface{}) {
	if !c.debug {
		return
	}
	format += "\n"
	log.Printf(format, args...)
}

// Submit uploads the file and starts an asynchronous separation job.
func (c *Client) Submit(ctx context.Context, filename string, file []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("separation: couldn't create form file: %w", err)
	}
	if _, err := fw.Write(file); err != nil {
		return "", fmt.Errorf("separation: couldn't write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("separation: couldn't close form writer: %w", err)
	}

	u := c.host + "/start_separation"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", fmt.Errorf("separation: couldn't create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp startResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("%w: empty session id", ErrSubmission)
	}
	c.log("separation: submitted %s as session %s", filename, resp.SessionID)
	return resp.SessionID, nil
}

// Progress queries the current job status. Callers treat failures as
// transient and retry on the next poll cycle.
func (c *Client) Progress(ctx context.Context) (*Status, error) {
	u := c.host + "/separation_progress"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("separation: couldn't create request: %w", err)
	}
	var status Status
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

// IsUnreachable reports whether the error was a transport-level failure
// rather than a service response.
func IsUnreachable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("separation: couldn't %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("separation: couldn't read response body: %w", err)
	}
	c.log("separation: response %s %s %d %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 100 {
			msg = msg[:100] + "..."
		}
		return fmt.Errorf("separation: %s %s returned (%s): %w", req.Method, req.URL, msg, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("separation: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return nil
}
