package studio

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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tunegen/tunegen/pkg/ratelimit"
)

const defaultBaseURL = "http://127.0.0.1:7865/api/"

// Client talks to the local studio backend over HTTP. It owns no state
// beyond transport configuration; job state lives on the backend and is
// mirrored by polling.
type Client struct {
	client    *http.Client
	debug     bool
	ratelimit ratelimit.Lock
	baseURL   string
}

type Config struct {
	BaseURL string
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
}

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 500 * time.Millisecond
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		client:    client,
		ratelimit: ratelimit.New(wait),
		debug:     cfg.Debug,
		baseURL:   baseURL,
	}
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

var backoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	maxAttempts := 3
	attempts := 0
	var err error
	for {
		if err != nil {
			c.log("studio: retrying... %v", err)
		}
		var b []byte
		b, err = c.doAttempt(ctx, method, path, in, out)
		if err == nil {
			return b, nil
		}
		attempts++
		if attempts >= maxAttempts {
			return nil, err
		}
		// Retry timeouts right away.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}

		var retry bool
		var errStatus errStatusCode
		if errors.As(err, &errStatus) {
			switch int(errStatus) {
			case http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable:
				retry = true
			default:
				return nil, err
			}
		}
		if !retry {
			return nil, err
		}

		idx := attempts - 1
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		wait := backoff[idx]
		c.log("studio: server busy, waiting %s before retrying", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) doAttempt(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var reqBody io.Reader
	var contentType string
	switch v := in.(type) {
	case nil:
	case *form:
		// Wrap the accumulated bytes fresh on every attempt so a retry
		// resends the full body instead of a drained buffer.
		reqBody = bytes.NewReader(v.buf.Bytes())
		contentType = v.contentType
	default:
		body, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("studio: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
		contentType = "application/json"
		logBody := string(body)
		if len(logBody) > 200 {
			logBody = logBody[:200] + "..."
		}
		c.log("studio: do %s %s %s", method, path, logBody)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("studio: couldn't create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("studio: couldn't %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("studio: couldn't read response body: %w", err)
	}
	c.log("studio: response %s %s %d %s", method, path, resp.StatusCode, string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 200 {
			errMessage = errMessage[:200] + "..."
		}
		return nil, fmt.Errorf("studio: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("studio: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return respBody, nil
}

// form is a multipart request body for tool-job submissions.
type form struct {
	buf         *bytes.Buffer
	w           *multipart.Writer
	contentType string
	err         error
}

func newForm() *form {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	return &form{
		buf:         buf,
		w:           w,
		contentType: w.FormDataContentType(),
	}
}

func (f *form) field(name, value string) {
	if f.err != nil || value == "" {
		return
	}
	f.err = f.w.WriteField(name, value)
}

func (f *form) file(name, path string) {
	if f.err != nil || path == "" {
		return
	}
	src, err := os.Open(path)
	if err != nil {
		f.err = fmt.Errorf("couldn't open %s: %w", path, err)
		return
	}
	defer src.Close()
	part, err := f.w.CreateFormFile(name, filepath.Base(path))
	if err != nil {
		f.err = err
		return
	}
	if _, err := io.Copy(part, src); err != nil {
		f.err = err
	}
}

func (f *form) close() error {
	if f.err != nil {
		return f.err
	}
	return f.w.Close()
}
