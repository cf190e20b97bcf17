package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/resilience"
)

// Client talks to the tagging API on behalf of one tagger.
type Client struct {
	baseURL  string
	userName string
	http     *http.Client
	executor *resilience.Executor
}

// NewClient builds a client. executor may be nil, in which case every call is tried once.
func NewClient(baseURL, userName string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		userName: userName,
		http:     &http.Client{Timeout: 2 * time.Minute},
		executor: executor,
	}
}

func (c *Client) Download(ctx context.Context, count int) (vott.Document, error) {
	q := url.Values{"imageCount": {strconv.Itoa(count)}}
	return resilience.Do(ctx, c.executor, "api.download", func(ctx context.Context) (vott.Document, error) {
		var doc vott.Document
		err := c.do(ctx, http.MethodGet, "/v1/download", q, nil, "", &doc)
		return doc, err
	}, classifyAPIError)
}

func (c *Client) Upload(ctx context.Context, doc vott.Document) (domain.CheckinSummary, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return domain.CheckinSummary{}, fmt.Errorf("encode document: %w", err)
	}
	return resilience.Do(ctx, c.executor, "api.upload", func(ctx context.Context) (domain.CheckinSummary, error) {
		var summary domain.CheckinSummary
		err := c.do(ctx, http.MethodPost, "/v1/upload", nil, bytes.NewReader(body), "application/json", &summary)
		return summary, err
	}, classifyAPIError)
}

// PutBlob uploads data. A retry re-sends the same bytes, so data is buffered first.
func (c *Client) PutBlob(ctx context.Context, container, name string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return c.run(ctx, "api.put_blob", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPut, blobPath(container, name), nil, bytes.NewReader(raw), "application/octet-stream", nil)
	}, classifyIdempotentError)
}

func (c *Client) FetchBlob(ctx context.Context, container, name string) ([]byte, error) {
	return resilience.Do(ctx, c.executor, "api.fetch_blob", func(ctx context.Context) ([]byte, error) {
		req, err := c.newRequest(ctx, http.MethodGet, blobPath(container, name), nil, nil, "")
		if err != nil {
			return nil, err
		}
		res, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch blob %s: %w", name, err)
		}
		defer res.Body.Close()
		if err := checkStatus("fetch blob "+name, res); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch blob %s: %w", name, err)
		}
		return body, nil
	}, classifyIdempotentError)
}

func (c *Client) Onboard(ctx context.Context, images []domain.OnboardImage) error {
	body, err := json.Marshal(map[string]any{"images": images})
	if err != nil {
		return fmt.Errorf("encode onboarding request: %w", err)
	}
	return c.run(ctx, "api.onboard", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/v1/onboarding", nil, bytes.NewReader(body), "application/json", nil)
	}, classifyAPIError)
}

func (c *Client) run(ctx context.Context, op string, fn func(context.Context) error, classifier resilience.ErrorClassifier) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, op, fn, classifier)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, q, body, contentType)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	if err := checkStatus(method+" "+path, res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (*http.Request, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("userName", c.userName)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func blobPath(container, name string) string {
	return "/v1/blobs/" + url.PathEscape(container) + "/" + url.PathEscape(name)
}

// checkStatus turns a non-2xx answer into an HTTPStatusError carrying the server's message.
func checkStatus(op string, res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &HTTPStatusError{Operation: op, StatusCode: res.StatusCode, Message: msg}
}
