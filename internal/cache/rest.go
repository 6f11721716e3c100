package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// restBackend reaches the cache through an Upstash-style HTTP gateway.
// Each call is a stateless request carrying a bearer credential.
//
// Wire shape:
//
//	GET  {base}/get/{key}            -> {"result": <string|null>}
//	POST {base}/set/{key}            body {"value": <string>, "ex": <int>}
//	GET  {base}/del/{key}            -> {"result": <int>}
//	GET  {base}/exists/{key}         -> {"result": <int>}
//
// Status 200/201 denotes success; any other status is a failure.
type restBackend struct {
	base   string
	token  string
	client *http.Client
}

func newRESTBackend(base, token string, timeout time.Duration) *restBackend {
	return &restBackend{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (b *restBackend) Name() string { return "rest" }

// restResult is the gateway's uniform response envelope.
type restResult struct {
	Result json.RawMessage `json:"result"`
}

func (b *restBackend) do(ctx context.Context, method, path string, body interface{}) (*restResult, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}

	var out restResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway %s %s: decode: %w", method, path, err)
	}
	return &out, nil
}

func (b *restBackend) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := b.do(ctx, http.MethodGet, "/get/"+url.PathEscape(key), nil)
	if err != nil {
		return "", false, err
	}
	if len(res.Result) == 0 || string(res.Result) == "null" {
		return "", false, nil
	}
	var val string
	if err := json.Unmarshal(res.Result, &val); err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *restBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	body := map[string]interface{}{"value": value}
	if ttl > 0 {
		body["ex"] = int(ttl.Seconds())
	}
	_, err := b.do(ctx, http.MethodPost, "/set/"+url.PathEscape(key), body)
	return err
}

func (b *restBackend) Delete(ctx context.Context, key string) error {
	_, err := b.do(ctx, http.MethodGet, "/del/"+url.PathEscape(key), nil)
	return err
}

func (b *restBackend) Exists(ctx context.Context, key string) (bool, error) {
	res, err := b.do(ctx, http.MethodGet, "/exists/"+url.PathEscape(key), nil)
	if err != nil {
		return false, err
	}
	var n int
	if err := json.Unmarshal(res.Result, &n); err != nil {
		return false, err
	}
	return n > 0, nil
}
