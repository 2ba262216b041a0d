package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const defaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// CloudflareOptions configures a [CloudflareKV] client.
type CloudflareOptions struct {
	BaseURL   string
	AccountID string
	APIToken  string
	// RateLimit is the maximum number of requests per second. Zero disables limiting.
	RateLimit float64
	// HTTPClient is used as the base transport; the bearer token is added on top of it.
	HTTPClient *http.Client
}

// CloudflareKV implements [KVStore] against the Cloudflare Workers KV REST API.
type CloudflareKV struct {
	baseURL    string
	accountID  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// cfEnvelope is the standard Cloudflare v4 response envelope.
type cfEnvelope struct {
	Success    bool            `json:"success"`
	Errors     []cfMessage     `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *struct {
		Count  int    `json:"count"`
		Cursor string `json:"cursor"`
	} `json:"result_info,omitempty"`
}

type cfMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewCloudflareKV creates a client for one Cloudflare account.
func NewCloudflareKV(ctx context.Context, opts CloudflareOptions) (*CloudflareKV, error) {
	if opts.AccountID == "" {
		return nil, fmt.Errorf("%w: account id", shared.ErrMissingCredentials)
	}
	if opts.APIToken == "" {
		return nil, fmt.Errorf("%w: api token", shared.ErrMissingCredentials)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultCloudflareBaseURL
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIToken, TokenType: "Bearer"})

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &CloudflareKV{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		accountID:  opts.AccountID,
		httpClient: oauth2.NewClient(ctx, ts),
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Name returns the store name.
func (c *CloudflareKV) Name() string {
	return "cloudflare"
}

func (c *CloudflareKV) namespaceURL(namespaceID string, parts ...string) string {
	u := fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s", c.baseURL, url.PathEscape(c.accountID), url.PathEscape(namespaceID))
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// do sends a request after waiting on the rate limiter and converts non-2xx responses into errors wrapping [shared.ErrKVRequest].
func (c *CloudflareKV) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrKVRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", shared.ErrNotFound, method, endpoint)
		}
		var env cfEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && len(env.Errors) > 0 {
			return nil, fmt.Errorf("%w (status %d): %s", shared.ErrKVRequest, resp.StatusCode, joinMessages(env.Errors))
		}
		return nil, fmt.Errorf("%w: status %d", shared.ErrKVRequest, resp.StatusCode)
	}

	return resp, nil
}

// doJSON performs a request whose response is a Cloudflare envelope.
func (c *CloudflareKV) doJSON(ctx context.Context, method, endpoint string, payload any) (*cfEnvelope, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, endpoint, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env cfEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", shared.ErrKVRequest, joinMessages(env.Errors))
	}
	return &env, nil
}

// ListKeys calls GET /keys with limit and cursor.
func (c *CloudflareKV) ListKeys(ctx context.Context, namespaceID string, opts ListOptions) (*KeyPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clampListLimit(opts.Limit)))
	if opts.Cursor != "" {
		params.Set("cursor", opts.Cursor)
	}
	if opts.Prefix != "" {
		params.Set("prefix", opts.Prefix)
	}

	env, err := c.doJSON(ctx, http.MethodGet, c.namespaceURL(namespaceID, "keys")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	page := &KeyPage{}
	if err := json.Unmarshal(env.Result, &page.Keys); err != nil {
		return nil, fmt.Errorf("failed to decode key listing: %w", err)
	}
	if env.ResultInfo != nil {
		page.Cursor = env.ResultInfo.Cursor
	}
	return page, nil
}

// GetValue calls GET /values/{key} and returns the raw body.
func (c *CloudflareKV) GetValue(ctx context.Context, namespaceID, key string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.namespaceURL(namespaceID, "values", url.PathEscape(key)), "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get value for %q: %w", key, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read value for %q: %w", key, err)
	}
	return string(b), nil
}

// PutValue calls PUT /values/{key}. Metadata is sent as a multipart form.
func (c *CloudflareKV) PutValue(ctx context.Context, namespaceID string, item models.BulkWriteItem) error {
	endpoint := c.namespaceURL(namespaceID, "values", url.PathEscape(item.Key))
	if item.ExpirationTTL != nil {
		endpoint += "?expiration_ttl=" + strconv.Itoa(*item.ExpirationTTL)
	}

	var (
		body        io.Reader = strings.NewReader(item.Value)
		contentType           = "text/plain"
	)

	if item.Metadata != nil {
		md, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		if err := mw.WriteField("value", item.Value); err != nil {
			return fmt.Errorf("failed to build form: %w", err)
		}
		if err := mw.WriteField("metadata", string(md)); err != nil {
			return fmt.Errorf("failed to build form: %w", err)
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("failed to build form: %w", err)
		}
		body = buf
		contentType = mw.FormDataContentType()
	}

	resp, err := c.do(ctx, http.MethodPut, endpoint, contentType, body)
	if err != nil {
		return fmt.Errorf("failed to put value for %q: %w", item.Key, err)
	}
	resp.Body.Close()
	return nil
}

// DeleteValue calls DELETE /values/{key}.
func (c *CloudflareKV) DeleteValue(ctx context.Context, namespaceID, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.namespaceURL(namespaceID, "values", url.PathEscape(key)), "", nil)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	resp.Body.Close()
	return nil
}

// BulkWrite calls PUT /bulk with up to [MaxBulkItems] items.
func (c *CloudflareKV) BulkWrite(ctx context.Context, namespaceID string, items []models.BulkWriteItem) error {
	if len(items) > MaxBulkItems {
		return fmt.Errorf("%w: bulk write of %d items exceeds limit %d", shared.ErrInvalidArgument, len(items), MaxBulkItems)
	}
	if _, err := c.doJSON(ctx, http.MethodPut, c.namespaceURL(namespaceID, "bulk"), items); err != nil {
		return fmt.Errorf("bulk write failed: %w", err)
	}
	return nil
}

// BulkDelete calls POST /bulk/delete with up to [MaxBulkItems] key names.
func (c *CloudflareKV) BulkDelete(ctx context.Context, namespaceID string, keys []string) error {
	if len(keys) > MaxBulkItems {
		return fmt.Errorf("%w: bulk delete of %d keys exceeds limit %d", shared.ErrInvalidArgument, len(keys), MaxBulkItems)
	}
	if _, err := c.doJSON(ctx, http.MethodPost, c.namespaceURL(namespaceID, "bulk", "delete"), keys); err != nil {
		return fmt.Errorf("bulk delete failed: %w", err)
	}
	return nil
}

func joinMessages(msgs []cfMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("%d: %s", m.Code, m.Message))
	}
	return strings.Join(parts, "; ")
}
