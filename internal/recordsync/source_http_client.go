package recordsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SourceRecord is one record as the external source's list API returns
// it: the stable identifier plus the raw field mapping.
type SourceRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// SourceClient lists records from the external source, one page per
// call. An empty returned offset means the listing is complete.
type SourceClient interface {
	ListRecords(ctx context.Context, table, offset string) ([]SourceRecord, string, error)
}

type SourceAccessTokenProvider func(ctx context.Context) (string, error)

type SourceHTTPClientOptions struct {
	BaseURL       string
	TokenProvider SourceAccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	PageSize      int
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

type HTTPSourceClient struct {
	baseURL       string
	tokenProvider SourceAccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	pageSize      int
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPSourceClient(opts SourceHTTPClientOptions) *HTTPSourceClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.airtable.com/v0"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPSourceClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		pageSize:      pageSize,
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

type sourceRecordPage struct {
	Records []SourceRecord `json:"records"`
	Offset  string         `json:"offset"`
}

func (c *HTTPSourceClient) ListRecords(ctx context.Context, table, offset string) ([]SourceRecord, string, error) {
	if c == nil {
		return nil, "", fmt.Errorf("source http client is nil")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, "", ErrInvalidInput
	}
	tokenProvider := c.tokenProvider
	if tokenProvider == nil {
		return nil, "", fmt.Errorf("source token provider is required")
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return nil, "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, "", fmt.Errorf("source token is empty")
	}

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(c.pageSize))
	if offset != "" {
		query.Set("offset", offset)
	}
	requestURL := c.baseURL + "/" + url.PathEscape(table) + "?" + query.Encode()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, "", waitErr
				}
				continue
			}
			return nil, "", err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, "", readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			var page sourceRecordPage
			if err := json.Unmarshal(respBody, &page); err != nil {
				return nil, "", fmt.Errorf("source list response is not valid json: %w", err)
			}
			return page.Records, page.Offset, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, "", waitErr
			}
			continue
		}

		errType := ""
		errMessage := strings.TrimSpace(string(respBody))
		var parsed struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			if parsed.Error.Type != "" {
				errType = parsed.Error.Type
			}
			if strings.TrimSpace(parsed.Error.Message) != "" {
				errMessage = parsed.Error.Message
			}
		}
		if errType != "" {
			return nil, "", fmt.Errorf("source list failed: status=%d type=%s message=%s", resp.StatusCode, errType, errMessage)
		}
		return nil, "", fmt.Errorf("source list failed: status=%d message=%s", resp.StatusCode, errMessage)
	}
}

func (c *HTTPSourceClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
