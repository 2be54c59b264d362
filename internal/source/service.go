/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const ordersPath = "/orders"

// PageRequest addresses one page of the legacy source. Offset pagination uses
// Offset; cursor pagination uses Cursor.
type PageRequest struct {
	Number int
	Offset int
	Cursor string
	Limit  int
}

// Source is a paginated, read-only legacy order feed.
type Source interface {
	Name() string
	Mode() models.PaginationMode
	PageSize() int
	FetchPage(ctx context.Context, req PageRequest) (*models.Page, error)
}

type pageResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// Service fetches order pages over HTTP with rate limiting and bounded
// retries. 5xx, 429 and network failures are ErrSourceUnavailable and are
// retried; any other failure is returned at once.
type Service struct {
	cfg     models.SourceConfig
	client  http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

func NewService(cfg models.SourceConfig, m *metrics.Metrics) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: source base url cannot be empty", store.ErrConfiguration)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid source base url: %v", store.ErrConfiguration, err)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", store.ErrConfiguration, cfg.PageSize)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be positive, got %d", store.ErrConfiguration, cfg.MaxAttempts)
	}
	if cfg.Pagination != models.PaginationOffset && cfg.Pagination != models.PaginationCursor {
		return nil, fmt.Errorf("%w: unknown pagination mode %q", store.ErrConfiguration, cfg.Pagination)
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Service{
		cfg:     cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

func (s *Service) Name() string                { return s.cfg.Name }
func (s *Service) Mode() models.PaginationMode { return s.cfg.Pagination }
func (s *Service) PageSize() int               { return s.cfg.PageSize }

// FetchPage returns one page, retrying transient failures with exponential
// backoff up to the configured number of attempts.
func (s *Service) FetchPage(ctx context.Context, req PageRequest) (*models.Page, error) {
	if req.Limit <= 0 {
		req.Limit = s.cfg.PageSize
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, s.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		started := time.Now()
		page, err := s.fetchOnce(ctx, req)
		if err == nil {
			s.metrics.ObserveSourceRequest("success", started)
			return page, nil
		}
		s.metrics.ObserveSourceRequest("error", started)
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, store.ErrSourceUnavailable) {
			return nil, err
		}

		zap.L().Warn("Source page fetch failed, will retry",
			zap.String("source", s.cfg.Name),
			zap.Int("page", req.Number),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Error(err))
	}

	return nil, fmt.Errorf("page %d: giving up after %d attempts: %w", req.Number, s.cfg.MaxAttempts, lastErr)
}

func (s *Service) fetchOnce(ctx context.Context, req PageRequest) (*models.Page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(req.Limit))
	if s.cfg.Pagination == models.PaginationCursor {
		if req.Cursor != "" {
			query.Set("cursor", req.Cursor)
		}
	} else {
		query.Set("offset", strconv.Itoa(req.Offset))
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + ordersPath + "?" + query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSourceUnavailable, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			zap.L().Debug("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s returned %d", store.ErrSourceUnavailable, ordersPath, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("source rejected page request: %s returned %d", ordersPath, resp.StatusCode)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("unable to decode page %d: %w", req.Number, err)
	}

	records := make([]models.SourceRecord, len(body.Data))
	for i, raw := range body.Data {
		records[i] = decodeRecord(raw)
		if records[i].Malformed != "" {
			zap.L().Warn("Unreadable record in source page",
				zap.String("source", s.cfg.Name),
				zap.Int("page", req.Number),
				zap.Int("index", i),
				zap.String("external_id", records[i].Id),
				zap.String("reason", records[i].Malformed))
		}
	}

	return &models.Page{
		Number:     req.Number,
		Offset:     req.Offset,
		Cursor:     req.Cursor,
		NextCursor: body.NextCursor,
		HasMore:    body.HasMore,
		Records:    records,
	}, nil
}

func (s *Service) backoff(attempt int) time.Duration {
	base := s.cfg.BaseBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	d := base << (attempt - 2)
	if s.cfg.MaxBackoff > 0 && d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
