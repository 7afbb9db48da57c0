package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/metrics"
)

const (
	sourceName = "bdns"

	// PublicCallURL embeds the registry id, so official_url doubles as a dedup key.
	PublicCallURL = "https://www.infosubvenciones.es/bdnstrans/GE/es/convocatorias/"
)

// BDNSClient talks to the national grants database (BDNS) public API.
// Transient failures (timeouts, 429, 5xx) are retried with exponential backoff.
type BDNSClient struct {
	Client       *http.Client
	BaseURL      string
	Token        string
	MaxRetries   int
	RetryBackoff time.Duration
	limiter      *rate.Limiter
}

func NewBDNSClient(baseURL, token string, timeout time.Duration, rps float64) *BDNSClient {
	return &BDNSClient{
		Client:       &http.Client{Timeout: timeout},
		BaseURL:      baseURL,
		Token:        token,
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Search fetches one page of calls matching p.Term. Pages are 0-based upstream.
func (c *BDNSClient) Search(ctx context.Context, p SearchParams) (*SearchPage, error) {
	q := url.Values{}
	q.Set("descripcion", p.Term)
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("pageSize", strconv.Itoa(p.PageSize))
	q.Set("order", "fechaRecepcion")
	q.Set("direccion", "desc")
	if p.OpenOnly {
		q.Set("abierto", "true")
	}

	log.Printf("[BDNS] Searching term=%q page=%d pageSize=%d open=%v", p.Term, p.Page, p.PageSize, p.OpenOnly)

	var page SearchPage
	if err := c.getJSON(ctx, c.BaseURL+"/convocatorias/busqueda?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	log.Printf("[BDNS] Got %d records (total: %d)", len(page.Records), page.Total)
	return &page, nil
}

// Detail fetches the full record of one call.
func (c *BDNSClient) Detail(ctx context.Context, externalID string) (*Detail, error) {
	var d Detail
	if err := c.getJSON(ctx, c.BaseURL+"/convocatorias?numConv="+url.QueryEscape(externalID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *BDNSClient) getJSON(ctx context.Context, endpoint string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			// 0.5s, 1s, 2s... plus jitter
			backoff := c.RetryBackoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int64N(int64(c.RetryBackoff/5) + 1))
			select {
			case <-ctx.Done():
				return c.unavailable(ctx.Err(), "timeout")
			case <-time.After(backoff + jitter):
			}
			log.Printf("[BDNS] Retrying (%d/%d) after: %v", attempt, c.MaxRetries, lastErr)
		}

		retry, err := c.fetch(ctx, endpoint, out)
		if err == nil || !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// fetch performs one request. retry reports whether the failure is transient.
func (c *BDNSClient) fetch(ctx context.Context, endpoint string, out any) (retry bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, c.unavailable(err, "rate_limit_wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return shouldRetry(err, 0), c.unavailable(err, "transport")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.UpstreamUnavailable.WithLabelValues("needs_token").Inc()
		return false, &apperr.UpstreamError{Source: sourceName, NeedsToken: true, Err: fmt.Errorf("API returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return shouldRetry(nil, resp.StatusCode), c.unavailable(fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body)), "status")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, c.unavailable(fmt.Errorf("decoding response: %w", err), "decode")
	}
	return false, nil
}

func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		var netErr interface{ Timeout() bool }
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// unavailable wraps transport-level failures. Timeouts count as unreachable.
func (c *BDNSClient) unavailable(err error, reason string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	metrics.UpstreamUnavailable.WithLabelValues(reason).Inc()
	return &apperr.UpstreamError{Source: sourceName, Err: err}
}
