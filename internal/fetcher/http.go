package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/offer"
)

const offersPath = "/offers"

// HTTPOptions parameterise the scraper-gateway source.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPSource pulls offer batches from the scraper gateway over HTTP.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPSource constructs an HTTP offer source.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "offer_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Fetch retrieves one route/date batch from the gateway.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) ([]offer.Offer, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("offer source base url required")
	}

	q := url.Values{}
	q.Set("origin", strings.ToUpper(req.Origin))
	q.Set("dest", strings.ToUpper(req.Dest))
	q.Set("depart", req.DepartDate)
	if req.ReturnDate != "" {
		q.Set("return", req.ReturnDate)
	}

	endpoint := s.baseURL + offersPath + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	} else {
		httpReq.Header.Set("User-Agent", "dealwatcher/1.0")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var raws []rawOffer
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}

	offers := normalizeBatch(raws, req)
	s.logger.Debug().
		Str("route", offer.RouteKey(req.Origin, req.Dest)).
		Str("depart", req.DepartDate).
		Int("raw", len(raws)).
		Int("usable", len(offers)).
		Msg("fetched offer batch")

	return offers, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("offer gateway error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("offer gateway error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("offer gateway error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("offer gateway error (%d)", status)
}

var _ OfferSource = (*HTTPSource)(nil)
