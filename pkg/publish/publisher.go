// Package publish delivers computed ratios downstream.
package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"GoFlowRatio/pkg/flowerr"
)

// DefaultPath is the ingestion route appended to the base URL.
const DefaultPath = "/tcpflow"

// Publisher sends one ratio for one published interface name. Implementations
// never retry.
type Publisher interface {
	Publish(ctx context.Context, publishName string, ratio float64) error
}

// HTTPConfig points the publisher at the ingestion service. Timeout bounds
// each request; zero means no limit.
type HTTPConfig struct {
	URL     string // base URL of the ingestion service
	Path    string
	Timeout time.Duration
}

// HTTPPublisher reports ratios as GET query parameters.
type HTTPPublisher struct {
	endpoint *url.URL
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPPublisher validates the base URL and joins Path onto it.
func NewHTTPPublisher(cfg HTTPConfig, logger *zap.Logger) (*HTTPPublisher, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid publish url %q: %w", cfg.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid publish url %q: missing scheme or host", cfg.URL)
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	if logger == nil {
		logger = zap.L()
	}

	return &HTTPPublisher{
		endpoint: u,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.Named("publish"),
	}, nil
}

// URL returns the request URL for one ratio.
func (p *HTTPPublisher) URL(publishName string, ratio float64) string {
	u := *p.endpoint
	q := url.Values{}
	q.Set("value", strconv.FormatFloat(ratio, 'f', -1, 64))
	q.Set("nic", publishName)
	u.RawQuery = q.Encode()
	return u.String()
}

// Publish sends one GET and treats any 2xx as accepted. Other statuses
// return *flowerr.PublishError; transport failures wrap flowerr.ErrNetwork.
func (p *HTTPPublisher) Publish(ctx context.Context, publishName string, ratio float64) error {
	target := p.URL(publishName, ratio)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building publish request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", flowerr.ErrNetwork, p.endpoint.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &flowerr.PublishError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	p.logger.Info("ratio published",
		zap.String("nic", publishName),
		zap.Float64("ratio", ratio),
		zap.Int("status", resp.StatusCode))

	return nil
}

// DryRunPublisher logs what would have been sent.
type DryRunPublisher struct {
	logger *zap.Logger
}

func NewDryRunPublisher(logger *zap.Logger) *DryRunPublisher {
	if logger == nil {
		logger = zap.L()
	}
	return &DryRunPublisher{logger: logger.Named("publish")}
}

// Publish only logs.
func (d *DryRunPublisher) Publish(ctx context.Context, publishName string, ratio float64) error {
	d.logger.Info("dry run, ratio not sent", zap.String("nic", publishName), zap.Float64("ratio", ratio))
	return nil
}
