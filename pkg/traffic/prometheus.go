package traffic

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/api"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"GoFlowRatio/pkg/flowerr"
)

const (
	// DefaultMetric is exported by the tcp traffic scanner as a moving average.
	DefaultMetric = "tcp_traffic_scan_tcp_bandwidth_avg_bps"
	DefaultLabel  = "interface"

	queryPath     = "/api/v1/query"
	statusSuccess = "success"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PrometheusConfig locates the metrics store and the series to read. Empty
// Metric and Label fall back to DefaultMetric and DefaultLabel.
type PrometheusConfig struct {
	URL     string
	Metric  string
	Label   string
	Timeout time.Duration
}

// PrometheusSource issues instant queries against the Prometheus HTTP API.
type PrometheusSource struct {
	client  api.Client
	metric  string
	label   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewPrometheusSource initializes the Prometheus client connection.
func NewPrometheusSource(cfg PrometheusConfig, logger *zap.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: cfg.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Prometheus client: %w", err)
	}

	if cfg.Metric == "" {
		cfg.Metric = DefaultMetric
	}
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if logger == nil {
		logger = zap.L()
	}

	return &PrometheusSource{
		client:  client,
		metric:  cfg.Metric,
		label:   cfg.Label,
		timeout: cfg.Timeout,
		logger:  logger.Named("traffic"),
	}, nil
}

// Query returns the PromQL selector used for iface.
func (p *PrometheusSource) Query(iface string) string {
	return p.metric + model.LabelSet{model.LabelName(p.label): model.LabelValue(iface)}.String()
}

// Observe runs the instant query for iface and returns the first series' value.
func (p *PrometheusSource) Observe(ctx context.Context, iface string) (Sample, error) {
	if !model.LabelValue(iface).IsValid() {
		return Sample{}, fmt.Errorf("%w: interface %q is not a valid label value", flowerr.ErrParse, iface)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	query := p.Query(iface)
	u := p.client.URL(queryPath, nil)
	u.RawQuery = url.Values{"query": []string{query}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Sample{}, fmt.Errorf("building prometheus request: %w", err)
	}

	resp, body, err := p.client.Do(ctx, req)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: prometheus query for %s: %v", flowerr.ErrNetwork, iface, err)
	}

	sample, err := decodeSample(resp.StatusCode, body)
	if err != nil {
		return Sample{}, fmt.Errorf("prometheus query %s: %w", query, err)
	}
	sample.Interface = iface

	p.logger.Info("observed bandwidth",
		zap.String("interface", iface),
		zap.Float64("bandwidth_bps", sample.BandwidthBps),
		zap.Time("sample_time", sample.Timestamp))

	return sample, nil
}

type queryResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []any             `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// decodeSample applies the query response contract: success status, at least
// one row, and a finite value in the first row.
func decodeSample(code int, body []byte) (Sample, error) {
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		if code/100 != 2 {
			return Sample{}, &flowerr.QueryStatusError{HTTPStatus: code, Message: err.Error()}
		}
		return Sample{}, fmt.Errorf("%w: malformed response: %v", flowerr.ErrParse, err)
	}

	if qr.Status != statusSuccess {
		qerr := &flowerr.QueryStatusError{Status: qr.Status, ErrorType: qr.ErrorType, Message: qr.Error}
		if code/100 != 2 {
			qerr.HTTPStatus = code
		}
		return Sample{}, qerr
	}

	if len(qr.Data.Result) == 0 {
		return Sample{}, flowerr.ErrNoData
	}

	first := qr.Data.Result[0]
	if len(first.Value) != 2 {
		return Sample{}, fmt.Errorf("%w: value has %d elements, want 2", flowerr.ErrParse, len(first.Value))
	}

	ts, ok := first.Value[0].(float64)
	if !ok {
		return Sample{}, fmt.Errorf("%w: timestamp %v is not a number", flowerr.ErrParse, first.Value[0])
	}
	raw, ok := first.Value[1].(string)
	if !ok {
		return Sample{}, fmt.Errorf("%w: value %v is not a string", flowerr.ErrParse, first.Value[1])
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: value %q: %v", flowerr.ErrParse, raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Sample{}, fmt.Errorf("%w: value %q is not finite", flowerr.ErrParse, raw)
	}

	return Sample{
		BandwidthBps: v,
		Timestamp:    model.TimeFromUnixNano(int64(ts * 1e9)).Time(),
		Series:       first.Metric,
	}, nil
}
