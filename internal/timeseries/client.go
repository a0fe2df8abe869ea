package timeseries

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"
)

// Config holds the InfluxDB connection settings
type Config struct {
	URL          string
	Token        string
	Org          string
	UplinkBucket string
	Timeout      time.Duration
}

// UplinkPoint is one received uplink as recorded in the uplink bucket
type UplinkPoint struct {
	DeviceEUI  string
	GatewayEUI string
	FCnt       int
	RSSI       int
	SNR        float64
	Time       time.Time
}

const uplinkMeasurement = "uplink_metrics"

// Client queries aggregated windows and records raw uplinks
type Client struct {
	client influxdb2.Client
	query  api.QueryAPI
	write  api.WriteAPIBlocking
	log    zerolog.Logger
}

// NewClient creates an InfluxDB client. No connection is made until the
// first request.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
	}
	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Client{
		client: c,
		query:  c.QueryAPI(cfg.Org),
		write:  c.WriteAPIBlocking(cfg.Org, cfg.UplinkBucket),
		log:    log.With().Str("component", "timeseries").Logger(),
	}
}

// Ping checks the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping influxdb: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb is not ready")
	}
	return nil
}

// QuerySum returns the sum of field over the selected window
func (c *Client) QuerySum(ctx context.Context, sel Selector, field string) (float64, error) {
	result, err := c.query.Query(ctx, SumQuery(sel, field))
	if err != nil {
		return 0, fmt.Errorf("sum query for %s %s: %w", sel.Tag, sel.ID, err)
	}
	defer result.Close()

	var sum float64
	for result.Next() {
		v, ok := toFloat(result.Record().Value())
		if !ok {
			c.log.Warn().Str("id", sel.ID).Interface("value", result.Record().Value()).Msg("ignoring non-numeric value")
			continue
		}
		sum += v
	}
	if err := result.Err(); err != nil {
		return 0, fmt.Errorf("sum query for %s %s: %w", sel.Tag, sel.ID, err)
	}
	return sum, nil
}

// QueryAvg returns the mean of each field over the selected window. Fields
// without samples map to nil.
func (c *Client) QueryAvg(ctx context.Context, sel Selector, fields ...string) (map[string]*float64, error) {
	out := make(map[string]*float64, len(fields))
	for _, f := range fields {
		out[f] = nil
	}

	result, err := c.query.Query(ctx, MeanQuery(sel, fields...))
	if err != nil {
		return nil, fmt.Errorf("mean query for %s %s: %w", sel.Tag, sel.ID, err)
	}
	defer result.Close()

	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		if _, wanted := out[rec.Field()]; wanted {
			out[rec.Field()] = &v
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("mean query for %s %s: %w", sel.Tag, sel.ID, err)
	}
	return out, nil
}

// WriteUplink records a raw uplink sample
func (c *Client) WriteUplink(ctx context.Context, p UplinkPoint) error {
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	point := influxdb2.NewPoint(uplinkMeasurement,
		map[string]string{
			"device_id":  p.DeviceEUI,
			"gateway_id": p.GatewayEUI,
		},
		map[string]interface{}{
			"f_cnt": p.FCnt,
			"rssi":  p.RSSI,
			"snr":   p.SNR,
		},
		ts)

	if err := c.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write uplink of %s: %w", p.DeviceEUI, err)
	}
	return nil
}

// Close releases the client resources
func (c *Client) Close() {
	c.client.Close()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
