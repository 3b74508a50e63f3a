// Package export ships finalized experiment phases to external stores.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/malbeclabs/rttlab/internal/experiment"
)

const (
	MeasurementSample  = "rttlab_rtt_sample"
	MeasurementSummary = "rttlab_rtt_summary"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxConfigFromEnv reads INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET.
func InfluxConfigFromEnv() InfluxConfig {
	return InfluxConfig{
		URL:    os.Getenv("INFLUX_URL"),
		Token:  os.Getenv("INFLUX_TOKEN"),
		Org:    os.Getenv("INFLUX_ORG"),
		Bucket: os.Getenv("INFLUX_BUCKET"),
	}
}

// Enabled reports whether every setting needed to write to InfluxDB is present.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// NewInfluxWriteAPI connects to InfluxDB. The returned close func flushes pending points and
// closes the client.
func NewInfluxWriteAPI(cfg InfluxConfig) (influxdb2api.WriteAPI, func(), error) {
	if !cfg.Enabled() {
		return nil, nil, errors.New("influx url, token, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	return api, func() {
		api.Flush()
		client.Close()
	}, nil
}

// Influx writes one point per sample and one summary point per phase.
type Influx struct {
	log *slog.Logger
	api influxdb2api.WriteAPI
}

func NewInflux(log *slog.Logger, api influxdb2api.WriteAPI) (*Influx, error) {
	if log == nil {
		return nil, errors.New("log is nil")
	}
	if api == nil {
		return nil, errors.New("write api is nil")
	}
	return &Influx{log: log, api: api}, nil
}

func (e *Influx) Export(ctx context.Context, runID string, p *experiment.PhaseResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	phase := strings.ToLower(p.Name)
	tags := map[string]string{
		"run":   runID,
		"phase": phase,
	}

	for _, s := range p.Stream.All() {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = p.StartedAt
		}
		point := write.NewPoint(MeasurementSample, tags, map[string]any{
			"rtt_ms": s.RTT,
			"seq":    int64(s.Seq),
		}, ts)
		e.api.WritePoint(point)
	}

	ts := p.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := map[string]any{
		"samples":  int64(p.Stream.Len()),
		"fault":    p.Fault != nil,
		"rendered": p.RenderErr == nil,
	}
	if p.Summary != nil {
		fields["avg_ms"] = p.Summary.Average
		fields["min_ms"] = p.Summary.Minimum
		fields["max_ms"] = p.Summary.Maximum
		fields["stddev_ms"] = p.Summary.StdDev
	}
	e.api.WritePoint(write.NewPoint(MeasurementSummary, tags, fields, ts))

	e.log.Debug("Exported phase to influx", "run", runID, "phase", phase, "samples", p.Stream.Len())

	select {
	case err := <-e.api.Errors():
		return fmt.Errorf("influx write failed: %w", err)
	default:
		return nil
	}
}
