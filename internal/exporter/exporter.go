// Package exporter serves the meter state over HTTP: Prometheus metrics on
// /metrics and a JSON snapshot on /status.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticd/internal/meter"
)

// SnapshotFunc returns the current meter snapshot. The collector calls it
// on every scrape, so metrics are always as fresh as the last decoded
// frame.
type SnapshotFunc func() meter.Snapshot

// StatusFunc returns the full status document for /status. May be nil, in
// which case /status serves the meter snapshot alone.
type StatusFunc func() any

// Collector exposes the meter snapshot as Prometheus metrics. Numeric
// readings become gauges keyed by TIC label; decode counters become
// counters.
type Collector struct {
	snapshot SnapshotFunc

	readingDesc  *prometheus.Desc
	framesDesc   *prometheus.Desc
	datasetsDesc *prometheus.Desc
	errorsDesc   *prometheus.Desc
	maxFrameDesc *prometheus.Desc
}

func NewCollector(snapshot SnapshotFunc) *Collector {
	return &Collector{
		snapshot: snapshot,
		readingDesc: prometheus.NewDesc(
			"tic_reading",
			"Last value of a numeric TIC dataset, keyed by label.",
			[]string{"label", "unit"}, nil,
		),
		framesDesc: prometheus.NewDesc(
			"tic_frames_total",
			"Completed TIC frames.",
			nil, nil,
		),
		datasetsDesc: prometheus.NewDesc(
			"tic_datasets_total",
			"Extracted TIC datasets, any outcome.",
			nil, nil,
		),
		errorsDesc: prometheus.NewDesc(
			"tic_decode_errors_total",
			"Datasets rejected by the decoder, by reason.",
			[]string{"reason"}, nil,
		),
		maxFrameDesc: prometheus.NewDesc(
			"tic_max_frame_bytes",
			"Largest frame payload over the recent history window.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.readingDesc
	ch <- c.framesDesc
	ch <- c.datasetsDesc
	ch <- c.errorsDesc
	ch <- c.maxFrameDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	for label, r := range snap.Readings {
		if !r.Numeric {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			c.readingDesc, prometheus.GaugeValue,
			float64(r.Value), label, unitName(meter.UnitFor(label)),
		)
	}

	ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.CounterValue, float64(snap.Counters.Frames))
	ch <- prometheus.MustNewConstMetric(c.datasetsDesc, prometheus.CounterValue, float64(snap.Counters.Datasets))
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(snap.Counters.Malformed), "malformed")
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(snap.Counters.WrongCRC), "wrong_crc")
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(snap.Counters.InvalidHorodate), "invalid_horodate")
	ch <- prometheus.MustNewConstMetric(c.maxFrameDesc, prometheus.GaugeValue, float64(snap.MaxFrame))
}

func unitName(u meter.Unit) string {
	switch u {
	case meter.UnitWh:
		return "Wh"
	case meter.UnitVA:
		return "VA"
	case meter.UnitA:
		return "A"
	case meter.UnitV:
		return "V"
	default:
		return ""
	}
}

// Handler builds the HTTP mux: /metrics (Prometheus) and /status (JSON).
func Handler(snapshot SnapshotFunc, status StatusFunc) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(snapshot)); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var doc any = snapshot()
		if status != nil {
			doc = status()
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})
	return mux, nil
}

// Serve runs the HTTP server until ctx is done, then shuts it down
// gracefully.
func Serve(ctx context.Context, listen string, handler http.Handler) error {
	srv := &http.Server{Addr: listen, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
