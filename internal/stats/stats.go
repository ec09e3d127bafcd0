// Package stats emits the per-daemon metrics files: a JSON snapshot and
// a Prometheus text-format snapshot, both written atomically to
// statsdir. Nothing is served over HTTP; the files are the interface,
// scraped by an external collector.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/neicnordic/endit/internal/stage"
)

// Writer owns one private registry per daemon process. A private
// registry rather than the default global one: three daemons share the
// binary and must not collide on metric names.
type Writer struct {
	registry  *prometheus.Registry
	labeled   prometheus.Registerer
	statsDir  string
	shortDesc string
	component string

	Counters map[string]prometheus.Counter
	Gauges   map[string]prometheus.Gauge
}

// New creates a Writer whose metrics all carry an hsm="<shortDesc>"
// label, alongside the usual component identity.
func New(statsDir, shortDesc, component string) *Writer {
	registry := prometheus.NewRegistry()
	labeled := prometheus.WrapRegistererWith(prometheus.Labels{"hsm": shortDesc}, registry)

	return &Writer{
		registry:  registry,
		labeled:   labeled,
		statsDir:  statsDir,
		shortDesc: shortDesc,
		component: component,
		Counters:  make(map[string]prometheus.Counter),
		Gauges:    make(map[string]prometheus.Gauge),
	}
}

// Counter registers (or returns the existing) named counter.
func (w *Writer) Counter(name, help string) prometheus.Counter {
	if c, ok := w.Counters[name]; ok {
		return c
	}
	c := promauto.With(w.labeled).NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	w.Counters[name] = c
	return c
}

// Gauge registers (or returns the existing) named gauge.
func (w *Writer) Gauge(name, help string) prometheus.Gauge {
	if g, ok := w.Gauges[name]; ok {
		return g
	}
	g := promauto.With(w.labeled).NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	w.Gauges[name] = g
	return g
}

// snapshot is the JSON rendering of every registered counter/gauge.
type snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	HSM       string             `json:"hsm"`
	Component string             `json:"component"`
	Counters  map[string]float64 `json:"counters"`
	Gauges    map[string]float64 `json:"gauges"`
}

// Flush writes both the JSON and Prometheus text snapshots to
// <statsdir>/<shortdesc>-<component>-stats.{json,prom}, each via
// stage.AtomicWriteFile so readers never observe a half-written file.
func (w *Writer) Flush(now time.Time) error {
	if err := os.MkdirAll(w.statsDir, 0o755); err != nil {
		return fmt.Errorf("creating stats directory: %w", err)
	}
	snap := snapshot{
		Timestamp: now,
		HSM:       w.shortDesc,
		Component: w.component,
		Counters:  make(map[string]float64, len(w.Counters)),
		Gauges:    make(map[string]float64, len(w.Gauges)),
	}
	for name, c := range w.Counters {
		var m dto.Metric
		if err := c.Write(&m); err != nil {
			return fmt.Errorf("reading counter %q: %w", name, err)
		}
		snap.Counters[name] = m.GetCounter().GetValue()
	}
	for name, g := range w.Gauges {
		var m dto.Metric
		if err := g.Write(&m); err != nil {
			return fmt.Errorf("reading gauge %q: %w", name, err)
		}
		snap.Gauges[name] = m.GetGauge().GetValue()
	}

	jsonBytes, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling stats snapshot: %w", err)
	}
	jsonPath := stage.Path(w.statsDir, "", fmt.Sprintf("%s-%s-stats.json", w.shortDesc, w.component))
	if err := stage.AtomicWriteFile(jsonPath, jsonBytes, 0o644); err != nil {
		return fmt.Errorf("writing json stats: %w", err)
	}

	families, err := w.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metric families: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding metric family %q: %w", mf.GetName(), err)
		}
	}
	promPath := stage.Path(w.statsDir, "", fmt.Sprintf("%s-%s-stats.prom", w.shortDesc, w.component))
	if err := stage.AtomicWriteFile(promPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing prometheus stats: %w", err)
	}
	return nil
}
