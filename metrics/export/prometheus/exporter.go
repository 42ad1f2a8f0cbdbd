package prometheus

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

// Source is satisfied by *authcore.Engine.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	LedgerDropped() uint64
}

// Exporter renders engine metrics on demand; it keeps no state of its own.
type Exporter struct {
	source Source
}

func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = p.Encode(w)
	})
}

// Render returns the exposition text, or "" when metrics are disabled.
func (p *Exporter) Render() string {
	var buf bytes.Buffer
	_ = p.Encode(&buf)
	return buf.String()
}

// Encode writes the exposition text to w. Nothing is written when the
// source reports no metrics at all.
func (p *Exporter) Encode(w io.Writer) error {
	if p == nil || p.source == nil {
		return nil
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.LedgerDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return nil
	}

	ew := &errWriter{w: w}
	for _, def := range internaldefs.CounterDefs {
		counter(ew, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		histogram(ew, def.Name, def.Help, buckets)
	}
	counter(ew, internaldefs.LedgerDroppedName, "Login attempts dropped because the ledger queue was full.", dropped)
	return ew.err
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func header(w *errWriter, name, help, kind string) {
	w.printf("# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

func counter(w *errWriter, name, help string, value uint64) {
	header(w, name, help, "counter")
	w.printf("%s %d\n", name, value)
}

func histogram(w *errWriter, name, help string, cumulative [8]uint64) {
	header(w, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		w.printf("%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	w.printf("%s_count %d\n", name, cumulative[len(cumulative)-1])
	// no latency sum is tracked
	w.printf("%s_sum 0\n", name)
}

var helpEscaper = strings.NewReplacer("\\", "\\\\", "\n", "\\n")
