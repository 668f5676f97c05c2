package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// hubCounters are exposed at zero from the first scrape, before any envelope
// has been forwarded or dropped, so rate() queries have a baseline.
var hubCounters = []string{
	SignalForwarded,
	SignalUnknownTarget,
	SignalMalformed,
	SignalRateLimited,
}

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All internal counters ride on a single metric with an `event` label; the
// in-process registry stays a plain map while still being scrapable. peers,
// when non-nil, is sampled per scrape as a connected-peers gauge.
func PrometheusHandler(m *Metrics, peers func() int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		for _, name := range hubCounters {
			if _, ok := snap[name]; !ok {
				snap[name] = 0
			}
		}
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP lancall_signald_events_total Signaling hub event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE lancall_signald_events_total counter")
		for _, k := range keys {
			escaped := strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace(k)
			_, _ = fmt.Fprintf(w, "lancall_signald_events_total{event=\"%s\"} %d\n", escaped, snap[k])
		}
		if peers != nil {
			_, _ = fmt.Fprintln(w, "# HELP lancall_signald_connected_peers Peers currently registered with the hub.")
			_, _ = fmt.Fprintln(w, "# TYPE lancall_signald_connected_peers gauge")
			_, _ = fmt.Fprintf(w, "lancall_signald_connected_peers %d\n", peers())
		}
	})
}
