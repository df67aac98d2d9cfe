package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	keys := make([]requestKey, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	series := make(map[requestKey]*histogram, len(keys))
	for _, k := range keys {
		series[k] = m.durations[k]
	}
	gauges := append([]GaugeFunc(nil), m.gauges...)
	counters := append([]*Counter(nil), m.counters...)
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Route != keys[j].Route {
			return keys[i].Route < keys[j].Route
		}
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Status < keys[j].Status
	})

	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, k := range keys {
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", k.Method, k.Route, k.Status)
		writeHistogram(b, name, labels, series[k])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n", m.ActiveRequests())

	for _, g := range gauges {
		b.WriteByte('\n')
		fmt.Fprintf(b, "# HELP %s %s\n", g.Name, g.Help)
		fmt.Fprintf(b, "# TYPE %s gauge\n", g.Name)
		fmt.Fprintf(b, "%s %g\n", g.Name, g.Read())
	}

	for _, c := range counters {
		b.WriteByte('\n')
		fmt.Fprintf(b, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(b, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(b, "%s %d\n", c.name, c.Value())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, le := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, le, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
