package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// WriteText writes every metric of r in Prometheus text exposition format.
// Names are sanitized (dots and dashes become underscores) and prefixed with
// namespace when it is not empty. Output is sorted by metric name.
func WriteText(w io.Writer, r *Registry, namespace string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range sortedKeys(r.counters) {
		pn := promName(namespace, name)
		writeHeader(&b, pn, "counter", name)
		fmt.Fprintf(&b, "%s %d\n", pn, r.counters[name].Value())
	}
	for _, name := range sortedKeys(r.gauges) {
		pn := promName(namespace, name)
		writeHeader(&b, pn, "gauge", name)
		fmt.Fprintf(&b, "%s %d\n", pn, r.gauges[name].Value())
	}
	for _, name := range sortedKeys(r.histograms) {
		h := r.histograms[name]
		pn := promName(namespace, name)
		writeHeader(&b, pn, "histogram", name)
		for k, n := range h.Buckets() {
			fmt.Fprintf(&b, "%s_bucket{le=\"%s\"} %d\n", pn, formatFloat(BucketBound(k)), n)
		}
		fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", pn, h.Count())
		fmt.Fprintf(&b, "%s_count %d\n", pn, h.Count())
		fmt.Fprintf(&b, "%s_sum %s\n", pn, formatFloat(h.Sum()))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// promName converts a dot-separated metric name to Prometheus format.
func promName(namespace, name string) string {
	sanitized := strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if namespace != "" {
		return namespace + "_" + sanitized
	}
	return sanitized
}

func writeHeader(b *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)
}

// formatFloat formats a float64 for Prometheus output, handling special values.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

// sortedKeys returns a sorted list of keys from a map of any metric type.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
