package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// httpKey 标识一条 HTTP 指标序列。code 为空时表示延迟序列。
type httpKey struct {
	handler string
	method  string
	code    string
}

// 只读 API 的请求都很轻，桶的上界压在秒级以内。
var latencyBounds = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

type latencySeries struct {
	counts []uint64
	sum    float64
	total  uint64
}

func (s *latencySeries) observe(seconds float64) {
	s.total++
	s.sum += seconds
	for i := len(latencyBounds) - 1; i >= 0; i-- {
		if seconds > latencyBounds[i] {
			break
		}
		s.counts[i]++
	}
}

type httpCollector struct {
	mu       sync.Mutex
	requests map[httpKey]uint64
	latency  map[httpKey]*latencySeries
}

var httpMetrics = &httpCollector{
	requests: make(map[httpKey]uint64),
	latency:  make(map[httpKey]*latencySeries),
}

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpMetrics.mu.Lock()
	defer httpMetrics.mu.Unlock()

	httpMetrics.requests[httpKey{handler, method, strconv.Itoa(status)}]++

	key := httpKey{handler: handler, method: method}
	series := httpMetrics.latency[key]
	if series == nil {
		series = &latencySeries{counts: make([]uint64, len(latencyBounds))}
		httpMetrics.latency[key] = series
	}
	series.observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式暴露全部指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpMetrics.render())
		_, _ = fmt.Fprint(w, orchestration.render())
	})
}

func (c *httpCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	b.WriteString("# HELP covault_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE covault_http_requests_total counter\n")
	for _, key := range sortedHTTPKeys(c.requests) {
		fmt.Fprintf(&b, "covault_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key])
	}

	keys := make([]httpKey, 0, len(c.latency))
	for key := range c.latency {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	b.WriteString("# HELP covault_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE covault_http_request_duration_seconds histogram\n")
	for _, key := range keys {
		series := c.latency[key]
		labels := fmt.Sprintf("handler=%q,method=%q", escape(key.handler), escape(key.method))
		for i, bound := range latencyBounds {
			fmt.Fprintf(&b, "covault_http_request_duration_seconds_bucket{%s,le=%q} %d\n",
				labels, formatFloat(bound), series.counts[i])
		}
		fmt.Fprintf(&b, "covault_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, series.total)
		fmt.Fprintf(&b, "covault_http_request_duration_seconds_sum{%s} %s\n", labels, formatFloat(series.sum))
		fmt.Fprintf(&b, "covault_http_request_duration_seconds_count{%s} %d\n", labels, series.total)
	}

	return b.String()
}

func (k httpKey) less(other httpKey) bool {
	if k.handler != other.handler {
		return k.handler < other.handler
	}
	if k.method != other.method {
		return k.method < other.method
	}
	return k.code < other.code
}

func sortedHTTPKeys(m map[httpKey]uint64) []httpKey {
	keys := make([]httpKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
