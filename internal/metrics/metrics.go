package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and token jobs.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsTotal        = make(map[string]int64)
	jobsResumedTotal int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJob increments the counter of finished token jobs by outcome
// ("done" or "error").
func RecordJob(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	jobsTotal[outcome]++
}

// RecordJobsResumed adds to the counter of jobs relaunched at startup.
func RecordJobsResumed(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	jobsResumedTotal += n
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP tokenmill_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE tokenmill_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "tokenmill_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP tokenmill_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE tokenmill_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP tokenmill_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE tokenmill_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "tokenmill_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "tokenmill_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	// Token job metrics
	b.WriteString("# HELP tokenmill_jobs_total Total finished token jobs by outcome\n")
	b.WriteString("# TYPE tokenmill_jobs_total counter\n")

	var outcomes []string
	for o := range jobsTotal {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "tokenmill_jobs_total{outcome=\"%s\"} %d\n", o, jobsTotal[o])
	}

	b.WriteString("# HELP tokenmill_jobs_resumed_total Total jobs relaunched at startup\n")
	b.WriteString("# TYPE tokenmill_jobs_resumed_total counter\n")
	fmt.Fprintf(&b, "tokenmill_jobs_resumed_total %d\n", jobsResumedTotal)

	return b.String()
}
