// Package metrics aggregates probe outcomes over one batch and prints a
// tuning report for the probe settings.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

const classTimeout = "Timeout"

type Collector struct {
	mu sync.Mutex

	// successful probes only
	latencies []time.Duration

	successByAttempt map[int]int
	totalSuccess     int

	errorCounts   map[string]int
	totalErrors   int
	timeoutErrors int
}

func New() *Collector {
	return &Collector{
		successByAttempt: make(map[int]int),
		errorCounts:      make(map[string]int),
	}
}

// RecordSuccess stores a probe that succeeded on the given zero-based attempt.
func (c *Collector) RecordSuccess(attempt int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latencies = append(c.latencies, latency)
	c.successByAttempt[attempt]++
	c.totalSuccess++
}

func (c *Collector) RecordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalErrors++
	class := Classify(err)
	if class == classTimeout {
		c.timeoutErrors++
	}
	c.errorCounts[class]++
}

// Classify buckets a probe error by its message.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return classTimeout
	case strings.Contains(msg, "refused"):
		return "Conn Refused"
	case strings.Contains(msg, "reset"):
		return "Conn Reset"
	case strings.Contains(msg, "EOF"):
		return "EOF / Empty"
	case strings.Contains(msg, "no such host"):
		return "DNS Error"
	case strings.Contains(msg, "status"):
		return "Bad Status"
	}
	return "Unknown"
}

type Summary struct {
	Success  int
	Failures int
	Timeouts int
	P50      time.Duration
	P90      time.Duration
	Average  time.Duration
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{Success: c.totalSuccess, Failures: c.totalErrors, Timeouts: c.timeoutErrors}
	if len(c.latencies) == 0 {
		return s
	}
	sorted := append([]time.Duration(nil), c.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.P50 = sorted[len(sorted)/2]
	s.P90 = sorted[int(float64(len(sorted))*0.9)]
	s.Average = average(sorted)
	return s
}

// PrintReport writes the latency distribution, retry efficiency and error
// classes with recommendations for probe.timeout and probe.retries.
func (c *Collector) PrintReport(out io.Writer, currentTimeout time.Duration, currentRetries int) {
	sum := c.Summary()

	c.mu.Lock()
	defer c.mu.Unlock()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(out, "\n📊 \033[1mPROBE REPORT\033[0m")
	fmt.Fprintln(out, "────────────────────────────────────────")

	if sum.Success > 0 {
		fmt.Fprintln(w, "\033[1;36m[ LATENCY (reachable nodes) ]\033[0m")
		fmt.Fprintf(w, "  Avg:\t%v\n", sum.Average)
		fmt.Fprintf(w, "  p50:\t%v\n", sum.P50)
		fmt.Fprintf(w, "  p90:\t%v\n", sum.P90)
		rec := sum.P90 + 500*time.Millisecond
		fmt.Fprintf(w, "  💡 Recommendation:\tSet 'probe.timeout' to ~%s (Current: %s)\n", rec.Round(time.Second), currentTimeout)
		fmt.Fprintln(w, "")
	}

	fmt.Fprintln(w, "\033[1;36m[ RETRY EFFICIENCY ]\033[0m")
	if c.totalSuccess > 0 {
		fmt.Fprintf(w, "  Reachable:\t%d\n", c.totalSuccess)
		needed := currentRetries
		acc := 0.0
		for i := 0; i <= currentRetries; i++ {
			n := c.successByAttempt[i]
			fmt.Fprintf(w, "  Succeeded on try %d:\t%d (%.1f%%)\n", i+1, n, float64(n)/float64(c.totalSuccess)*100)
			acc += float64(n) / float64(c.totalSuccess)
			if acc > 0.98 && needed == currentRetries {
				needed = i
			}
		}
		fmt.Fprintf(w, "  💡 Recommendation:\tSet 'probe.retries' to %d (Current: %d)\n", needed, currentRetries)
	} else {
		fmt.Fprintln(w, "  No reachable nodes.")
	}
	fmt.Fprintln(w, "")

	fmt.Fprintln(w, "\033[1;36m[ ERRORS ]\033[0m")
	fmt.Fprintf(w, "  Total failures:\t%d\n", c.totalErrors)
	if c.totalErrors > 0 {
		pct := float64(c.timeoutErrors) / float64(c.totalErrors) * 100
		fmt.Fprintf(w, "  Timeouts:\t%d (%.1f%%)\n", c.timeoutErrors, pct)

		classes := make([]string, 0, len(c.errorCounts))
		for k := range c.errorCounts {
			if k != classTimeout {
				classes = append(classes, k)
			}
		}
		sort.Strings(classes)
		for _, k := range classes {
			fmt.Fprintf(w, "  %s:\t%d\n", k, c.errorCounts[k])
		}
		if pct > 70 {
			fmt.Fprintln(w, "  ⚠️  Most failures are timeouts: the upstream network may be congested,")
			fmt.Fprintln(w, "  or 'probe.timeout' is too tight.")
		}
	}
	w.Flush()
	fmt.Fprintln(out, "")
}

func average(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return time.Duration(int64(sum) / int64(len(d)))
}
