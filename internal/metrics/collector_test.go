package metrics

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "Timeout"},
		{errors.New("dial tcp: i/o timeout"), "Timeout"},
		{errors.New("connect: connection refused"), "Conn Refused"},
		{errors.New("read: connection reset by peer"), "Conn Reset"},
		{errors.New("unexpected EOF"), "EOF / Empty"},
		{errors.New("lookup x: no such host"), "DNS Error"},
		{errors.New("delay test status: 502"), "Bad Status"},
		{errors.New("weird"), "Unknown"},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestCollector_Report(t *testing.T) {
	c := New()
	for i := 1; i <= 10; i++ {
		c.RecordSuccess(0, time.Duration(i)*100*time.Millisecond)
	}
	c.RecordSuccess(1, 2*time.Second)
	c.RecordFailure(context.DeadlineExceeded)
	c.RecordFailure(errors.New("connection refused"))

	s := c.Summary()
	if s.Success != 11 || s.Failures != 2 || s.Timeouts != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.P50 != 600*time.Millisecond {
		t.Errorf("p50 = %v", s.P50)
	}

	var buf bytes.Buffer
	c.PrintReport(&buf, 5*time.Second, 1)
	out := buf.String()
	for _, want := range []string{"PROBE REPORT", "probe.timeout", "probe.retries", "Conn Refused"} {
		if !strings.Contains(out, want) {
			t.Errorf("report lacks %q:\n%s", want, out)
		}
	}
}
