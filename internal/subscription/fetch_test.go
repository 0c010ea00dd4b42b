package subscription

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

const ssLink = "ss://YWVzLTI1Ni1nY206cGFzcw==@1.2.3.4:8388#MyNode"

func TestStrategy_IdentityFallback(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		mu.Lock()
		seen = append(seen, ua)
		mu.Unlock()
		switch ua {
		case "first":
			http.Error(w, "forbidden", http.StatusForbidden)
		case "second":
			w.Write([]byte("<html>not a subscription</html>"))
		default:
			w.Write([]byte(ssLink))
		}
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(5*time.Second, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	s := &Strategy{Fetcher: f, Identities: []Identity{
		{Name: "a", Headers: map[string]string{"User-Agent": "first"}},
		{Name: "b", Headers: map[string]string{"User-Agent": "second"}},
		{Name: "c", Headers: map[string]string{"User-Agent": "third"}},
		{Name: "d", Headers: map[string]string{"User-Agent": "fourth"}},
	}}

	cfg, err := s.FetchAndParse(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchAndParse: %v", err)
	}
	if cfg.Outbounds[0].Tag != "MyNode" {
		t.Errorf("first tag = %q", cfg.Outbounds[0].Tag)
	}
	if len(seen) != 3 || seen[2] != "third" {
		t.Errorf("identities tried = %v", seen)
	}
}

func TestStrategy_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(5*time.Second, "", 0)
	s := &Strategy{Fetcher: f}
	_, err := s.FetchAndParse(context.Background(), srv.URL)

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fe.Kind != KindHTTPStatus || fe.Status != http.StatusBadGateway {
		t.Errorf("fetch error = %+v", fe)
	}
	if fe.Identity != "browser" {
		t.Errorf("last identity = %q", fe.Identity)
	}
}

func TestHTTPFetcher_Zstd(t *testing.T) {
	var buf bytes.Buffer
	enc, _ := zstd.NewWriter(&buf)
	enc.Write([]byte(ssLink))
	enc.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(5*time.Second, "", 0)
	status, body, err := f.Fetch(context.Background(), srv.URL, nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("Fetch = %d, %v", status, err)
	}
	if string(body) != ssLink {
		t.Errorf("body = %q", body)
	}
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(5*time.Second, "", 1024)
	if _, _, err := f.Fetch(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("expected size error")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}, KindDNS},
		{"dns timeout", &net.DNSError{Err: "timeout", IsTimeout: true}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, KindTimeout},
		{"tls text", errors.New("remote error: tls: handshake failure"), KindTLS},
		{"x509 text", errors.New("x509: certificate signed by unknown authority"), KindTLS},
		{"refused", errors.New("connect: connection refused"), KindGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFetchError_UserMessageDistinct(t *testing.T) {
	seen := map[string]ErrorKind{}
	for _, k := range []ErrorKind{KindTimeout, KindDNS, KindTLS, KindHTTPStatus, KindGeneric} {
		msg := (&FetchError{Kind: k, Status: 500}).UserMessage()
		if prev, ok := seen[msg]; ok {
			t.Errorf("%s and %s share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}
