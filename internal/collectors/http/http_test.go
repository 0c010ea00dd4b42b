package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subforge/internal/collectors"
	"subforge/internal/config"
	"subforge/internal/model"
	"subforge/internal/subscription"
)

func TestSubscriptionCollector(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("User-Agent") != "clash.meta" {
			w.WriteHeader(nethttp.StatusForbidden)
			return
		}
		w.Write([]byte("proxies:\n  - {name: HK 01, type: ss, server: 1.2.3.4, port: 8388, cipher: aes-128-gcm, password: p}\n"))
	}))
	defer srv.Close()

	c, err := collectors.Get(model.ProfileSubscription, config.FetchConfig{
		Timeout:    5 * time.Second,
		MaxBodyMB:  1,
		Identities: subscription.DefaultIdentities(),
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := c.Collect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if cfg.Find("HK 01") == nil {
		t.Errorf("tags = %v", cfg.Tags())
	}
}

func TestSubscriptionCollector_StatusError(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := New(config.FetchConfig{Timeout: time.Second, Identities: subscription.DefaultIdentities()[:1]})
	_, err := c.Collect(context.Background(), srv.URL)
	var fe *subscription.FetchError
	if !errors.As(err, &fe) || fe.Status != nethttp.StatusNotFound {
		t.Errorf("err = %v", err)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	if _, err := collectors.Get("ftp", config.FetchConfig{}); err == nil {
		t.Error("expected unknown collector error")
	}
}
