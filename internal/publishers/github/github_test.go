package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"subforge/internal/model"
)

func TestPublish_CreatesThenUpdates(t *testing.T) {
	var (
		stored atomic.Value
		sha    atomic.Value
		puts   atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/me/subs/contents/out/config.json" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tkn" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			if v, _ := sha.Load().(string); v != "" {
				json.NewEncoder(w).Encode(fileResponse{Sha: v})
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			var req fileRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			prev, _ := sha.Load().(string)
			if req.Sha != prev {
				w.WriteHeader(http.StatusConflict)
				return
			}
			data, _ := base64.StdEncoding.DecodeString(req.Content)
			stored.Store(string(data))
			sha.Store("sha-" + string(rune('0'+puts.Add(1))))
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	cfg := &model.SynthesizedConfig{Outbounds: []*model.Outbound{{Type: model.TypeDirect, Tag: model.TagDirect}}}
	params := map[string]interface{}{
		"token":   "tkn",
		"owner":   "me",
		"repo":    "subs",
		"path":    "/out/config.json",
		"api_url": srv.URL + "/",
	}
	p := &Publisher{client: srv.Client()}

	for i := 0; i < 2; i++ {
		if err := p.Publish(context.Background(), cfg, params); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if puts.Load() != 2 {
		t.Errorf("puts = %d", puts.Load())
	}
	if got, _ := stored.Load().(string); !strings.Contains(got, `"direct"`) {
		t.Errorf("stored = %q", got)
	}
}

func TestPublish_MissingParams(t *testing.T) {
	p := &Publisher{}
	err := p.Publish(context.Background(), &model.SynthesizedConfig{}, map[string]interface{}{"owner": "me"})
	if err == nil {
		t.Error("expected error for missing token/repo/path")
	}
}

func TestPublish_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &Publisher{client: srv.Client()}
	err := p.Publish(context.Background(), &model.SynthesizedConfig{}, map[string]interface{}{
		"token": "t", "owner": "o", "repo": "r", "path": "p", "api_url": srv.URL,
	})
	if err == nil || !strings.Contains(err.Error(), "lookup") {
		t.Errorf("err = %v", err)
	}
}
