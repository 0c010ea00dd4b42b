package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subforge/internal/model"
)

func cfgWith(tags ...string) *model.Config {
	cfg := &model.Config{}
	for _, tag := range tags {
		cfg.Outbounds = append(cfg.Outbounds, &model.Outbound{
			Type: model.TypeTrojan, Tag: tag, Server: "t.example.com", ServerPort: 443, Password: "p",
		})
	}
	return cfg
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Add(model.Profile{Name: "Work", Type: model.ProfileSubscription, Enabled: true}, cfgWith("a", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Fatal("expected generated id")
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Profile(p.ID)
	if err != nil || got.Name != "Work" {
		t.Fatalf("Profile = %+v, %v", got, err)
	}
	if active, _ := reopened.Active(); active != p.ID {
		t.Errorf("first profile should become active, got %q", active)
	}
	cfg, err := reopened.Config(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(cfg.Tags(), ",") != "a,b" {
		t.Errorf("tags = %v", cfg.Tags())
	}
}

func TestStore_ConfigIsPrivateCopy(t *testing.T) {
	s, _ := Open(t.TempDir())
	p, _ := s.Add(model.Profile{Name: "x"}, cfgWith("a"))

	cfg, _ := s.Config(p.ID)
	cfg.Outbounds[0].Tag = "mutated"

	again, _ := s.Config(p.ID)
	if again.Outbounds[0].Tag != "a" {
		t.Errorf("cache entry was mutated through a returned copy")
	}
}

func TestStore_LRU(t *testing.T) {
	s, _ := Open(t.TempDir())
	var ids []string
	for _, name := range []string{"one", "two", "three"} {
		p, err := s.Add(model.Profile{Name: name}, cfgWith(name))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}
	if got := s.Cached(); len(got) != CacheSize || got[0] != ids[1] || got[1] != ids[2] {
		t.Fatalf("cached = %v, want last two of %v", got, ids)
	}

	// Reading the evicted profile brings it back and pushes out the oldest.
	if _, err := s.Config(ids[0]); err != nil {
		t.Fatal(err)
	}
	if got := s.Cached(); got[0] != ids[2] || got[1] != ids[0] {
		t.Errorf("cached = %v", got)
	}
}

func TestStore_Delete(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	a, _ := s.Add(model.Profile{Name: "a"}, cfgWith("a"))
	b, _ := s.Add(model.Profile{Name: "b"}, cfgWith("b"))

	if err := s.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	if active, _ := s.Active(); active != b.ID {
		t.Errorf("active = %q, want %q", active, b.ID)
	}
	if _, err := s.Config(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Config after delete err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "profiles", a.ID+".json")); !os.IsNotExist(err) {
		t.Errorf("document still on disk: %v", err)
	}
	if err := s.Delete(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}

func TestStore_FailedIndexWriteKeepsState(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	a, _ := s.Add(model.Profile{Name: "a"}, cfgWith("a"))
	b, _ := s.Add(model.Profile{Name: "b"}, cfgWith("b"))
	if err := s.SetActiveNode("node-1"); err != nil {
		t.Fatal(err)
	}

	index := filepath.Join(dir, "profiles.json")
	if err := os.Remove(index); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(index, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(a.ID); err == nil {
		t.Error("Delete should fail")
	}
	if _, err := s.Update(b.ID, func(p *model.Profile) { p.Name = "renamed" }); err == nil {
		t.Error("Update should fail")
	}
	if err := s.SetActive(b.ID); err == nil {
		t.Error("SetActive should fail")
	}
	if err := s.SetActiveNode("node-2"); err == nil {
		t.Error("SetActiveNode should fail")
	}
	if _, err := s.Add(model.Profile{Name: "c"}, cfgWith("c")); err == nil {
		t.Error("Add should fail")
	}

	got := s.Profiles()
	if len(got) != 2 || got[0].ID != a.ID || got[1].Name != "b" {
		t.Errorf("profiles changed: %+v", got)
	}
	if active, node := s.Active(); active != a.ID || node != "node-1" {
		t.Errorf("active = %q/%q", active, node)
	}
	if _, err := s.Config(a.ID); err != nil {
		t.Errorf("document of a lost: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "profiles"))
	if len(entries) != 2 {
		t.Errorf("profile documents = %d, want 2", len(entries))
	}
}

func TestStore_TolerantLoad(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	p, _ := s.Add(model.Profile{Name: "x"}, cfgWith("a"))

	// Hand-edited document: comment and a string port.
	doc := `{
  // edited
  "outbounds": [{"type": "trojan", "tag": "edited", "server": "h", "server_port": "8443", "password": "p"}]
}`
	if err := os.WriteFile(filepath.Join(dir, "profiles", p.ID+".json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	fresh, _ := Open(dir)
	cfg, err := fresh.Config(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Outbounds[0].Tag != "edited" || cfg.Outbounds[0].ServerPort != 8443 {
		t.Errorf("outbound = %+v", cfg.Outbounds[0])
	}
}

func TestStore_BrokenDocumentIsIsolated(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	bad, _ := s.Add(model.Profile{Name: "bad"}, cfgWith("a"))
	good, _ := s.Add(model.Profile{Name: "good"}, cfgWith("b"))
	os.WriteFile(filepath.Join(dir, "profiles", bad.ID+".json"), []byte("{not json"), 0o644)

	fresh, _ := Open(dir)
	if _, err := fresh.Config(bad.ID); err == nil {
		t.Error("expected parse error for broken document")
	}
	if _, err := fresh.Config(good.ID); err != nil {
		t.Errorf("good profile failed to load: %v", err)
	}
}

func TestStore_UpdatingResetOnOpen(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	p, _ := s.Add(model.Profile{Name: "x"}, cfgWith("a"))
	s.Update(p.ID, func(p *model.Profile) { p.UpdateStatus = model.StatusUpdating })

	fresh, _ := Open(dir)
	got, _ := fresh.Profile(p.ID)
	if got.UpdateStatus != model.StatusIdle {
		t.Errorf("status = %s, want idle", got.UpdateStatus)
	}
}
