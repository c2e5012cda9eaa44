package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lineartv/internal/channel"
	"lineartv/internal/guide"
	"lineartv/internal/platform/config"
	"lineartv/internal/schedule"
)

type stubStation struct {
	health []channel.Health
	guides []guide.ChannelGuide
}

func (s *stubStation) Health() []channel.Health { return s.health }

func (s *stubStation) UpCount() int {
	n := 0
	for _, h := range s.health {
		if h.Healthy {
			n++
		}
	}
	return n
}

func (s *stubStation) Guides() []guide.ChannelGuide { return s.guides }

func testChannels() []config.Channel {
	return []config.Channel{
		{ID: "retro", Name: "Retro TV"},
		{ID: "movies", Name: "Movie Night"},
	}
}

func newTestHandler(t *testing.T, station *stubStation, mediaDir string) *Handler {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandler(station, testChannels(), "http://station.local:8080", mediaDir, log, nil)
}

func get(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func upStation() *stubStation {
	return &stubStation{health: []channel.Health{
		{ID: "retro", Name: "Retro TV", State: "running", Healthy: true, Restarts: 1},
		{ID: "movies", Name: "Movie Night", State: "failed"},
	}}
}

func TestHandler_Index(t *testing.T) {
	rec := get(t, newTestHandler(t, upStation(), t.TempDir()), "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"2 channels",
		"http://station.local:8080/channels.m3u",
		"http://station.local:8080/retro/channel.m3u8",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q in:\n%s", want, body)
		}
	}
}

func TestHandler_PlaylistM3U(t *testing.T) {
	rec := get(t, newTestHandler(t, upStation(), t.TempDir()), "/channels.m3u")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != manifestContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U\n") {
		t.Errorf("playlist missing header:\n%s", body)
	}
	if !strings.Contains(body, "http://station.local:8080/movies/channel.m3u8") {
		t.Errorf("playlist missing channel URL:\n%s", body)
	}
}

func TestHandler_GuideXMLTV(t *testing.T) {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	station := upStation()
	station.guides = []guide.ChannelGuide{{
		ID:   "retro",
		Name: "Retro TV",
		Documents: []*schedule.Document{
			{ChannelID: "retro", Date: "2026-08-31", Blocks: []schedule.Block{
				{Kind: schedule.BlockContent, Title: "Stale Show", Start: day.Add(-24 * time.Hour), End: day.Add(-23 * time.Hour)},
			}},
			{ChannelID: "retro", Date: "2026-09-01", Blocks: []schedule.Block{
				{Kind: schedule.BlockContent, Title: "Morning Show", Start: day, End: day.Add(time.Hour)},
			}},
		},
	}}

	h := newTestHandler(t, station, t.TempDir())
	h.now = func() time.Time { return day.Add(12 * time.Hour) }
	rec := get(t, h, "/epg.xml")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<title>Morning Show</title>") {
		t.Errorf("guide missing current programme:\n%s", body)
	}
	if strings.Contains(body, "Stale Show") {
		t.Errorf("guide published a finished day:\n%s", body)
	}
}

func TestHandler_HealthSummary(t *testing.T) {
	rec := get(t, newTestHandler(t, upStation(), t.TempDir()), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with one channel up, got %d", rec.Code)
	}

	var summary map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["channels_up"] != 1 || summary["channels_total"] != 2 {
		t.Errorf("unexpected summary %v", summary)
	}
}

func TestHandler_HealthSummary_allDown(t *testing.T) {
	station := &stubStation{health: []channel.Health{{ID: "retro", State: "failed"}}}
	rec := get(t, newTestHandler(t, station, t.TempDir()), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no channels up, got %d", rec.Code)
	}
}

func TestHandler_HealthChannels(t *testing.T) {
	rec := get(t, newTestHandler(t, upStation(), t.TempDir()), "/health/channels")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var detail []channel.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail) != 2 || detail[0].State != "running" || detail[1].State != "failed" {
		t.Errorf("unexpected detail %+v", detail)
	}
}

func TestHandler_StreamFile(t *testing.T) {
	mediaDir := t.TempDir()
	chDir := filepath.Join(mediaDir, "retro")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(chDir, "channel.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newTestHandler(t, upStation(), mediaDir)

	rec := get(t, h, "/retro/channel.m3u8")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != manifestContentType {
		t.Errorf("unexpected content type %q", ct)
	}

	cases := []struct {
		name string
		path string
	}{
		{"unknown channel", "/nochannel/channel.m3u8"},
		{"missing segment", "/retro/segment_99999.ts"},
		{"traversal", "/retro/..%2Fsecret.txt"},
		{"wrong extension", "/retro/secret.txt"},
		{"hidden file", "/retro/.hidden.ts"},
	}
	for _, tc := range cases {
		rec := get(t, h, tc.path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 for %s, got %d", tc.name, tc.path, rec.Code)
		}
	}
}
