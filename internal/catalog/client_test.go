package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeLibrary serves /Users and /Items with canned responses, recording the
// filter used for each /Items query.
func fakeLibrary(t *testing.T, byGenre, byTag []map[string]any) (*httptest.Server, *[]string) {
	t.Helper()
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Users":
			if r.Header.Get("X-Emby-Token") != "key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode([]map[string]string{{"Id": "u1"}})
		case "/Items":
			q := r.URL.Query()
			var items []map[string]any
			if q.Get("Genres") != "" {
				filters = append(filters, "genre:"+q.Get("Genres"))
				items = byGenre
			} else {
				filters = append(filters, "tag:"+q.Get("Tags"))
				items = byTag
			}
			json.NewEncoder(w).Encode(map[string]any{"Items": items})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &filters
}

func TestClient_ListItems_genreHit(t *testing.T) {
	srv, filters := fakeLibrary(t, []map[string]any{
		{"Id": "a", "Name": "Show A", "Path": "/media/a.mkv", "RunTimeTicks": int64(3000000000)},
		{"Id": "a", "Name": "Show A", "Path": "/media/a.mkv", "RunTimeTicks": int64(3000000000)},
		{"Id": "b", "Name": "Show B", "RunTimeTicks": int64(6000000000),
			"MediaSources": []map[string]string{{"Path": "/media/b.mkv"}}},
	}, nil)

	c := NewClient(srv.URL, "key", testLogger())
	items, err := c.ListItems(context.Background(), "cartoons")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 deduplicated items, got %d", len(items))
	}
	if items[0].DurationSeconds != 300 {
		t.Errorf("ticks conversion: want 300s, got %d", items[0].DurationSeconds)
	}
	if items[1].Path != "/media/b.mkv" {
		t.Errorf("media source fallback path: got %q", items[1].Path)
	}
	if len(*filters) != 1 || (*filters)[0] != "genre:cartoons" {
		t.Errorf("expected single genre query, got %v", *filters)
	}
}

func TestClient_ListItems_tagFallback(t *testing.T) {
	srv, filters := fakeLibrary(t, nil, []map[string]any{
		{"Id": "c", "Name": "Tagged", "Path": "/media/c.mkv", "RunTimeTicks": int64(3000000000)},
	})

	c := NewClient(srv.URL, "key", testLogger())
	items, err := c.ListItems(context.Background(), "retro")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "c" {
		t.Fatalf("expected tag fallback item, got %v", items)
	}
	want := []string{"genre:retro", "tag:retro"}
	if len(*filters) != 2 || (*filters)[0] != want[0] || (*filters)[1] != want[1] {
		t.Errorf("query order: got %v, want %v", *filters, want)
	}
}

func TestClient_ListItems_dropsUnplayable(t *testing.T) {
	srv, _ := fakeLibrary(t, []map[string]any{
		{"Id": "nopath", "Name": "No Path", "RunTimeTicks": int64(3000000000)},
		{"Id": "nodur", "Name": "No Duration", "Path": "/media/x.mkv"},
	}, nil)

	c := NewClient(srv.URL, "key", testLogger())
	items, err := c.ListItems(context.Background(), "cartoons")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("unplayable items should be dropped, got %v", items)
	}
}

func TestClient_ListItems_serverDown(t *testing.T) {
	srv, _ := fakeLibrary(t, nil, nil)
	url := srv.URL
	srv.Close()

	c := NewClient(url, "key", testLogger())
	if _, err := c.ListItems(context.Background(), "cartoons"); err == nil {
		t.Error("expected error when library is unreachable")
	}
}
