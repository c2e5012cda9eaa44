// Package server exposes the station's HTTP surface: stream files written by
// the transcoders, playlist and guide documents for IPTV clients, and health
// and metrics endpoints for operators.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"lineartv/internal/channel"
	"lineartv/internal/guide"
	"lineartv/internal/platform/config"
	"lineartv/internal/platform/metrics"
	"lineartv/internal/stream"

	"github.com/go-chi/chi/v5"
)

const (
	manifestContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	xmltvContentType    = "application/xml; charset=utf-8"
)

// Station is the view of the running channels the HTTP layer needs.
type Station interface {
	Health() []channel.Health
	UpCount() int
	Guides() []guide.ChannelGuide
}

// Handler exposes the station HTTP endpoints using go-chi.
type Handler struct {
	station  Station
	channels []config.Channel
	baseURL  string
	mediaDir string
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewHandler returns a Handler serving the given channels. mediaDir is the
// root under which each channel's transcoder writes its manifest and
// segments. Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(station Station, channels []config.Channel, baseURL, mediaDir string, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		station:  station,
		channels: channels,
		baseURL:  strings.TrimRight(baseURL, "/"),
		mediaDir: mediaDir,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Routes mounts every endpoint on a fresh router. Middleware is attached by
// the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Index)
	r.Get("/channels.m3u", h.PlaylistM3U)
	r.Get("/epg.xml", h.GuideXMLTV)
	r.Get("/health", h.HealthSummary)
	r.Get("/health/channels", h.HealthChannels)
	if h.metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			h.metrics.Handler(func() { h.metrics.SetChannelsUp(h.station.UpCount()) }).ServeHTTP(w, req)
		})
	}
	r.Get("/{channel}/{file}", h.StreamFile)
	return r
}

// Index handles GET /. A plain-text landing page so a curl against the root
// tells an operator what is running.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	fmt.Fprintf(&b, "lineartv: %d channels\n\n", len(h.channels))
	fmt.Fprintf(&b, "playlist: %s/channels.m3u\n", h.baseURL)
	fmt.Fprintf(&b, "guide:    %s/epg.xml\n\n", h.baseURL)
	for _, ch := range h.channels {
		fmt.Fprintf(&b, "  %s  %s/%s/%s\n", ch.Name, h.baseURL, ch.ID, stream.ManifestName)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(b.String()))
}

// PlaylistM3U handles GET /channels.m3u.
func (h *Handler) PlaylistM3U(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", manifestContentType)
	w.Write([]byte(guide.M3U(h.channels, h.baseURL)))
}

// GuideXMLTV handles GET /epg.xml. Publishes the current and, when already
// generated, the next day's schedule for every channel.
func (h *Handler) GuideXMLTV(w http.ResponseWriter, r *http.Request) {
	guides := h.station.Guides()
	now := h.now()
	for i := range guides {
		guides[i].Documents = guide.WindowDocuments(guides[i].Documents, now)
	}
	w.Header().Set("Content-Type", xmltvContentType)
	w.Write([]byte(guide.XMLTV(guides)))
}

// HealthSummary handles GET /health. 200 while at least one channel is up,
// 503 otherwise, so a load balancer can stop routing to a dead station.
func (h *Handler) HealthSummary(w http.ResponseWriter, r *http.Request) {
	up := h.station.UpCount()
	status := http.StatusOK
	if up == 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]int{"channels_up": up, "channels_total": len(h.channels)})
}

// HealthChannels handles GET /health/channels with the per-channel detail.
func (h *Handler) HealthChannels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.station.Health())
}

// StreamFile handles GET /{channel}/{file}, serving the manifest and segment
// files the channel's transcoder writes. Only known channel IDs and plain
// file names inside the channel's own directory are served.
func (h *Handler) StreamFile(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel")
	file := chi.URLParam(r, "file")

	if !h.knownChannel(channelID) {
		http.NotFound(w, r)
		return
	}
	if file != path.Base(file) || strings.HasPrefix(file, ".") {
		h.log.Debug("rejected stream file request",
			slog.String("channel", channelID),
			slog.String("file", file))
		http.NotFound(w, r)
		return
	}

	switch filepath.Ext(file) {
	case ".m3u8":
		w.Header().Set("Content-Type", manifestContentType)
		w.Header().Set("Cache-Control", "no-cache")
	case ".ts":
		w.Header().Set("Content-Type", segmentContentType)
	default:
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filepath.Join(h.mediaDir, channelID, file))
}

func (h *Handler) knownChannel(id string) bool {
	for _, ch := range h.channels {
		if ch.ID == id {
			return true
		}
	}
	return false
}
