// Package guide renders the playlist and program-guide documents served to
// external players. Both are views over in-memory schedule state, regenerated
// on every request and never persisted.
package guide

import (
	"fmt"
	"strings"
	"time"

	"lineartv/internal/platform/config"
	"lineartv/internal/schedule"
)

// xmltvTime is the fixed timezone-qualified timestamp format of the guide.
const xmltvTime = "20060102150405 -0700"

// ChannelGuide pairs a channel with its known schedule documents, typically
// the current day and, when already generated, the next.
type ChannelGuide struct {
	ID        string
	Name      string
	Documents []*schedule.Document
}

// M3U renders the tuner playlist: one stream entry per configured channel
// pointing at that channel's manifest URL.
func M3U(channels []config.Channel, baseURL string) string {
	base := strings.TrimRight(baseURL, "/")

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=%q tvg-name=%q,%s\n", ch.ID, ch.Name, ch.Name)
		fmt.Fprintf(&b, "%s/%s/channel.m3u8\n", base, ch.ID)
	}
	return b.String()
}

// XMLTV renders the program guide. Every content block appears as exactly one
// programme with absolute start/stop timestamps in UTC; ad blocks are omitted.
func XMLTV(guides []ChannelGuide) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<tv>\n")

	for _, g := range guides {
		fmt.Fprintf(&b, "  <channel id=\"%s\">\n", escapeXML(xmlID(g.ID)))
		fmt.Fprintf(&b, "    <display-name>%s</display-name>\n", escapeXML(g.Name))
		b.WriteString("  </channel>\n")
	}
	for _, g := range guides {
		for _, doc := range g.Documents {
			for _, block := range doc.Blocks {
				if block.Kind != schedule.BlockContent {
					continue
				}
				fmt.Fprintf(&b, "  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
					block.Start.UTC().Format(xmltvTime),
					block.End.UTC().Format(xmltvTime),
					escapeXML(xmlID(g.ID)))
				fmt.Fprintf(&b, "    <title>%s</title>\n", escapeXML(block.Title))
				if block.Category != "" {
					fmt.Fprintf(&b, "    <category>%s</category>\n", escapeXML(block.Category))
				}
				b.WriteString("  </programme>\n")
			}
		}
	}

	b.WriteString("</tv>\n")
	return b.String()
}

// xmlID sanitizes a channel id for use as an XMLTV channel attribute.
func xmlID(id string) string {
	return strings.ReplaceAll(id, " ", "_")
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// WindowDocuments selects the documents worth publishing for a channel from
// the given candidates: those covering today or later, in date order. Stale
// days are dropped so the guide never lists finished programming. When no
// document covers today (a failed regeneration leaves yesterday's schedule
// playing), the newest document is kept so the guide still reflects the last
// schedule that was successfully generated.
func WindowDocuments(docs []*schedule.Document, now time.Time) []*schedule.Document {
	today := now.Format(time.DateOnly)
	var out []*schedule.Document
	var newest *schedule.Document
	for _, d := range docs {
		if d == nil {
			continue
		}
		if d.Date >= today {
			out = append(out, d)
		}
		if newest == nil || d.Date > newest.Date {
			newest = d
		}
	}
	if len(out) == 0 && newest != nil {
		return []*schedule.Document{newest}
	}
	return out
}
