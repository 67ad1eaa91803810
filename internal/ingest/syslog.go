package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalworks/pulse/internal/model"
)

// Syslog severity numbers run 0=emerg..7=debug, the reverse of the
// "higher is worse" intuition. The numeric value is preserved as-is;
// the enrichment chain maps it to a label.

var (
	// <PRI> optionally followed by an RFC5424 version digit.
	priRe = regexp.MustCompile(`^<(\d{1,3})>(?:\d\s+)?`)

	// RFC3339-ish timestamp, hostname, tag[pid]:, message.
	rfcLineRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)\s+(\S+)\s+([A-Za-z0-9._/-]+?)(?:\[(\d+)\])?:\s*(.*)$`)

	// BSD timestamp (Jan _2 15:04:05), hostname, tag[pid]:, message.
	bsdLineRe = regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s+(\S+)\s+([A-Za-z0-9._/-]+?)(?:\[(\d+)\])?:\s*(.*)$`)
)

// ParseSyslogLine parses one syslog line into a canonical record. Lines
// that do not match the expected shape still produce a best-effort record
// with the raw line as message and ingest time as timestamp.
func ParseSyslogLine(line string, nowMs int64) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		ID:          model.NewRecordID(),
		Source:      model.SourceSyslog,
		SeverityNum: model.SeverityUnset,
		TimestampMs: nowMs,
		Message:     line,
		Raw:         line,
	}

	rest := line
	if m := priRe.FindStringSubmatch(rest); m != nil {
		pri, err := strconv.Atoi(m[1])
		if err == nil && pri >= 0 && pri <= 191 {
			rec.SeverityNum = pri & 7
			rec.SetAttr("syslog.facility", float64(pri>>3))
			rec.SetAttr("syslog.pri", float64(pri))
		}
		rest = rest[len(m[0]):]
	}

	var m []string
	if m = rfcLineRe.FindStringSubmatch(rest); m != nil {
		if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
			rec.TimestampMs = ts.UnixMilli()
		}
	} else if m = bsdLineRe.FindStringSubmatch(rest); m != nil {
		// BSD stamps carry no year; assume the current one.
		if ts, err := time.Parse("Jan _2 15:04:05", m[1]); err == nil {
			now := time.UnixMilli(nowMs).UTC()
			rec.TimestampMs = ts.AddDate(now.Year(), 0, 0).UnixMilli()
		}
	}

	if m != nil {
		rec.Host = m[2]
		rec.App = m[3]
		if m[4] != "" {
			rec.SetAttr("syslog.pid", m[4])
		}
		rec.Message = m[5]
	} else if trimmed := strings.TrimSpace(rest); trimmed != "" {
		rec.Message = trimmed
	}

	return rec
}
