package ingest

import (
	"testing"
	"time"

	"github.com/signalworks/pulse/internal/model"
)

func TestParseSyslogLine_RFC5424(t *testing.T) {
	now := time.Now().UnixMilli()
	rec := ParseSyslogLine("<134>2024-01-01T00:00:00Z host1 myapp: connection established", now)

	if rec.Source != model.SourceSyslog {
		t.Errorf("expected syslog source, got %q", rec.Source)
	}
	// 134 = facility 16, severity 6 (info)
	if rec.SeverityNum != 6 {
		t.Errorf("expected severity 6, got %d", rec.SeverityNum)
	}
	if fac, _ := rec.AttrNumber("syslog.facility"); fac != 16 {
		t.Errorf("expected facility 16, got %f", fac)
	}
	if rec.Host != "host1" {
		t.Errorf("expected host host1, got %q", rec.Host)
	}
	if rec.App != "myapp" {
		t.Errorf("expected app myapp, got %q", rec.App)
	}
	if rec.Message != "connection established" {
		t.Errorf("unexpected message %q", rec.Message)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if rec.TimestampMs != want {
		t.Errorf("expected ts %d, got %d", want, rec.TimestampMs)
	}
}

func TestParseSyslogLine_BSD(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	rec := ParseSyslogLine("<34>Oct 11 22:14:15 mymachine su[230]: 'su root' failed", now)

	if rec.SeverityNum != 2 { // 34 & 7
		t.Errorf("expected severity 2, got %d", rec.SeverityNum)
	}
	if rec.Host != "mymachine" || rec.App != "su" {
		t.Errorf("expected mymachine/su, got %q/%q", rec.Host, rec.App)
	}
	if pid := rec.AttrString("syslog.pid"); pid != "230" {
		t.Errorf("expected pid 230, got %q", pid)
	}
	if rec.Message != "'su root' failed" {
		t.Errorf("unexpected message %q", rec.Message)
	}
	// BSD stamps carry no year; the parser borrows ingest time's year.
	wantYear := time.UnixMilli(rec.TimestampMs).UTC().Year()
	if wantYear != 2024 {
		t.Errorf("expected year 2024, got %d", wantYear)
	}
}

func TestParseSyslogLine_PriOnly(t *testing.T) {
	now := int64(1_700_000_000_000)
	rec := ParseSyslogLine("<13>something happened", now)

	if rec.SeverityNum != 5 {
		t.Errorf("expected severity 5, got %d", rec.SeverityNum)
	}
	if rec.Message != "something happened" {
		t.Errorf("unexpected message %q", rec.Message)
	}
	if rec.TimestampMs != now {
		t.Errorf("expected ingest time fallback, got %d", rec.TimestampMs)
	}
}

func TestParseSyslogLine_Malformed(t *testing.T) {
	now := int64(1_700_000_000_000)
	line := "not really syslog at all"
	rec := ParseSyslogLine(line, now)

	// Best effort: the raw line survives as the message.
	if rec.Message != line {
		t.Errorf("expected raw line as message, got %q", rec.Message)
	}
	if rec.SeverityNum != model.SeverityUnset {
		t.Errorf("expected severity unset, got %d", rec.SeverityNum)
	}
	if rec.Raw != line {
		t.Errorf("expected raw preserved, got %q", rec.Raw)
	}
}

func TestParseSyslogLine_PriOutOfRange(t *testing.T) {
	rec := ParseSyslogLine("<999>too big", 1000)
	if rec.SeverityNum != model.SeverityUnset {
		t.Errorf("expected out-of-range pri ignored, got severity %d", rec.SeverityNum)
	}
}
