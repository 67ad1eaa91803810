package ingest

import (
	"regexp"
	"strings"

	"github.com/valyala/fastjson"
)

// SegmentKind identifies which parser applies to a payload segment.
type SegmentKind int

const (
	SegOtlpLogs SegmentKind = iota
	SegOtlpTraces
	SegOtlpMetrics
	SegSyslogLine
	SegFlatJSON
	SegPlainText
	SegUnsupported
)

// Segment is one independently-parsable slice of an ingest payload,
// decided once by the detector so downstream code never re-probes types.
type Segment struct {
	Kind  SegmentKind
	Value *fastjson.Value // set for JSON-backed kinds
	Text  string          // set for SyslogLine / PlainText
}

var (
	priPattern     = regexp.MustCompile(`^<\d{1,3}>`)
	rfc3339Prefix  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	bsdStampPrefix = regexp.MustCompile(`^[A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2}\s`)
)

// Detect decides which parsers apply to body. The parser p must stay alive
// while the returned segments are processed (fastjson values alias it).
// Detect never fails: undecodable JSON degrades to text handling, and text
// that resembles nothing becomes PlainText segments.
func Detect(p *fastjson.Parser, body []byte, contentType string) []Segment {
	if strings.Contains(contentType, "protobuf") {
		return []Segment{{Kind: SegUnsupported}}
	}

	v, err := p.ParseBytes(body)
	if err != nil {
		return detectText(string(body))
	}
	return detectValue(v)
}

// detectValue routes a parsed JSON value, recursing per element for arrays.
func detectValue(v *fastjson.Value) []Segment {
	switch v.Type() {
	case fastjson.TypeObject:
		var segs []Segment
		if lv := v.Get("resourceLogs"); lv != nil {
			segs = append(segs, Segment{Kind: SegOtlpLogs, Value: v})
		}
		if sv := v.Get("resourceSpans"); sv != nil {
			segs = append(segs, Segment{Kind: SegOtlpTraces, Value: v})
		}
		if mv := v.Get("resourceMetrics"); mv != nil {
			segs = append(segs, Segment{Kind: SegOtlpMetrics, Value: v})
		}
		if len(segs) > 0 {
			return segs
		}
		return []Segment{{Kind: SegFlatJSON, Value: v}}

	case fastjson.TypeArray:
		arr, _ := v.Array()
		var segs []Segment
		for _, el := range arr {
			segs = append(segs, detectValue(el)...)
		}
		return segs

	case fastjson.TypeString:
		return detectText(string(v.GetStringBytes()))

	default:
		// Bare number/bool/null: keep the literal as plain text.
		return []Segment{{Kind: SegPlainText, Text: v.String()}}
	}
}

// detectText splits raw text into lines and probes each for syslog shape.
func detectText(text string) []Segment {
	var segs []Segment
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if LooksLikeSyslog(line) {
			segs = append(segs, Segment{Kind: SegSyslogLine, Text: line})
		} else {
			segs = append(segs, Segment{Kind: SegPlainText, Text: line})
		}
	}
	return segs
}

// LooksLikeSyslog reports whether a line starts with a PRI marker or a
// syslog-style timestamp.
func LooksLikeSyslog(line string) bool {
	return priPattern.MatchString(line) ||
		bsdStampPrefix.MatchString(line) ||
		rfc3339Prefix.MatchString(line)
}
