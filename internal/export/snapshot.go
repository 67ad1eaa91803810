package export

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/signalworks/pulse/internal/model"
)

// Snapshots are a column-oriented, zstd-compressed dump of a ring
// buffer's contents, served by the export endpoint. They are an operator
// convenience: nothing reads them back at startup (restart clears all
// buffers by design).
//
// Layout: magic, then per-column compressed blocks (each prefixed with
// its compressed size), then a footer of rowCount/minTs/maxTs.

var MagicHeader = []byte("PULSESNAP1")

var ErrInvalidSnapshot = errors.New("invalid pulse snapshot")

// Kind ordinals keep the kind column one byte wide.
var kindOrdinals = map[model.Kind]uint8{
	model.KindRequest: 0,
	model.KindLog:     1,
	model.KindEvent:   2,
	model.KindMetric:  3,
	model.KindRaw:     4,
}

var ordinalKinds = map[uint8]model.Kind{
	0: model.KindRequest,
	1: model.KindLog,
	2: model.KindEvent,
	3: model.KindMetric,
	4: model.KindRaw,
}

// Encoder writes snapshots.
type Encoder struct {
	zenc *zstd.Encoder
}

// NewEncoder creates a snapshot encoder.
func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Encoder{zenc: enc}, nil
}

// WriteSnapshot serializes records (expected oldest-first) to w.
func (e *Encoder) WriteSnapshot(w io.Writer, records []model.ClassifiedRecord) error {
	if _, err := w.Write(MagicHeader); err != nil {
		return err
	}

	n := len(records)
	timestamps := make([]int64, n)
	kinds := make([]uint8, n)
	ids := make([]string, n)
	services := make([]string, n)
	hosts := make([]string, n)
	messages := make([]string, n)
	attrBlobs := make([]string, n)

	for i, rec := range records {
		timestamps[i] = rec.TimestampMs
		kinds[i] = kindOrdinals[rec.Kind]
		ids[i] = rec.ID
		services[i] = rec.ServiceName
		hosts[i] = rec.Host
		messages[i] = rec.Message
		if rec.Attributes != nil {
			blob, err := json.Marshal(rec.Attributes)
			if err == nil {
				attrBlobs[i] = string(blob)
			}
		}
	}

	if err := e.writeInt64Col(w, timestamps); err != nil {
		return err
	}
	if err := e.writeUint8Col(w, kinds); err != nil {
		return err
	}
	for _, col := range [][]string{ids, services, hosts, messages, attrBlobs} {
		if err := e.writeStringCol(w, col); err != nil {
			return err
		}
	}

	var minTs, maxTs int64
	if n > 0 {
		minTs, maxTs = timestamps[0], timestamps[0]
		for _, ts := range timestamps[1:] {
			if ts < minTs {
				minTs = ts
			}
			if ts > maxTs {
				maxTs = ts
			}
		}
	}
	return writeFooter(w, uint32(n), minTs, maxTs)
}

func (e *Encoder) writeInt64Col(w io.Writer, data []int64) error {
	buf := new(bytes.Buffer)
	for _, v := range data {
		binary.Write(buf, binary.LittleEndian, v)
	}
	return e.compressAndWrite(w, buf.Bytes())
}

func (e *Encoder) writeUint8Col(w io.Writer, data []uint8) error {
	return e.compressAndWrite(w, data)
}

func (e *Encoder) writeStringCol(w io.Writer, data []string) error {
	buf := new(bytes.Buffer)
	for _, s := range data {
		b := []byte(s)
		binary.Write(buf, binary.LittleEndian, uint32(len(b)))
		buf.Write(b)
	}
	return e.compressAndWrite(w, buf.Bytes())
}

func (e *Encoder) compressAndWrite(w io.Writer, raw []byte) error {
	compressed := e.zenc.EncodeAll(raw, make([]byte, 0, len(raw)))
	if err := binary.Write(w, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func writeFooter(w io.Writer, rowCount uint32, minTs, maxTs int64) error {
	if err := binary.Write(w, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, maxTs)
}

// Decoder reads snapshots back into records. Used by tooling and by the
// round-trip tests that pin the wire format.
type Decoder struct {
	zdec *zstd.Decoder
}

// NewDecoder creates a snapshot decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Decoder{zdec: dec}, nil
}

// ReadSnapshot parses a full snapshot from r.
func (d *Decoder) ReadSnapshot(r io.Reader) ([]model.ClassifiedRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(MagicHeader)+20 || !bytes.Equal(data[:len(MagicHeader)], MagicHeader) {
		return nil, ErrInvalidSnapshot
	}

	footer := data[len(data)-20:]
	rowCount := binary.LittleEndian.Uint32(footer[:4])
	body := data[len(MagicHeader) : len(data)-20]

	tsRaw, body, err := d.nextBlock(body)
	if err != nil {
		return nil, err
	}
	kindRaw, body, err := d.nextBlock(body)
	if err != nil {
		return nil, err
	}

	stringCols := make([][]string, 5)
	for i := range stringCols {
		var raw []byte
		raw, body, err = d.nextBlock(body)
		if err != nil {
			return nil, err
		}
		stringCols[i], err = decodeStringCol(raw, int(rowCount))
		if err != nil {
			return nil, err
		}
	}

	if len(tsRaw) != int(rowCount)*8 || len(kindRaw) != int(rowCount) {
		return nil, ErrInvalidSnapshot
	}

	records := make([]model.ClassifiedRecord, rowCount)
	for i := 0; i < int(rowCount); i++ {
		rec := model.ClassifiedRecord{
			CanonicalRecord: model.CanonicalRecord{
				ID:          stringCols[0][i],
				TimestampMs: int64(binary.LittleEndian.Uint64(tsRaw[i*8 : i*8+8])),
				ServiceName: stringCols[1][i],
				Host:        stringCols[2][i],
				Message:     stringCols[3][i],
				SeverityNum: model.SeverityUnset,
			},
		}
		kind, ok := ordinalKinds[kindRaw[i]]
		if !ok {
			kind = model.KindRaw
		}
		rec.Kind = kind
		if blob := stringCols[4][i]; blob != "" {
			var attrs map[string]interface{}
			if err := json.Unmarshal([]byte(blob), &attrs); err == nil {
				rec.Attributes = attrs
			}
		}
		rec.PartitionKey = model.PartitionKeyFor(rec.ServiceName, rec.TimestampMs)
		records[i] = rec
	}
	return records, nil
}

// nextBlock pops one size-prefixed compressed block off body.
func (d *Decoder) nextBlock(body []byte) ([]byte, []byte, error) {
	if len(body) < 4 {
		return nil, nil, ErrInvalidSnapshot
	}
	size := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]
	if uint32(len(body)) < size {
		return nil, nil, ErrInvalidSnapshot
	}
	raw, err := d.zdec.DecodeAll(body[:size], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress column: %w", err)
	}
	return raw, body[size:], nil
}

func decodeStringCol(raw []byte, rows int) ([]string, error) {
	out := make([]string, 0, rows)
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, ErrInvalidSnapshot
		}
		n := binary.LittleEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, ErrInvalidSnapshot
		}
		out = append(out, string(raw[:n]))
		raw = raw[n:]
	}
	if len(out) != rows {
		return nil, ErrInvalidSnapshot
	}
	return out, nil
}
