package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/withObsrvr/brewery-medallion/internal/medallion"
)

// acceptEncoding is advertised on requests; the body is decoded here rather
// than by net/http so zstd works too.
const acceptEncoding = "gzip, zstd"

// decodeContent wraps body according to a Content-Encoding header value.
func decodeContent(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// DecodeRecords parses a JSON array of objects. Field order within each
// object is preserved. Numbers are kept as json.Number, nested objects and
// arrays as compact JSON text.
func DecodeRecords(r io.Reader) ([]medallion.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, errors.New("response is not a JSON array")
	}

	records := []medallion.Record{}
	for i := 0; dec.More(); i++ {
		rec, err := decodeObject(dec)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		records = append(records, rec)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON array")
	}
	return records, nil
}

func decodeObject(dec *json.Decoder) (medallion.Record, error) {
	tok, err := dec.Token()
	if err != nil {
		return medallion.Record{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return medallion.Record{}, errors.New("not a JSON object")
	}

	rec := medallion.NewRecord()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return medallion.Record{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return medallion.Record{}, fmt.Errorf("unexpected token %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return medallion.Record{}, fmt.Errorf("field %s: %w", key, err)
		}
		v, err := scalar(raw)
		if err != nil {
			return medallion.Record{}, fmt.Errorf("field %s: %w", key, err)
		}
		rec.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return medallion.Record{}, err
	}
	return rec, nil
}

func scalar(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty value")
	}

	switch raw[0] {
	case 'n':
		return nil, nil
	case 't', 'f':
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return json.RawMessage(buf.Bytes()), nil
	default:
		return json.Number(raw), nil
	}
}
