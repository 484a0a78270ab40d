package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Framer reconstitutes discrete text records from a byte stream whose
// chunks arrive at arbitrary boundaries. Implementations buffer partial
// tail content across reads, so the record sequence is independent of how
// the transport happens to split the bytes.
type Framer interface {
	// Next returns the next complete record, or io.EOF when the stream is
	// drained. Any other error is a transport failure.
	Next() (string, error)
}

// readChunkSize is the transport read granularity. Records routinely span
// multiple chunks and chunks routinely carry multiple records.
const readChunkSize = 4096

// LineFramer frames newline-delimited records: each record is terminated
// by '\n'. A residual unterminated buffer at stream end is discarded, not
// treated as an implicit final record — the upstream stream always
// terminates records, and a missing trailing delimiter means the record
// was cut off mid-write.
type LineFramer struct {
	r    io.Reader
	buf  []byte
	done bool
}

// NewLineFramer returns a framer for newline-delimited records read from r.
func NewLineFramer(r io.Reader) *LineFramer {
	return &LineFramer{r: r}
}

// Next returns the next newline-terminated record with the delimiter
// stripped. Blank lines are skipped.
func (f *LineFramer) Next() (string, error) {
	for {
		if i := bytes.IndexByte(f.buf, '\n'); i >= 0 {
			record := strings.TrimSpace(string(f.buf[:i]))
			f.buf = f.buf[i+1:]
			if record == "" {
				continue
			}
			return record, nil
		}

		if f.done {
			// Unterminated tail is dropped by design.
			return "", io.EOF
		}

		if err := f.fill(); err != nil {
			return "", err
		}
	}
}

func (f *LineFramer) fill() error {
	chunk := make([]byte, readChunkSize)
	n, err := f.r.Read(chunk)
	if n > 0 {
		f.buf = append(f.buf, chunk[:n]...)
	}
	if errors.Is(err, io.EOF) {
		f.done = true
		return nil
	}
	return err
}

// SSEFramer frames server-sent-event style records: blocks separated by a
// blank line, where only lines prefixed "data:" carry payload. The prefix
// is stripped and multiple data lines within one block are joined with a
// newline. Blocks without any data line (comments, bare event names) are
// skipped.
type SSEFramer struct {
	r    io.Reader
	buf  []byte
	done bool
}

// NewSSEFramer returns a framer for SSE-style records read from r.
func NewSSEFramer(r io.Reader) *SSEFramer {
	return &SSEFramer{r: r}
}

// Next returns the payload of the next event block, or io.EOF when the
// stream is drained. An unterminated final block is discarded, matching
// LineFramer.
func (f *SSEFramer) Next() (string, error) {
	for {
		if i := bytes.Index(f.buf, []byte("\n\n")); i >= 0 {
			block := string(f.buf[:i])
			f.buf = f.buf[i+2:]

			payload := extractData(block)
			if payload == "" {
				continue
			}
			return payload, nil
		}

		if f.done {
			return "", io.EOF
		}

		if err := f.fill(); err != nil {
			return "", err
		}
	}
}

func (f *SSEFramer) fill() error {
	chunk := make([]byte, readChunkSize)
	n, err := f.r.Read(chunk)
	if n > 0 {
		f.buf = append(f.buf, chunk[:n]...)
	}
	if errors.Is(err, io.EOF) {
		f.done = true
		return nil
	}
	return err
}

// extractData collects the data lines of one SSE block.
func extractData(block string) string {
	var payload []string
	for _, line := range strings.Split(block, "\n") {
		if rest, found := strings.CutPrefix(line, "data:"); found {
			payload = append(payload, strings.TrimPrefix(rest, " "))
		}
	}
	return strings.Join(payload, "\n")
}

// Decoder turns framed records into decoded events. Decoding is resilient
// per record: a JSON parse failure is logged and the record skipped, and
// framing continues — one malformed record never aborts the stream.
type Decoder struct {
	framer Framer
	logger *logrus.Logger
}

// NewDecoder wraps a framer with resilient JSON decoding.
func NewDecoder(framer Framer, logger *logrus.Logger) *Decoder {
	return &Decoder{framer: framer, logger: logger}
}

// Next returns the next decoded event, or io.EOF when the stream is
// drained.
func (d *Decoder) Next() (Event, error) {
	for {
		record, err := d.framer.Next()
		if err != nil {
			return Event{}, err
		}

		var event Event
		if err := json.Unmarshal([]byte(record), &event); err != nil {
			d.logger.WithFields(logrus.Fields{
				"record": truncateRecord(record),
				"error":  err.Error(),
			}).Warn("Skipping malformed stream record")
			continue
		}
		return event, nil
	}
}

// Drain consumes the remaining stream and returns all decoded events in
// arrival order.
func (d *Decoder) Drain() ([]Event, error) {
	var events []Event
	for {
		event, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// truncateRecord bounds malformed-record logging so a corrupt megabyte
// chunk does not flood the logs.
func truncateRecord(record string) string {
	const limit = 200
	if len(record) <= limit {
		return record
	}
	return record[:limit] + "..."
}
