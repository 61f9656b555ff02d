// Package sse implements the minimal server-sent-events framing used for the
// server-to-client push stream: a writer for HTTP handlers and a decoder for
// the client-side stream reader.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
)

// WriteFlusher is the response writer contract required to serve an event
// stream.
type WriteFlusher interface {
	io.Writer
	http.Flusher
}

// WriteEvent writes one event carrying data as its payload and flushes it to
// the peer. data must not contain newlines.
func WriteEvent(w WriteFlusher, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// Decoder reads an event stream and yields each event's joined data payload.
type Decoder struct {
	br   *bufio.Reader
	data bytes.Buffer
	err  error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// Next advances to the next event boundary. It returns false once the stream
// ends or errors; Err reports whether the ending was clean.
func (d *Decoder) Next() bool {
	if d.err != nil {
		return false
	}
	d.data.Reset()

	for {
		line, err := d.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && d.data.Len() > 0 {
				// Final event without a trailing blank line.
				d.err = io.EOF
				return true
			}
			d.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if d.data.Len() == 0 {
				// Stray blank line before any data; keep scanning.
				continue
			}
			return true
		}

		// Only data fields matter here; comments, event names and ids are
		// skipped.
		value, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if d.data.Len() > 0 {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
	}
}

// Data returns the payload of the event produced by the last call to Next.
func (d *Decoder) Data() []byte {
	return d.data.Bytes()
}

// Err returns the terminal stream error, if any. A clean EOF is not an
// error.
func (d *Decoder) Err() error {
	if d.err == io.EOF {
		return nil
	}
	return d.err
}
