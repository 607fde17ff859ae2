// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"io"
	"iter"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// RecordPrefix starts every record line.
	RecordPrefix = "data:"

	// DoneSentinel is the payload that terminates a stream.
	DoneSentinel = "[DONE]"

	// DefaultMaxRecordSize caps the carry-over buffer (1MB).
	// SECURITY: Bounded buffering prevents memory exhaustion from a peer that
	// never sends a newline.
	DefaultMaxRecordSize = 1 << 20

	readChunkSize = 4 * 1024
)

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns arbitrary text chunks into complete record payloads.
// It is bound to a single response body and is not safe for concurrent use.
type Decoder struct {
	carry   []byte
	maxSize int
	done    bool
	dropped int
	logger  *log.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxRecordSize sets the largest partial line the decoder will buffer.
func WithMaxRecordSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxSize = n
		}
	}
}

// WithLogger sets the logger used for dropped records.
func WithLogger(l *log.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDecoder creates a decoder with default limits.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		maxSize: DefaultMaxRecordSize,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed consumes one chunk and returns the payloads of every record it
// completed, in order. After the terminator has been seen Feed returns nil.
func (d *Decoder) Feed(chunk []byte) []string {
	if d.done || len(chunk) == 0 {
		return nil
	}

	d.carry = append(d.carry, chunk...)

	var out []string
	for !d.done {
		nl := bytes.IndexByte(d.carry, '\n')
		if nl < 0 {
			break
		}
		line := d.carry[:nl]
		if payload, ok := d.line(line); ok {
			out = append(out, payload)
		}
		d.carry = d.carry[nl+1:]
	}

	if d.done {
		d.carry = nil
		return out
	}

	if len(d.carry) > d.maxSize {
		d.logger.Warn("stream record exceeds limit, dropping", "size", len(d.carry), "limit", d.maxSize)
		d.dropped++
		d.carry = nil
	} else if len(d.carry) > 0 && cap(d.carry) > 4*len(d.carry)+readChunkSize {
		// Compact so a long-lived stream does not pin a large backing array.
		d.carry = append([]byte(nil), d.carry...)
	}
	return out
}

// Close flushes the trailing line left in the buffer when the transport ends
// without a final newline.
func (d *Decoder) Close() []string {
	if d.done {
		return nil
	}
	rest := d.carry
	d.carry = nil
	d.done = true
	if len(rest) == 0 {
		return nil
	}
	if payload, ok := d.line(rest); ok {
		return []string{payload}
	}
	return nil
}

// Done reports whether the terminator or Close has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Dropped returns the number of records skipped as malformed or oversized.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// line classifies one complete line. It returns the payload and true for a
// well-formed record; it marks the decoder done on the terminator.
func (d *Decoder) line(raw []byte) (string, bool) {
	raw = bytes.TrimRight(raw, "\r")
	if !bytes.HasPrefix(raw, []byte(RecordPrefix)) {
		// Blank keep-alives, comments (":"), event:/id: fields.
		return "", false
	}

	payload := bytes.TrimSpace(raw[len(RecordPrefix):])
	if len(payload) == 0 || string(payload) == DoneSentinel {
		d.done = true
		return "", false
	}

	if !gjson.ValidBytes(payload) {
		d.dropped++
		d.logger.Debug("skipping malformed stream record", "bytes", len(payload))
		return "", false
	}
	return string(payload), true
}

// =============================================================================
// RECORD ITERATOR
// =============================================================================

// Records reads r until the terminator, EOF or ctx cancellation and yields
// each record payload. A read error other than io.EOF is yielded once as the
// final element. The sequence is single-use.
func Records(ctx context.Context, r io.Reader, opts ...DecoderOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		d := NewDecoder(opts...)
		buf := make([]byte, readChunkSize)
		defer func() {
			if n := d.Dropped(); n > 0 {
				d.logger.Warn("stream ended with skipped records", "dropped", n)
			}
		}()

		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			n, err := r.Read(buf)
			if n > 0 {
				for _, payload := range d.Feed(buf[:n]) {
					if !yield(payload, nil) {
						return
					}
				}
				if d.Done() {
					return
				}
			}

			if err != nil {
				if err == io.EOF {
					for _, payload := range d.Close() {
						if !yield(payload, nil) {
							return
						}
					}
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield("", err)
				return
			}
		}
	}
}
