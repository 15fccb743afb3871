// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Split definitions sent inline can
// be large, so this is well above the bufio default.
const maxLineSize = 1 << 20

// ErrLineTooLong is returned when a line exceeds maxLineSize.
var ErrLineTooLong = errors.New("sse: line too long")

// Event is one dispatched Server-Sent Event.
type Event struct {
	// Type is the "event:" field; "message" when the server sent none.
	Type string
	ID   string
	// Data joins the "data:" lines of the event with newlines.
	Data string
}

// Scanner splits a text/event-stream body into events.
//
// Lines are "field: value" pairs terminated by LF or CR LF. A blank
// line dispatches the accumulated event; lines starting with ":" are
// comments (heartbeats) and are skipped.
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

// NewScanner creates a scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at the end of the
// stream or on error; Err tells them apart.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}

	var (
		data      strings.Builder
		eventType string
		id        string
		hasData   bool
	)

	for {
		line, err := s.readLine()
		if err != nil {
			s.err = err
			// an event without its trailing blank line is discarded
			return false
		}

		if line == "" {
			if !hasData {
				eventType = ""
				continue
			}
			if eventType == "" {
				eventType = "message"
			}
			s.current = Event{Type: eventType, ID: id, Data: data.String()}
			return true
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			id = value
		}
	}
}

// readLine returns one line without its terminator.
func (s *Scanner) readLine() (string, error) {
	var b strings.Builder
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if b.Len()+len(chunk) > maxLineSize {
			return "", ErrLineTooLong
		}
		b.Write(chunk)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && (b.Len() == 0 || !errors.Is(err, io.EOF)) {
			return "", err
		}
		// a final line without terminator is returned; the next read reports EOF
		return strings.TrimRight(b.String(), "\r\n"), nil
	}
}

// Event returns the event produced by the last successful Next.
func (s *Scanner) Event() Event {
	return s.current
}

// Err returns the error that stopped the scanner, nil on a clean EOF.
func (s *Scanner) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}
