// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// =============================================================================
// SSE CONSTANTS
// =============================================================================

// MaxEventSize is the maximum allowed size for a single SSE event (1MB).
// Responses-family events repeat the full text in their done events, so the
// limit is well above a single delta.
const MaxEventSize = 1024 * 1024

// ErrDone is returned by the SSE reader when the [DONE] sentinel arrives.
var ErrDone = errors.New("stream: done")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event from the stream and returns its event
// name and joined data lines. Returns io.EOF when the stream ends and ErrDone
// when the payload is the [DONE] sentinel.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	flush := func() (string, []byte, error) {
		data := bytes.Join(dataLines, []byte("\n"))
		if bytes.Equal(data, []byte("[DONE]")) {
			return eventType, nil, ErrDone
		}
		return eventType, data, nil
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) {
				// If we have data, return it before EOF
				if len(dataLines) > 0 {
					return flush()
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		size += len(line)
		if size > MaxEventSize {
			return "", nil, fmt.Errorf("sse event too large: %d bytes", size)
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return flush()
			}
			size = 0
			continue
		}

		if field, value, ok := ParseField(line); ok {
			switch field {
			case "event":
				eventType = string(value)
			case "data":
				dataLines = append(dataLines, value)
			}
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// ParseField splits one SSE line into field name and value. A single space
// after the colon is dropped. Comment lines report ok=false.
func ParseField(line []byte) (string, []byte, bool) {
	if len(line) == 0 || line[0] == ':' {
		return "", nil, false
	}
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil, true
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value, true
}

// DecodeSSE decodes a single "data: ..." line. It returns ErrDone for the
// [DONE] sentinel and ErrSkip for blank, comment and non-data lines.
func DecodeSSE(line []byte) (Event, error) {
	line = bytes.TrimRight(line, "\r\n")
	field, value, ok := ParseField(line)
	if !ok || field != "data" {
		return nil, ErrSkip
	}
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, ErrSkip
	}
	if bytes.Equal(value, []byte("[DONE]")) {
		return nil, ErrDone
	}
	return Decode(value)
}
