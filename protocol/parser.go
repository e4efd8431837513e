package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingStatusLine = errors.New("response is malformed, the final status line is missing")
	ErrMalformedStatus   = errors.New("status line is malformed, it is missing a numeric id field")
	ErrEmptyEventLine    = errors.New("event is malformed, the line is empty")

	statusPrefix = "error"
	eventPrefix  = "notify"
)

// lineTerminator is the protocol's line ending. The server really does
// send LF before CR.
var lineTerminator = []byte("\n\r")

// ScanLines is a bufio.SplitFunc that splits the stream on the
// protocol's `\n\r` terminator. A trailing fragment without terminator
// is returned as the final token so a mid-line disconnect still
// surfaces the bytes we got.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, lineTerminator); i >= 0 {
		return i + len(lineTerminator), data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// IsStatusLine reports whether the line is the `error id=... msg=...`
// terminator of a response block.
func IsStatusLine(line string) bool {
	return line == statusPrefix || strings.HasPrefix(line, statusPrefix+" ")
}

// IsEventLine reports whether the line is an unsolicited notification.
// Every event name the server pushes starts with the `notify` token, and
// `notify` is not a legal response key prefix, so the check is exact
// enough to classify lines without a framing header.
func IsEventLine(line string) bool {
	return strings.HasPrefix(line, eventPrefix)
}

// ParseResponse decodes the raw line block of one response. The final
// line must be the status line; every line before it contributes
// records.
func ParseResponse(lines []string) (*Response, error) {
	if len(lines) == 0 || !IsStatusLine(lines[len(lines)-1]) {
		return nil, ErrMissingStatusLine
	}

	status, err := ParseStatus(lines[len(lines)-1])
	if err != nil {
		return nil, err
	}

	resp := &Response{Status: status}
	for _, line := range lines[:len(lines)-1] {
		resp.Records = append(resp.Records, parseRecordList(line)...)
	}

	return resp, nil
}

// ParseStatus decodes a status line into a Status. The id field is
// required and must be numeric; msg is unescaped; any further fields
// land in Extra.
func ParseStatus(line string) (Status, error) {
	if !IsStatusLine(line) {
		return Status{}, fmt.Errorf("failed to parse %q: %w", line, ErrMissingStatusLine)
	}

	status := Status{Code: -1, Extra: Record{}}
	for _, field := range strings.Fields(line)[1:] {
		key, value := parseProperty(field)
		switch key {
		case "id":
			code, err := strconv.Atoi(value)
			if err != nil {
				return Status{}, fmt.Errorf("failed to parse %q: %w", line, ErrMalformedStatus)
			}
			status.Code = code
		case "msg":
			status.Message = value
		default:
			status.Extra[key] = value
		}
	}

	if status.Code < 0 {
		return Status{}, fmt.Errorf("failed to parse %q: %w", line, ErrMalformedStatus)
	}
	return status, nil
}

// ParseEvent decodes an event line: the event name token followed by the
// event's record.
func ParseEvent(line string) (*Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyEventLine
	}

	name := line
	data := Record{}
	if i := strings.IndexByte(line, ' '); i >= 0 {
		name = line[:i]
		records := parseRecordList(line[i+1:])
		if len(records) > 0 {
			data = records[0]
		}
	}

	return &Event{Name: name, Data: data}, nil
}

// parseRecordList splits one wire line into its pipe-separated records.
func parseRecordList(line string) []Record {
	parts := strings.Split(line, "|")
	records := make([]Record, 0, len(parts))
	for _, part := range parts {
		records = append(records, parseRecord(part))
	}
	return records
}

// parseRecord decodes one space-separated group of properties.
func parseRecord(part string) Record {
	record := Record{}
	for _, field := range strings.Fields(part) {
		key, value := parseProperty(field)
		record[key] = value
	}
	return record
}

// parseProperty splits a `key=value` token and unescapes both halves. A
// bare key decodes to a present, empty value. `=` is not part of the
// escape table, so the split happens at the first one and the value
// keeps any further `=` runes (base64 unique identifiers end in them).
func parseProperty(field string) (string, string) {
	if i := strings.IndexByte(field, '='); i >= 0 {
		return Unescape(field[:i]), Unescape(field[i+1:])
	}
	return Unescape(field), ""
}
