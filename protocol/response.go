package protocol

import (
	"fmt"
	"strconv"
)

// Record is one decoded key/value group within a response or event.
// Records are sparse: a key the server did not send is simply absent,
// and a bare key (sent without `=`) is present with an empty value.
type Record map[string]string

// Get returns the decoded value for key, or "" when the key is absent.
func (r Record) Get(key string) string {
	return r[key]
}

// Lookup returns the decoded value and whether the key was present at
// all. Use this to tell an empty value apart from a missing field.
func (r Record) Lookup(key string) (string, bool) {
	value, ok := r[key]
	return value, ok
}

// Has reports whether the key was present, which is how the protocol
// encodes boolean markers.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Int decodes the value for key as a base-10 integer. Values stay
// strings on the wire; this is a convenience for the very common
// id/port/size fields.
func (r Record) Int(key string) (int, error) {
	value, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("record has no %q field", key)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("record field %q is not an integer: %w", key, err)
	}
	return n, nil
}

// Int64 is Int for 64-bit fields such as file sizes.
func (r Record) Int64(key string) (int64, error) {
	value, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("record has no %q field", key)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record field %q is not an integer: %w", key, err)
	}
	return n, nil
}

// Status is the decoded final line of every response. Code 0 means the
// command succeeded; any other code is a command-level failure reported
// by the server, not a transport problem.
type Status struct {
	Code    int
	Message string

	// Extra carries any additional status fields, e.g. failed_permid on
	// permission errors.
	Extra Record
}

func (s Status) IsOK() bool {
	return s.Code == 0
}

// Err returns nil for a success status and a *QueryError otherwise.
func (s Status) Err() error {
	if s.Code == 0 {
		return nil
	}
	return &QueryError{Code: s.Code, Message: s.Message}
}

// QueryError is a command-level failure carried by a status line. It is
// ordinary data as far as the connection is concerned: the connection
// stays usable after one.
type QueryError struct {
	Code    int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("server returned error id %d: %s", e.Code, e.Message)
}

// Response is the server's complete answer to one query.
type Response struct {
	Records []Record
	Status  Status
}

// First returns the first record, or nil when the response carried none.
// Most single-subject queries (whoami, version, ftinitupload) answer
// with exactly one record.
func (r *Response) First() Record {
	if len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// All returns every record in response order.
func (r *Response) All() []Record {
	return r.Records
}

// Event is an unsolicited notification pushed by the server.
type Event struct {
	Name string
	Data Record
}
