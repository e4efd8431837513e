package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyVerb   = errors.New("query is malformed, the verb is empty")
	ErrEmptyPipe   = errors.New("query is malformed, a pipelined parameter has no values")
	ErrUnevenPipe  = errors.New("query is malformed, pipelined parameters have differing lengths")
	ErrBadVerbRune = errors.New("query is malformed, the verb may only contain lowercase letters, digits and underscores")
)

// Query builds one wire line for the server: a verb, a set of option
// flags and a set of key=value parameters. Options and parameters keep
// their insertion order so the encoded output is deterministic.
//
//	q := protocol.NewQuery("clientkick").
//		Param("reasonid", 5).
//		ParamList("clid", 1, 2, 3)
//
// A parameter added with ParamList marks the query as pipelined: each
// element becomes one pipe-joined segment and every scalar parameter is
// repeated in every segment.
type Query struct {
	verb    string
	options []string
	keys    []string
	params  map[string][]string
	plural  map[string]bool
}

func NewQuery(verb string) *Query {
	return &Query{
		verb:   verb,
		params: map[string][]string{},
		plural: map[string]bool{},
	}
}

// Verb returns the query's command verb.
func (q *Query) Verb() string {
	return q.verb
}

// Option adds a `-name` flag to the query. Duplicates are ignored, the
// first insertion decides the position.
func (q *Query) Option(name string) *Query {
	for _, existing := range q.options {
		if existing == name {
			return q
		}
	}
	q.options = append(q.options, name)
	return q
}

// Param sets a scalar parameter. Setting the same key again replaces the
// value but keeps the original position.
func (q *Query) Param(key string, value interface{}) *Query {
	q.set(key, []string{formatValue(value)}, false)
	return q
}

// ParamList sets a pipelined parameter. Every ParamList on a query must
// carry the same number of values.
func (q *Query) ParamList(key string, values ...interface{}) *Query {
	formatted := make([]string, len(values))
	for i, v := range values {
		formatted[i] = formatValue(v)
	}
	q.set(key, formatted, true)
	return q
}

func (q *Query) set(key string, values []string, plural bool) {
	if _, ok := q.params[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.params[key] = values
	q.plural[key] = plural
}

// Compile encodes the query into its wire line, without the line
// terminator. Verbs, options and keys are emitted as-is, values are
// escaped.
func (q *Query) Compile() (string, error) {
	if q.verb == "" {
		return "", ErrEmptyVerb
	}
	for _, r := range q.verb {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", fmt.Errorf("failed to compile %q: %w", q.verb, ErrBadVerbRune)
		}
	}

	segments, err := q.segmentCount()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(q.verb)

	for _, opt := range q.options {
		b.WriteString(" -")
		b.WriteString(opt)
	}

	for segment := 0; segment < segments; segment++ {
		if segment > 0 {
			b.WriteString("|")
		}
		for i, key := range q.keys {
			values := q.params[key]
			value := values[0]
			if q.plural[key] {
				value = values[segment]
			}

			// Segments follow the pipe directly, everything else is
			// space separated.
			if segment == 0 || i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(key)
			b.WriteString("=")
			b.WriteString(Escape(value))
		}
	}

	return b.String(), nil
}

// segmentCount returns how many pipe-joined segments the query encodes
// to. Scalar-only queries have exactly one.
func (q *Query) segmentCount() (int, error) {
	segments := 1
	for _, key := range q.keys {
		if !q.plural[key] {
			continue
		}
		n := len(q.params[key])
		if n == 0 {
			return 0, fmt.Errorf("failed to compile %q: %w", q.verb, ErrEmptyPipe)
		}
		if segments == 1 {
			segments = n
		} else if n != segments {
			return 0, fmt.Errorf("failed to compile %q: %w", q.verb, ErrUnevenPipe)
		}
	}
	return segments, nil
}

// String implements fmt.Stringer for logging. Compile errors render as
// an error marker instead.
func (q *Query) String() string {
	line, err := q.Compile()
	if err != nil {
		return fmt.Sprintf("!invalid query %q: %v", q.verb, err)
	}
	return line
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
