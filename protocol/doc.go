package protocol

// This package implements serialising queries and parsing responses for
// the line-oriented ServerQuery protocol that voice-conferencing servers
// expose for remote administration.
//
// The protocol is text based and a bit ad-hoc, so the grammar is worth
// writing down.
//
// - `Query`    - A client instruction to the server, one wire line.
// - `Response` - The server's answer to a query: zero or more record
//                lines followed by exactly one status line.
// - `Event`    - An unsolicited notification pushed by the server. These
//                can arrive at any time, interleaved with responses.
//
// === General Syntax
//
// - lines are `\n\r` delimited (yes, in that order)
// - fields within a line are space separated
// - a query is `<verb> [-option]* [key=value]* [|key=value ...]*`
// - record lines are `key=value key=value ...`, multiple records on one
//   line are joined with `|`
// - the status line is `error id=<int> msg=<value> [key=value]*` and is
//   always the final line of a response
// - event lines start with an event name (`notify...`) followed by a
//   single record
//
// === Escaping
//
// Verbs, option names and keys are drawn from a restricted grammar
// ([a-z0-9_]) and are never escaped. Values are escaped with two-character
// `\<letter>` sequences for backslash, forward slash, space, the pipe
// delimiter and the ASCII control characters the protocol reserves:
//
//   ```
//     \\  backslash      \s  space         \p  pipe
//     \/  forward slash  \a  bell          \b  backspace
//     \f  form feed      \n  newline       \r  carriage return
//     \t  horizontal tab \v  vertical tab
//   ```
//
// Anything else travels verbatim. An escape sequence we do not recognise
// is passed through unchanged rather than rejected; both behaviours exist
// in the wild and pass-through at least never corrupts data we do
// understand.
//
// === Pipelining
//
// A query parameter may carry a sequence of values. Each element produces
// one pipe-joined segment and every scalar parameter is repeated in every
// segment, so the server executes the verb once per element:
//
//   ```
//     clientkick reasonid=5 clid=1|reasonid=5 clid=2|reasonid=5 clid=3
//   ```
//
// === Correlation
//
// Responses carry no request identifier. The server answers queries
// strictly in the order they were sent, so the Nth status line observed
// on a connection terminates the response to the Nth query. Event lines
// are recognised by their leading `notify` token and never count towards
// that pairing. The client package builds its FIFO discipline on top of
// these two rules.
