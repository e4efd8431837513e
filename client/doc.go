package client

// This package owns a single ServerQuery control connection and turns
// the wire protocol into something you can call.
//
// Concurrency model: one background reader goroutine per connection. It
// is started when the connection is established and is the only thing
// that ever reads from the stream. Every line it reads is classified as
// an event (leading `notify` token), the continuation of the current
// response block, or the block's terminating status line. Completed
// responses and events are handed to callers over buffered channels, so
// Recv and WaitForEvent are plain channel receives with a context for
// cancellation. Writes are serialised by a mutex; appending to the
// pending-response queue happens under the same mutex as the write so
// wire order and queue order can never disagree.
//
// The protocol has no request identifiers. Correlation is strictly FIFO:
// the Nth status line observed terminates the response to the Nth query
// sent. The engine therefore tracks one pending entry per sent query.
// Send expects the caller to claim the response with Recv (or Exec,
// which does both). SendIgnoreResponse is the explicit fire-and-forget
// mode: the engine still counts the eventual response and throws it
// away, keeping the stream in sync without the caller waiting.
//
// Timeouts on Recv and WaitForEvent are soft. An expired wait returns
// ErrTimeout and abandons nothing: the response (or event) is still
// queued and the next call claims it. Transport failures and protocol
// desynchronisation are fatal: the connection transitions to closing,
// every blocked caller is released with a terminal error, and nothing is
// retried internally.
