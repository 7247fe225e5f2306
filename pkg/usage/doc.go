// Package usage records per-request token accounting for relayed calls.
//
// The Recorder decouples the data path from persistence: Record never
// blocks, and under backpressure the oldest buffered event is dropped in
// favor of the newest. Events flow to a Sink; StoreSink writes rows in
// the account database and LogSink emits structured log lines instead.
package usage
