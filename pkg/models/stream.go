package models

// StreamChunk is one ordered fragment of a completion delivered to the caller.
// Every stream ends with exactly one chunk where Final is set. A final chunk
// carrying Err marks an aborted stream.
type StreamChunk struct {
	Seq   int
	Text  string
	Final bool
	Err   error
}
