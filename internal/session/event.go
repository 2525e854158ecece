package session

// Sink receives the output stream of one session, in order. Data batches
// arrive in stream order; Exit is delivered exactly once, after the last
// batch. Implementations must not block for long; the session's output
// loop calls them directly.
type Sink interface {
	Data(p []byte)
	Exit(exitCode *int, signal string, trailer []string)
}

// NopSink discards everything. Useful when the caller only consumes output
// through Subscribe.
type NopSink struct{}

func (NopSink) Data([]byte) {}

func (NopSink) Exit(*int, string, []string) {}
