package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel must be
// consumed to completion but its data is no longer wanted (e.g. the event
// stream of a session that lost a race with teardown).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
