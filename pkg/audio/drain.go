package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel must be
// consumed to completion but the data itself is no longer needed (e.g., the
// tail of a [Source.Frames] channel during shutdown).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
