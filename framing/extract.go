package framing

// Extract returns the complete top-level objects found in buffer, in order,
// and the unterminated frame left at its end. The remainder is empty when no
// frame is in progress.
func Extract(buffer string) (frames []string, remainder string) {
	var s Scanner
	frames = s.Feed(buffer)
	return frames, s.Pending()
}
