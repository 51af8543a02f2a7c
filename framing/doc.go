// Package framing recovers complete JSON objects from an unframed text stream.
//
// Sensor peripherals write JSON documents back to back with no length prefix
// or delimiter, and a stream transport is free to split or merge them at any
// byte offset. The extractor tracks brace depth outside of string literals and
// emits each top-level object once its closing brace arrives.
//
// # Rules
//
//   - A quote toggles the in-string state unless it is escaped. Inside a string
//     a backslash escapes exactly one following character.
//   - Braces only count outside strings. A closing brace at depth zero is
//     ignored.
//   - Anything before the first opening brace of a frame is discarded.
//   - Text left over after the last complete frame is kept only if a frame is
//     in progress. Trailing noise with no opening brace is dropped, since there
//     is no reliable way to resynchronize inside it.
//
// # Usage
//
// Extract works on a whole buffer and returns the unconsumed remainder, which
// the caller prepends to the next read:
//
//	frames, rest := framing.Extract(buf + chunk)
//	buf = rest
//
// Scanner produces the same frames but keeps its state between calls, so each
// byte is examined once no matter how the stream is chunked:
//
//	var s framing.Scanner
//	for chunk := range chunks {
//	    for _, frame := range s.Feed(chunk) {
//	        handle(frame)
//	    }
//	}
//
// Both operate on bytes. Every structural character is ASCII and never occurs
// inside a multi-byte UTF-8 sequence, so frames are byte-identical to their
// source.
package framing
