package framing

import "strings"

// Scanner is an incremental frame extractor. The zero value is ready to use.
// A Scanner is not safe for concurrent use; each connection owns its own.
type Scanner struct {
	acc      strings.Builder
	depth    int
	inString bool
	escape   bool
}

// Feed scans text and returns the frames completed by it, in stream order.
// An unterminated frame is retained for the next call.
func (s *Scanner) Feed(text string) []string {
	var frames []string
	for i := 0; i < len(text); i++ {
		if frame, ok := s.step(text[i]); ok {
			frames = append(frames, frame)
		}
	}
	if s.depth == 0 {
		// Nothing is in progress: forget noise and any string state it left.
		s.clear()
	}
	return frames
}

func (s *Scanner) step(c byte) (string, bool) {
	switch {
	case s.escape:
		s.escape = false
	case c == '\\' && s.inString:
		s.escape = true
	case c == '"':
		s.inString = !s.inString
	case s.inString:
	case c == '{':
		if s.depth == 0 {
			s.acc.Reset()
		}
		s.depth++
	case c == '}' && s.depth > 0:
		s.depth--
		if s.depth == 0 {
			s.acc.WriteByte(c)
			frame := strings.TrimSpace(s.acc.String())
			s.acc.Reset()
			if strings.HasPrefix(frame, "{") && strings.HasSuffix(frame, "}") {
				return frame, true
			}
			return "", false
		}
	}
	if s.depth > 0 {
		s.acc.WriteByte(c)
	}
	return "", false
}

// Pending returns the text of the frame in progress, or "" if none. This is
// the remainder Extract would return for the same input.
func (s *Scanner) Pending() string {
	if s.depth == 0 {
		return ""
	}
	pending := s.acc.String()
	if !strings.HasPrefix(strings.TrimSpace(pending), "{") {
		return ""
	}
	return pending
}

// PendingLen returns the size in bytes of the frame in progress.
func (s *Scanner) PendingLen() int {
	if s.depth == 0 {
		return 0
	}
	return s.acc.Len()
}

// Depth returns the current brace depth.
func (s *Scanner) Depth() int {
	return s.depth
}

// Reset discards the frame in progress and all scanning state.
func (s *Scanner) Reset() {
	s.depth = 0
	s.clear()
}

func (s *Scanner) clear() {
	s.acc.Reset()
	s.inString = false
	s.escape = false
}
