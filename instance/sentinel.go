package instance

import "strings"

// sentinelState tracks the handshake read loop:
//
//	ReadingLine -> SentinelSeen            -> Done  (token on a line of its own)
//	ReadingLine -> SentinelEmbeddedInLine  -> Done  (token embedded in a line)
//
// A line equal to the token is consumed and not emitted. A line merely
// containing the token is truncated at the token (the token and everything
// after it is stripped) and the prefix is emitted on the transition to Done;
// this lets a target's final answer share a line with its own echoed
// acknowledgement. Every other line is emitted verbatim.
type sentinelState int

const (
	stateReadingLine sentinelState = iota
	stateSentinelSeen
	stateSentinelEmbedded
	stateDone
)

type sentinelScanner struct {
	token   string
	state   sentinelState
	pending string
	lines   []string
}

func newSentinelScanner(token string) *sentinelScanner {
	return &sentinelScanner{token: token, state: stateReadingLine}
}

func (s *sentinelScanner) done() bool { return s.state == stateDone }

// feed consumes one response line and advances the machine.
func (s *sentinelScanner) feed(line string) {
	if s.state != stateReadingLine {
		return
	}
	idx := strings.Index(line, s.token)
	switch {
	case line == s.token:
		s.state = stateSentinelSeen
	case idx >= 0:
		s.state = stateSentinelEmbedded
		s.pending = line[:idx]
	default:
		s.lines = append(s.lines, line)
		return
	}
	s.advance()
}

// advance takes the terminal observation states to Done, emitting the
// truncated prefix for the embedded case.
func (s *sentinelScanner) advance() {
	switch s.state {
	case stateSentinelSeen:
		s.state = stateDone
	case stateSentinelEmbedded:
		s.lines = append(s.lines, s.pending)
		s.pending = ""
		s.state = stateDone
	}
}
