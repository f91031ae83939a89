package frame

import (
	"bufio"
	"strings"
)

// EncodeMessage frames text as one message: the text followed by MessageEnd.
func EncodeMessage(text string) []byte {
	b := make([]byte, 0, len(text)+1)
	b = append(b, text...)
	return append(b, MessageEnd)
}

// ReadReply reads one reply and strips its MessageEnd marker. A reply cut
// short by end of input comes back with a *StreamClosedError carrying the
// partial text.
func ReadReply(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(MessageEnd)
	if err != nil {
		return "", &StreamClosedError{Partial: s, Err: err}
	}
	return s[:len(s)-1], nil
}

var controlReplacer = strings.NewReplacer(
	string(rune(MessageEnd)), "^D",
	string(rune(Interrupt)), "^C",
)

// Sanitize rewrites protocol markers inside untrusted output in caret
// notation so evaluated code cannot end a reply early.
func Sanitize(output string) string {
	if !strings.ContainsAny(output, string([]rune{MessageEnd, Interrupt})) {
		return output
	}
	return controlReplacer.Replace(output)
}
