package protocol

import (
	"strings"
)

// Terminator ends every frame in both directions.
const Terminator = "\r"

// Kind tells whether an exchange writes a value or only reads one.
type Kind int

const (
	KindQuery Kind = iota
	KindSet
)

func (k Kind) String() string {
	if k == KindSet {
		return "set"
	}
	return "query"
}

// Reply labels the device attaches to numeric answers.
const (
	TokenVolts = "volts"
	TokenAmps  = "amps"
	TokenWatts = "watts"
	TokenRange = "AMP"
)

// expectedTokens maps a command to the substring a genuine reply carries.
// Commands not listed only need the line terminator.
var expectedTokens = map[string]string{
	"v":   TokenVolts,
	"vl":  TokenVolts,
	"uv":  TokenVolts,
	"cv":  TokenVolts,
	"i":   TokenAmps,
	"il":  TokenAmps,
	"ci":  TokenAmps,
	"p":   TokenWatts,
	"pl":  TokenWatts,
	"cp":  TokenWatts,
	"rng": TokenRange,
}

// ExpectedToken returns the reply token for command.
func ExpectedToken(command string) string {
	if tok, ok := expectedTokens[strings.ToLower(strings.TrimSpace(command))]; ok {
		return tok
	}
	return Terminator
}

// KindOf classifies an exchange by whether a value is supplied.
func KindOf(value string) Kind {
	if value == "" {
		return KindQuery
	}
	return KindSet
}

// QueryFrame encodes "<command>?\r".
func QueryFrame(command string) []byte {
	return []byte(command + "?" + Terminator)
}

// Encode builds the bytes for one exchange. A set is immediately followed by
// the same command's query because the device never acknowledges a set.
func Encode(command, value string) []byte {
	if KindOf(value) == KindQuery {
		return QueryFrame(command)
	}
	frame := make([]byte, 0, 2*len(command)+len(value)+4)
	frame = append(frame, command...)
	frame = append(frame, ' ')
	frame = append(frame, value...)
	frame = append(frame, Terminator...)
	return append(frame, QueryFrame(command)...)
}

// extractReply picks the reply line out of raw bytes read up to token.
// Echoed frames and partial lines before the labelled answer are dropped.
// It returns "" when no line carries the token. For terminator-only
// commands a read cut off before the terminator counts as no reply.
func extractReply(raw []byte, token string) string {
	text := string(raw)
	if token == Terminator {
		i := strings.LastIndex(text, Terminator)
		if i < 0 {
			return ""
		}
		return lastLine(text[:i])
	}

	lines := splitLines(text)
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], token) {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

// Field returns the n-th whitespace separated field of reply, or "".
func Field(reply string, n int) string {
	fields := strings.Fields(reply)
	if n < 0 || n >= len(fields) {
		return ""
	}
	return fields[n]
}

func splitLines(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' })
}

func lastLine(text string) string {
	lines := splitLines(text)
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
