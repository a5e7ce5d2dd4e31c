// Package rfc1459 implements the line grammar shared by every
// server-to-server protocol driver: ":source COMMAND p1 p2 :trailing",
// with the trailing argument preserved byte-for-byte rather than
// re-joined from fields. Only Clientbot swaps this for gopkg.in/irc.v3,
// since its wire format is full IRCv3 with message tags (see
// internal/protocols/clientbot).
package rfc1459

import "strings"

// Message is one line of wire traffic: an optional source, a command, and
// its parameters (the last of which may have been introduced by ':' and
// so may itself contain spaces).
type Message struct {
	Source  string
	Command string
	Params  []string
	Raw     string
}

// Parse parses a single line (no trailing \r\n — the caller's line framer
// has already stripped that).
func Parse(raw string) *Message {
	msg := &Message{Raw: raw, Params: []string{}}
	if raw == "" {
		return msg
	}

	pos := 0
	if raw[0] == ':' {
		end := strings.IndexByte(raw, ' ')
		if end == -1 {
			msg.Source = raw[1:]
			return msg
		}
		msg.Source = raw[1:end]
		pos = end + 1
	}

	for pos < len(raw) && raw[pos] == ' ' {
		pos++
	}

	end := strings.IndexByte(raw[pos:], ' ')
	if end == -1 {
		msg.Command = strings.ToUpper(raw[pos:])
		return msg
	}
	msg.Command = strings.ToUpper(raw[pos : pos+end])
	pos += end + 1

	for pos < len(raw) {
		for pos < len(raw) && raw[pos] == ' ' {
			pos++
		}
		if pos >= len(raw) {
			break
		}
		if raw[pos] == ':' {
			msg.Params = append(msg.Params, raw[pos+1:])
			break
		}
		end := strings.IndexByte(raw[pos:], ' ')
		if end == -1 {
			msg.Params = append(msg.Params, raw[pos:])
			break
		}
		msg.Params = append(msg.Params, raw[pos:pos+end])
		pos += end + 1
	}

	return msg
}

// IsValid reports whether the line produced a usable command.
func (m *Message) IsValid() bool { return m.Command != "" }

// Param returns params[i], or "" if out of range.
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// String renders the message back to wire form, adding a ':' prefix to the
// final parameter only when required (it is empty or contains a space).
func (m *Message) String() string {
	var sb strings.Builder
	if m.Source != "" {
		sb.WriteByte(':')
		sb.WriteString(m.Source)
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Command)
	for i, p := range m.Params {
		sb.WriteByte(' ')
		if i == len(m.Params)-1 && (p == "" || strings.Contains(p, " ") || strings.HasPrefix(p, ":")) {
			sb.WriteByte(':')
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// StripNewlines removes \r and \n from s — required before
// any outgoing argument is enqueued, since a raw newline would let a
// malicious argument inject a second wire command.
func StripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
