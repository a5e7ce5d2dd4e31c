// Package security holds the wire-value validation helpers shared by the
// relay manager and the connection plumbing: deciding whether a foreign
// value is safe to re-emit on another network's wire. Relayed values cross
// trust boundaries between IRCds that do not agree on syntax, so anything
// forwarded verbatim is checked here first.
package security

import "strings"

// ValidHostmask reports whether s looks like a nick!user@host mask, the
// only shape a list-mode value (ban, exempt, invex) may take when relayed
// to another network. Wildcards are fine; spaces, control bytes and
// missing segments are not.
func ValidHostmask(s string) bool {
	if s == "" || len(s) > 250 {
		return false
	}
	bang := strings.IndexByte(s, '!')
	if bang <= 0 {
		return false
	}
	at := strings.IndexByte(s[bang:], '@')
	if at <= 1 {
		return false
	}
	at += bang
	if at == len(s)-1 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == ',' || s[i] == 0x7f {
			return false
		}
	}
	// Extended bans ($a:account, ~q:mask and friends) are protocol-specific;
	// only the portable three-part form passes.
	if strings.IndexByte(s[:bang], ':') >= 0 {
		return false
	}
	return strings.Count(s, "!") == 1 && strings.Count(s[bang:], "@") == 1
}

// ValidChannelName reports whether name can exist as a channel on a remote
// network: a #/&/+ sigil followed by at least one byte, none of which is a
// space, comma or control byte.
func ValidChannelName(name string) bool {
	if len(name) < 2 || len(name) > 64 {
		return false
	}
	if name[0] != '#' && name[0] != '&' && name[0] != '+' {
		return false
	}
	for i := 1; i < len(name); i++ {
		b := name[i]
		if b < 33 || b == ',' || b == 0x7f {
			return false
		}
	}
	return true
}

// StripControlCodes removes mIRC color sequences (0x03 with up to two
// foreground and two background digits) and the bold/reset/reverse/
// italics/underline toggle bytes, leaving plain text. Used when relaying
// into networks configured to refuse formatted text.
func StripControlCodes(msg string) string {
	var sb strings.Builder
	sb.Grow(len(msg))
	for i := 0; i < len(msg); i++ {
		b := msg[i]
		if b == 0x03 {
			j := i + 1
			for n := 0; n < 2 && j < len(msg) && msg[j] >= '0' && msg[j] <= '9'; n++ {
				j++
			}
			if j < len(msg) && msg[j] == ',' && j+1 < len(msg) && msg[j+1] >= '0' && msg[j+1] <= '9' {
				j++
				for n := 0; n < 2 && j < len(msg) && msg[j] >= '0' && msg[j] <= '9'; n++ {
					j++
				}
			}
			i = j - 1
			continue
		}
		switch b {
		case 0x02, 0x0f, 0x16, 0x1d, 0x1e, 0x1f:
			continue
		}
		sb.WriteByte(b)
	}
	return sb.String()
}
