// Package ids implements the per-network UID/SID generators: fixed-width
// counters mapped to protocol-specific alphabets (base 36 for TS6, the
// 64-character numeric-nick alphabet for P10), plus SID template and
// range expansion. IDs are never reused within a process lifetime.
package ids

import (
	"strings"

	"github.com/ircrelay/relayd/internal/ircerr"
)

const (
	ts6Alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	p10Alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789[]"
	ts6BodyWidth = 6
	p10BodyWidth = 3
)

// Generator allocates UIDs for one introducing server's SID. It is not safe
// for concurrent use by more than one goroutine; each protocol driver keeps
// one generator per introducing server, driven only from its network's
// goroutine.
type Generator interface {
	// Next returns the next UID for this server, or ircerr.KindIDExhausted
	// once the alphabet's width is exhausted.
	Next() (string, error)
	// SID returns the generator's fixed server id.
	SID() string
}

// ts6Gen produces TS6 UIDs: 3-char SID + 6-char base-36 body,
// incremented right-to-left with carry, over A-Z0-9.
type ts6Gen struct {
	sid     string
	counter [ts6BodyWidth]byte // index into ts6Alphabet per position
	started bool
	network string
}

// NewTS6 creates a UID generator for the TS6 family (TS6/Ratbox/Charybdis/
// Hybrid/UnrealIRCd/InspIRCd all use this UID shape).
func NewTS6(sid, network string) Generator {
	return &ts6Gen{sid: sid, network: network}
}

func (g *ts6Gen) SID() string { return g.sid }

func (g *ts6Gen) Next() (string, error) {
	if !g.started {
		g.started = true
		// Counters start at all-'A' so the very first UID is SIDAAAAAA.
		for i := range g.counter {
			g.counter[i] = 0
		}
		return g.render(), nil
	}
	for i := ts6BodyWidth - 1; i >= 0; i-- {
		g.counter[i]++
		if int(g.counter[i]) < len(ts6Alphabet) {
			return g.render(), nil
		}
		g.counter[i] = 0
		if i == 0 {
			return "", ircerr.New(ircerr.KindIDExhausted, g.network, "TS6 UID space exhausted for SID "+g.sid)
		}
	}
	return g.render(), nil
}

func (g *ts6Gen) render() string {
	var sb strings.Builder
	sb.WriteString(g.sid)
	for _, idx := range g.counter {
		sb.WriteByte(ts6Alphabet[idx])
	}
	return sb.String()
}

// p10Gen produces P10 UIDs: 2-char SID + 3-char base-64 body over
// A-Za-z0-9[].
type p10Gen struct {
	sid     string
	counter [p10BodyWidth]byte
	started bool
	network string
}

// NewP10 creates a UID generator for the P10 family (ircu/nefarious/snircd).
func NewP10(sid, network string) Generator {
	return &p10Gen{sid: sid, network: network}
}

func (g *p10Gen) SID() string { return g.sid }

func (g *p10Gen) Next() (string, error) {
	if !g.started {
		g.started = true
		for i := range g.counter {
			g.counter[i] = 0
		}
		return g.render(), nil
	}
	for i := p10BodyWidth - 1; i >= 0; i-- {
		g.counter[i]++
		if int(g.counter[i]) < len(p10Alphabet) {
			return g.render(), nil
		}
		g.counter[i] = 0
		if i == 0 {
			return "", ircerr.New(ircerr.KindIDExhausted, g.network, "P10 UID space exhausted for SID "+g.sid)
		}
	}
	return g.render(), nil
}

func (g *p10Gen) render() string {
	var sb strings.Builder
	sb.WriteString(g.sid)
	for _, idx := range g.counter {
		sb.WriteByte(p10Alphabet[idx])
	}
	return sb.String()
}

// ValidateTS6SID reports whether sid is a syntactically valid TS6 SID:
// a digit followed by two alphanumerics.
func ValidateTS6SID(sid string) bool {
	if len(sid) != 3 {
		return false
	}
	if sid[0] < '0' || sid[0] > '9' {
		return false
	}
	for _, c := range sid[1:] {
		if !isAlnumUpper(byte(c)) {
			return false
		}
	}
	return true
}

func isAlnumUpper(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')
}

// ValidateTS6UID reports whether uid looks like SID + 6 alphanumerics.
func ValidateTS6UID(uid string) bool {
	if len(uid) != 3+ts6BodyWidth {
		return false
	}
	if !ValidateTS6SID(uid[:3]) {
		return false
	}
	for _, c := range uid[3:] {
		if !isAlnumUpper(byte(c)) {
			return false
		}
	}
	return true
}

// ValidateP10UID reports whether uid looks like a 2-char SID + 3-char body
// over the P10 alphabet.
func ValidateP10UID(uid string) bool {
	if len(uid) != 2+p10BodyWidth {
		return false
	}
	for _, c := range uid {
		if !strings.ContainsRune(p10Alphabet, c) {
			return false
		}
	}
	return true
}

// ExpandSIDTemplate expands a wildcard template like "1#A" into every SID
// it denotes: '#' at the first position iterates digits 0-9, elsewhere it
// iterates the full alphanumeric set. Used for hub pools that reserve a
// range of SIDs for spawned subservers rather than one fixed SID.
func ExpandSIDTemplate(template string) []string {
	if template == "" {
		return nil
	}
	result := []string{""}
	for i, c := range []byte(template) {
		var choices []byte
		if c == '#' {
			if i == 0 {
				choices = []byte("0123456789")
			} else {
				choices = []byte(ts6Alphabet)
			}
		} else {
			choices = []byte{c}
		}
		next := make([]string, 0, len(result)*len(choices))
		for _, prefix := range result {
			for _, ch := range choices {
				next = append(next, prefix+string(ch))
			}
		}
		result = next
	}
	return result
}

// SIDRange expands a P10-style numeric SID range ("MIN-MAX") into base-64
// encoded 2-char SIDs using the P10 alphabet.
func SIDRange(min, max int) []string {
	if max < min {
		min, max = max, min
	}
	out := make([]string, 0, max-min+1)
	for n := min; n <= max; n++ {
		hi := n / 64
		lo := n % 64
		if hi >= len(p10Alphabet) || lo >= len(p10Alphabet) {
			continue
		}
		out = append(out, string([]byte{p10Alphabet[hi], p10Alphabet[lo]}))
	}
	return out
}
