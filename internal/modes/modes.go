// Package modes implements the mode engine: parsing, applying,
// reversing, joining and wrapping IRC mode strings against a per-network
// CHANMODES map split into the four argument classes (list / always-arg /
// arg-when-set / no-arg) plus status prefixes. Exercised by every
// protocol driver's MODE/SJOIN handling.
package modes

import (
	"sort"
	"strings"

	"github.com/ircrelay/relayd/internal/entity"
)

// Class categorises a channel mode letter by its argument behaviour.
type Class int

const (
	// ClassA (list): bans, exceptions, invex. Takes an arg on set and
	// unset; multiple values per letter.
	ClassA Class = iota
	// ClassB (key-like): always takes an argument; one value per letter.
	ClassB
	// ClassC (limit-like): argument only when setting; setting replaces.
	ClassC
	// ClassD: never takes an argument.
	ClassD
)

// ModeMap is a network's CHANMODES/PREFIX table, parsed from the wire
// values a protocol driver receives at connect time (InspIRCd's CAPAB
// CHANMODES, ngIRCd's 005, TS6's CAPAB token list + fixed tables, ...).
type ModeMap struct {
	// ChanModes maps a channel mode letter to its class.
	ChanModes map[byte]Class
	// UserModes maps a user mode letter to its class (ClassD for plain
	// toggles like +i, ClassB for argument-taking ones like snomasks).
	UserModes map[byte]Class
	// Prefixes maps a status letter (as used in MODE, e.g. 'o') to its
	// PrefixLevel.
	Prefixes map[byte]entity.PrefixLevel
	// PrefixSymbols maps a PrefixLevel to its display symbol (@,%,+, ...)
	// used when rendering NAMES/SJOIN member lists.
	PrefixSymbols map[entity.PrefixLevel]byte
}

// NewTS6ModeMap returns the default TS6/Charybdis-family mode map, used as
// a base that drivers narrow (Hybrid) or widen (Unreal) from.
func NewTS6ModeMap() *ModeMap {
	return &ModeMap{
		ChanModes: map[byte]Class{
			'b': ClassA, 'e': ClassA, 'I': ClassA,
			'k': ClassB,
			'l': ClassC,
			'n': ClassD, 't': ClassD, 'm': ClassD, 'i': ClassD,
			's': ClassD, 'p': ClassD, 'r': ClassD, 'c': ClassD,
			'M': ClassD, 'R': ClassD, 'g': ClassD, 'z': ClassD,
		},
		UserModes: map[byte]Class{
			'i': ClassD, 'o': ClassD, 'w': ClassD, 's': ClassD,
			'r': ClassD, 'd': ClassD, 'x': ClassD,
		},
		Prefixes: map[byte]entity.PrefixLevel{
			'y': entity.PrefixOwner,
			'a': entity.PrefixAdmin,
			'o': entity.PrefixOp,
			'h': entity.PrefixHalfop,
			'v': entity.PrefixVoice,
		},
		PrefixSymbols: map[entity.PrefixLevel]byte{
			entity.PrefixOwner:  '~',
			entity.PrefixAdmin:  '&',
			entity.PrefixOp:     '@',
			entity.PrefixHalfop: '%',
			entity.PrefixVoice:  '+',
		},
	}
}

// Change is a single (sign, letter, argument) mode change. IsPrefix
// distinguishes status changes (argument is always a UID, never a raw
// nick, once ParseModes has resolved it) from ordinary channel modes.
type Change struct {
	Add      bool
	Letter   byte
	Arg      string
	IsPrefix bool
	Level    entity.PrefixLevel
}

// NickResolver resolves a nick to a UID and reports whether that UID is a
// member of the channel the mode change targets — ParseModes rejects
// prefix-mode arguments that fail either check.
type NickResolver func(nick string) (uid string, onChannel bool, ok bool)

// ParseModes consumes a modestring plus trailing arguments and returns the
// ordered list of mode changes.
func ParseModes(mm *ModeMap, modestring string, args []string, resolve NickResolver) []Change {
	var out []Change
	if modestring == "" {
		return out
	}
	add := true
	if modestring[0] != '+' && modestring[0] != '-' {
		// "Leading character defaults to + if missing."
		modestring = "+" + modestring
	}
	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(args) {
			return "", false
		}
		a := args[argIdx]
		argIdx++
		return a, true
	}

	for i := 0; i < len(modestring); i++ {
		c := modestring[i]
		switch c {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}
		letter := c

		if level, ok := mm.Prefixes[letter]; ok {
			nick, hasArg := nextArg()
			if !hasArg {
				continue // missing required argument: drop
			}
			if resolve == nil {
				continue
			}
			uid, onChannel, ok := resolve(nick)
			if !ok || !onChannel {
				continue // unknown or not on channel: drop
			}
			out = append(out, Change{Add: add, Letter: letter, Arg: uid, IsPrefix: true, Level: level})
			continue
		}

		class, known := mm.ChanModes[letter]
		if !known {
			class, known = mm.UserModes[letter]
			if !known {
				continue // unknown letter: drop silently
			}
		}

		switch class {
		case ClassA, ClassB:
			arg, hasArg := nextArg()
			if !hasArg {
				continue
			}
			out = append(out, Change{Add: add, Letter: letter, Arg: arg})
		case ClassC:
			if add {
				arg, hasArg := nextArg()
				if !hasArg {
					continue
				}
				out = append(out, Change{Add: add, Letter: letter, Arg: arg})
			} else {
				out = append(out, Change{Add: add, Letter: letter})
			}
		case ClassD:
			out = append(out, Change{Add: add, Letter: letter})
		}
	}
	return out
}

func keyFor(letter byte, arg string) entity.ModeValue {
	return entity.ModeValue{Mode: string(letter), Arg: arg}
}

// findCaseInsensitive returns the stored ModeValue for letter whose arg
// matches needle case-insensitively: list values keep their
// rule that class A/B store the original casing of the argument but
// compare case-insensitively.
func findCaseInsensitive(ch *entity.Channel, letter byte, needle string) (entity.ModeValue, bool) {
	for mv := range ch.Modes {
		if mv.Mode == string(letter) && strings.EqualFold(mv.Arg, needle) {
			return mv, true
		}
	}
	return entity.ModeValue{}, false
}

// ApplyChannelModes mutates ch's mode/prefix state per the
// apply_modes contract. Channel membership is checked (ch.HasMember) so a
// prefix change whose UID argument is no longer on the channel (race with
// a PART) is silently dropped rather than corrupting Channel.Prefixes.
func ApplyChannelModes(mm *ModeMap, ch *entity.Channel, changes []Change) {
	for _, chg := range changes {
		if chg.IsPrefix {
			if !ch.HasMember(chg.Arg) {
				continue
			}
			ch.SetPrefix(chg.Level, chg.Arg, chg.Add)
			continue
		}

		class, known := mm.ChanModes[chg.Letter]
		if !known {
			continue
		}
		switch class {
		case ClassA:
			if chg.Add {
				if _, exists := findCaseInsensitive(ch, chg.Letter, chg.Arg); !exists {
					ch.Modes[keyFor(chg.Letter, chg.Arg)] = struct{}{}
				}
			} else {
				if mv, exists := findCaseInsensitive(ch, chg.Letter, chg.Arg); exists {
					delete(ch.Modes, mv)
				}
			}
		case ClassB:
			if chg.Add {
				for mv := range ch.Modes {
					if mv.Mode == string(chg.Letter) {
						delete(ch.Modes, mv)
					}
				}
				ch.Modes[keyFor(chg.Letter, chg.Arg)] = struct{}{}
			} else {
				if mv, exists := findCaseInsensitive(ch, chg.Letter, chg.Arg); exists {
					delete(ch.Modes, mv)
				} else if chg.Arg == "*" {
					for mv := range ch.Modes {
						if mv.Mode == string(chg.Letter) {
							delete(ch.Modes, mv)
						}
					}
				}
				// else: argument doesn't match current value, no-op
			}
		case ClassC:
			for mv := range ch.Modes {
				if mv.Mode == string(chg.Letter) {
					delete(ch.Modes, mv)
				}
			}
			if chg.Add {
				ch.Modes[keyFor(chg.Letter, chg.Arg)] = struct{}{}
			}
		case ClassD:
			key := keyFor(chg.Letter, "")
			if chg.Add {
				ch.Modes[key] = struct{}{}
			} else {
				delete(ch.Modes, key)
			}
		}
	}
}

// currentArg returns the argument currently stored for a class B/C letter
// on before, or ("", false) if unset.
func currentArg(before *entity.Channel, letter byte) (string, bool) {
	for mv := range before.Modes {
		if mv.Mode == string(letter) {
			return mv.Arg, true
		}
	}
	return "", false
}

// ReverseChannelModes computes the mode change that would undo changes,
// evaluated against before (a Channel.Clone() taken prior to applying
// changes). Changes that would have
// been no-ops (list mode already at the target value, unsetting an unset
// mode, etc.) are dropped rather than reversed.
func ReverseChannelModes(mm *ModeMap, before *entity.Channel, changes []Change) []Change {
	var out []Change
	for _, chg := range changes {
		if chg.IsPrefix {
			had := before.HasPrefix(chg.Level, chg.Arg)
			if chg.Add && !had {
				out = append(out, Change{Add: false, Letter: chg.Letter, Arg: chg.Arg, IsPrefix: true, Level: chg.Level})
			} else if !chg.Add && had {
				out = append(out, Change{Add: true, Letter: chg.Letter, Arg: chg.Arg, IsPrefix: true, Level: chg.Level})
			}
			continue
		}

		class, known := mm.ChanModes[chg.Letter]
		if !known {
			continue
		}
		switch class {
		case ClassA:
			_, exists := findCaseInsensitive(before, chg.Letter, chg.Arg)
			if chg.Add && !exists {
				out = append(out, Change{Add: false, Letter: chg.Letter, Arg: chg.Arg})
			} else if !chg.Add && exists {
				// restore the original-cased argument
				mv, _ := findCaseInsensitive(before, chg.Letter, chg.Arg)
				out = append(out, Change{Add: true, Letter: chg.Letter, Arg: mv.Arg})
			}
		case ClassB:
			oldArg, hadOld := currentArg(before, chg.Letter)
			if chg.Add {
				if hadOld && strings.EqualFold(oldArg, chg.Arg) {
					continue // no real change
				}
				if hadOld {
					out = append(out, Change{Add: true, Letter: chg.Letter, Arg: oldArg})
				} else {
					out = append(out, Change{Add: false, Letter: chg.Letter, Arg: chg.Arg})
				}
			} else {
				if hadOld && strings.EqualFold(oldArg, chg.Arg) {
					out = append(out, Change{Add: true, Letter: chg.Letter, Arg: oldArg})
				}
				// else: the unset wouldn't have changed anything, drop
			}
		case ClassC:
			oldArg, hadOld := currentArg(before, chg.Letter)
			if chg.Add {
				if hadOld {
					out = append(out, Change{Add: true, Letter: chg.Letter, Arg: oldArg})
				} else {
					out = append(out, Change{Add: false, Letter: chg.Letter})
				}
			} else {
				if hadOld {
					// "unsetting +l produces +l <oldvalue>"
					out = append(out, Change{Add: true, Letter: chg.Letter, Arg: oldArg})
				}
			}
		case ClassD:
			_, set := findCaseInsensitive(before, chg.Letter, "")
			if chg.Add && !set {
				out = append(out, Change{Add: false, Letter: chg.Letter})
			} else if !chg.Add && set {
				out = append(out, Change{Add: true, Letter: chg.Letter})
			}
		}
	}
	return out
}

// JoinModes serialises changes into a single "+xy-z" modestring plus its
// ordered argument list, coalescing consecutive same-sign changes. If sort
// is true, prefix (status) changes are moved ahead of all other changes;
// the non-prefix changes keep their original relative order and are not
// grouped by class A/B/C/D.
func JoinModes(changes []Change, sort_ bool) (string, []string) {
	ordered := changes
	if sort_ {
		ordered = append([]Change(nil), changes...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return classRank(ordered[i]) < classRank(ordered[j])
		})
	}

	var sb strings.Builder
	var args []string
	lastAdd := 2 // 0=false,1=true,2=unset
	for _, chg := range ordered {
		addInt := 0
		if chg.Add {
			addInt = 1
		}
		if addInt != lastAdd {
			if chg.Add {
				sb.WriteByte('+')
			} else {
				sb.WriteByte('-')
			}
			lastAdd = addInt
		}
		sb.WriteByte(chg.Letter)
		if chg.Arg != "" || (chg.IsPrefix) {
			args = append(args, chg.Arg)
		}
	}
	return sb.String(), args
}

func classRank(c Change) int {
	if c.IsPrefix {
		return 0
	}
	return 1
}

// WrapModes groups changes into chunks that respect maxModesPerMsg letters
// per line and an approximate maxLineBytes budget once rendered, so a
// driver can emit one MODE/FMODE/SVSMODE line per chunk instead of a
// single line an IRCd would reject as too long.
func WrapModes(changes []Change, maxModesPerMsg, maxLineBytes int) [][]Change {
	if maxModesPerMsg <= 0 {
		maxModesPerMsg = len(changes)
	}
	var chunks [][]Change
	var cur []Change
	curBytes := 0
	for _, chg := range changes {
		size := 2 // sign char amortized + letter
		if chg.Arg != "" {
			size += len(chg.Arg) + 1
		}
		if len(cur) >= maxModesPerMsg || (curBytes+size > maxLineBytes && len(cur) > 0) {
			chunks = append(chunks, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, chg)
		curBytes += size
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// ClearNonListModes removes every class B/C/D mode from ch, keeping list
// (class A) entries, the lower-TS-wins burst merge: an older channel
// incarnation overrides flags, keys and limits but never bans.
func ClearNonListModes(mm *ModeMap, ch *entity.Channel) {
	for mv := range ch.Modes {
		if len(mv.Mode) == 1 && mm.ChanModes[mv.Mode[0]] == ClassA {
			continue
		}
		delete(ch.Modes, mv)
	}
}
