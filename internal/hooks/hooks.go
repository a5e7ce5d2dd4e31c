// Package hooks implements the process-wide event dispatch shared by the
// protocol drivers and the relay manager: a name -> ordered (priority,
// handler) table, dispatched in priority/insertion order with per-handler
// panic isolation so one broken subscriber cannot take down the chain.
package hooks

import (
	"sort"
	"sync"

	"github.com/ircrelay/relayd/internal/logx"
)

// Event names — the protocol-agnostic vocabulary every driver emits.
const (
	UID                  = "UID"
	Quit                 = "QUIT"
	Kill                 = "KILL"
	Join                 = "JOIN"
	Part                 = "PART"
	Kick                 = "KICK"
	SJoin                = "SJOIN"
	Nick                 = "NICK"
	Save                 = "SAVE"
	SvsNick              = "SVSNICK"
	Mode                 = "MODE"
	Topic                = "TOPIC"
	Squit                = "SQUIT"
	ChgHost              = "CHGHOST"
	ChgIdent             = "CHGIDENT"
	ChgName              = "CHGNAME"
	Away                 = "AWAY"
	Invite               = "INVITE"
	Knock                = "KNOCK"
	ClientServicesLogin  = "CLIENT_SERVICES_LOGIN"
	ClientOpered         = "CLIENT_OPERED"
	EndBurst             = "ENDBURST"
	Disconnect           = "DISCONNECT"
	PrivMsg              = "PRIVMSG"
	Notice               = "NOTICE"
)

// Args carries a hook event's payload. Network/Source/Command are always
// populated; Data holds command-specific fields (e.g. "target", "text",
// "oldnick", "channel", "modes", "ts").
type Args struct {
	Network string
	Source  string // UID or SID that originated the event
	Command string
	Data    map[string]interface{}
}

// Get is a convenience accessor returning "" for a missing/non-string key.
func (a Args) Get(key string) string {
	if v, ok := a.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Handler processes a hook event. Returning false suppresses delivery to
// any handler later in the chain for this dispatch (used by antispam-style
// consumers to veto a relay) — this is an external collaborator concern,
// but the veto mechanism itself lives in the bus.
type Handler func(args Args) bool

type entry struct {
	priority int
	seq      int
	name     string
	handler  Handler
}

// Bus is a process-wide hook dispatcher. The zero value is not usable; use
// New. A single Bus is shared by every netmgr.Network and the relay
// manager.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	seq      int
	log      *logx.Logger
}

// New creates an empty hook bus.
func New(log *logx.Logger) *Bus {
	return &Bus{handlers: make(map[string][]entry), log: log}
}

// Register adds handler for event at priority (lower runs first); ties
// break by registration order. name identifies the handler for logging
// when it panics or errors.
func (b *Bus) Register(event string, priority int, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.handlers[event] = append(b.handlers[event], entry{priority: priority, seq: b.seq, name: name, handler: handler})
	sort.SliceStable(b.handlers[event], func(i, j int) bool {
		return b.handlers[event][i].priority < b.handlers[event][j].priority
	})
}

// Unregister removes every handler previously registered under name for
// event (used when a plugin/service is torn down).
func (b *Bus) Unregister(event, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.handlers[event][:0]
	for _, e := range b.handlers[event] {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	b.handlers[event] = kept
}

// Dispatch runs every handler registered for args.Command in order. A
// handler panic or the handler map being empty never aborts dispatch for
// the remaining handlers; each is isolated and logged.
func (b *Bus) Dispatch(args Args) {
	b.mu.RLock()
	list := make([]entry, len(b.handlers[args.Command]))
	copy(list, b.handlers[args.Command])
	b.mu.RUnlock()

	for _, e := range list {
		if !b.invoke(e, args) {
			return
		}
	}
}

func (b *Bus) invoke(e entry, args Args) (cont bool) {
	cont = true
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Error("hook handler panicked", "handler", e.name, "event", args.Command, "panic", r)
			}
			cont = true
		}
	}()
	if !e.handler(args) {
		return false
	}
	return true
}

// HandlerCount reports how many handlers are registered for event
// (diagnostics/tests).
func (b *Bus) HandlerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
