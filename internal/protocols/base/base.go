// Package base defines the Driver contract implemented by every
// protocol-specific package under internal/protocols, and the BaseDriver
// helper those packages embed: the shared ownership check behind
// InvalidSource, the TS-arbitration rule every burst-style protocol
// agrees on, and the plumbing that lets each driver share one
// ircconn.Conn, one hooks.Bus and one entity.NetworkState.
package base

import (
	"context"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/ircconn"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

// ClientField enumerates the attributes UpdateClient can change on an
// already-introduced user.
type ClientField int

const (
	FieldIdent ClientField = iota
	FieldHost
	FieldGecos
	FieldIP
)

// Driver is the per-wire-protocol contract every internal/protocols/*
// package implements. A Driver owns exactly one entity.NetworkState and
// one ircconn.Conn for the lifetime of one connection attempt; netmgr
// constructs a fresh Driver each time a network (re)connects.
type Driver interface {
	// Connect performs the handshake (PASS/CAPAB/SERVER/SVINFO or the
	// protocol's equivalent) over nc, blocking until registration
	// completes or fails.
	Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error

	// HandleLine processes one already-parsed wire line, mutating the
	// driver's entity.NetworkState and returning the hook events it
	// implies (the caller dispatches them on the shared hooks.Bus).
	HandleLine(msg *rfc1459.Message) []hooks.Args

	// SpawnClient introduces a virtual user. onServer selects the
	// internal server to home it on ("" = our root server); relay clones
	// pass their home network's subserver SID so a SQUIT of that
	// subserver takes its clones with it.
	SpawnClient(nick, ident, host, gecos, ip string, modes []string, ts int64, onServer string) (uid string, err error)
	SpawnServer(sid, name, description string) error

	Join(uid, channel string, ts int64) error
	Part(uid, channel, reason string) error
	Quit(uid, reason string) error
	Kick(sourceUID, channel, targetUID, reason string) error
	Kill(sourceUID, targetUID, reason string) error
	Nick(uid, newNick string, ts int64) error
	Mode(sourceUID, target string, changes []modes.Change) error
	Topic(sourceUID, channel, text string, ts int64) error
	Message(sourceUID, target, text string) error
	Notice(sourceUID, target, text string) error
	Invite(sourceUID, targetUID, channel string) error
	Knock(sourceUID, channel, text string) error
	Numeric(targetUID string, numeric int, params []string) error
	UpdateClient(uid string, field ClientField, value string) error
	Away(uid, text string) error
	Ping() error
	SJoin(channel string, ts int64, changes []modes.Change, members []string) error
	Squit(sid, reason string) error
}

// BaseDriver bundles the state and helpers every concrete Driver embeds:
// the shared entity index, hook bus, connection, local SID and the
// network's config. Concrete drivers embed *BaseDriver and implement the
// protocol-specific send/parse methods around it.
type BaseDriver struct {
	Network *entity.NetworkState
	Hooks   *hooks.Bus
	Conn    *ircconn.Conn
	Cfg     *config.Network
}

// NewBaseDriver constructs the shared portion of a driver for one
// connection attempt.
func NewBaseDriver(cfg *config.Network, bus *hooks.Bus) *BaseDriver {
	return &BaseDriver{
		Network: entity.NewNetworkState(cfg.SID),
		Hooks:   bus,
		Cfg:     cfg,
	}
}

// OwnsUID reports whether uid is introduced on this network at all — the
// weakest ownership check, used before any lookup that would otherwise
// panic on a nil map entry.
func (b *BaseDriver) OwnsUID(uid string) bool {
	_, ok := b.Network.GetUser(uid)
	return ok
}

// InvalidSource implements the ownership guard: an outgoing call is
// rejected unless sourceUID exists and is homed on a server we
// introduced (Internal == true). Users learned from the uplink's burst
// fail this, so calls purporting to originate "from" a user we did not
// spawn are rejected here rather than reaching the wire.
func (b *BaseDriver) InvalidSource(sourceUID string) bool {
	u, ok := b.Network.GetUser(sourceUID)
	if !ok {
		return true
	}
	srv, ok := b.Network.GetServer(u.ServerID)
	if !ok {
		return true
	}
	return !srv.Internal
}

// SplitReason synthesizes the quit reason for users lost when the server
// identified by sid splits away: the conventional masked "*.net *.split"
// unless the network is configured to show real server names. Call before
// removing the server from state.
func (b *BaseDriver) SplitReason(sid string) string {
	srv, ok := b.Network.GetServer(sid)
	if !ok || b.Cfg == nil || !b.Cfg.ShowNetsplits {
		return "*.net *.split"
	}
	uplink := "*.net"
	if up, ok := b.Network.GetServer(srv.UplinkSID); ok {
		uplink = up.Name
	}
	return uplink + " " + srv.Name
}

// WinsTS implements the TS-arbitration rule used identically by every
// burst-style driver (TS6 SJOIN, InspIRCd FJOIN/FMODE, P10 BURST, Unreal
// SJOIN): lower TS wins; on an exact tie the side is undecided and the
// caller must merge rather than replace.
func WinsTS(oursTS, theirsTS int64) (weWin bool, tie bool) {
	if oursTS == theirsTS {
		return false, true
	}
	return oursTS < theirsTS, false
}

// Dispatch is a convenience forwarding helper so driver code can write
// b.Dispatch(hooks.Join, network, source, data) instead of hand-building
// hooks.Args at every call site.
func (b *BaseDriver) Dispatch(command, network, source string, data map[string]interface{}) {
	if b.Hooks == nil {
		return
	}
	b.Hooks.Dispatch(hooks.Args{Network: network, Source: source, Command: command, Data: data})
}
