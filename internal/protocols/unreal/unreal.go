// Package unreal implements the UnrealIRCd 4+ server protocol. Unreal
// uses TS6-style UIDs but its own PASS/PROTOCTL/SERVER/NETINFO handshake,
// its own wider UID line (nick, hopcount, ts, ident, realhost, uid,
// servicestamp, modes, vhost-star, host, cloak token, realname), and its
// own CHANMODES letters — distinct enough from TS6 to be its own driver
// rather than a protocols/ts6 capability subset the way Hybrid is.
package unreal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/ids"
	"github.com/ircrelay/relayd/internal/ircconn"
	"github.com/ircrelay/relayd/internal/ircerr"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/base"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

const protoVer = "4000"

// protoctl is the PROTOCTL feature set this driver advertises: extended
// SJOIN, no per-user QUIT on split, the v2 NICK form, and
// single-argument self-MODE.
var protoctl = []string{"SJ3", "NOQUIT", "NICKv2", "VL", "UMODE2"}

// Cmodes is the UnrealIRCd channel-mode letter set, narrowed to the
// classes modes.ParseModes needs.
var Cmodes = map[byte]modes.Class{
	'b': modes.ClassA, 'e': modes.ClassA, 'I': modes.ClassA,
	'k': modes.ClassB,
	'l': modes.ClassC,
	'n': modes.ClassD, 's': modes.ClassD, 't': modes.ClassD, 'm': modes.ClassD,
	'i': modes.ClassD, 'p': modes.ClassD, 'r': modes.ClassD, 'R': modes.ClassD,
	'c': modes.ClassD, 'C': modes.ClassD, 'G': modes.ClassD, 'N': modes.ClassD,
	'Q': modes.ClassD, 'T': modes.ClassD, 'V': modes.ClassD, 'z': modes.ClassD,
	'Z': modes.ClassD,
}

func newModeMap() *modes.ModeMap {
	return &modes.ModeMap{
		ChanModes: Cmodes,
		UserModes: map[byte]modes.Class{
			'i': modes.ClassD, 'o': modes.ClassD, 'w': modes.ClassD, 's': modes.ClassD,
			'x': modes.ClassD, 'z': modes.ClassD, 'B': modes.ClassD, 'G': modes.ClassD,
		},
		Prefixes: map[byte]entity.PrefixLevel{
			'q': entity.PrefixOwner, 'a': entity.PrefixAdmin, 'o': entity.PrefixOp,
			'h': entity.PrefixHalfop, 'v': entity.PrefixVoice,
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

// Driver implements base.Driver for UnrealIRCd 4+ uplinks.
type Driver struct {
	*base.BaseDriver

	uids    ids.Generator
	subUIDs map[string]ids.Generator
	modeMap *modes.ModeMap

	uplinkSID string
}

// ModeMap returns the driver's CHANMODES/PREFIX table, needed by the relay
// manager's CLAIM-revert MODE reversal.
func (d *Driver) ModeMap() *modes.ModeMap {
	return d.modeMap
}

// New constructs an Unreal driver for netcfg.
func New(netcfg *config.Network, bus *hooks.Bus) *Driver {
	d := &Driver{
		BaseDriver: base.NewBaseDriver(netcfg, bus),
		uids:       ids.NewTS6(netcfg.SID, netcfg.Name),
		modeMap:    newModeMap(),
	}
	root := entity.NewServer(netcfg.SID, netcfg.Hostname)
	root.Internal = true
	d.Network.AddServer(root)
	return d
}

// Connect performs Unreal's PASS/PROTOCTL/SERVER/NETINFO handshake as the
// initiating side.
func (d *Driver) Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error {
	d.Conn = nc
	send := func(msg *rfc1459.Message) { nc.Send(msg.String()) }

	send(&rfc1459.Message{Command: "PASS", Params: []string{netcfg.SendPass}})
	send(&rfc1459.Message{Command: "PROTOCTL", Params: append(append([]string{}, protoctl...), "EAUTH="+netcfg.Hostname, "SID="+netcfg.SID)})
	send(&rfc1459.Message{Command: "SERVER", Params: []string{netcfg.Hostname, "1", "U" + protoVer + "-h6e-" + netcfg.SID + " :" + netcfg.NetName}})
	send(&rfc1459.Message{Command: "NETINFO", Params: []string{"1", strconv.FormatInt(entity.Now().Unix(), 10), protoVer, "*", "0", "0", "0", netcfg.NetName}})

	for {
		line, err := nc.ReadLine()
		if err != nil {
			return ircerr.Wrap(ircerr.KindTransientIO, netcfg.Name, err, "handshake read")
		}
		msg := rfc1459.Parse(line)
		switch msg.Command {
		case "PASS":
			if msg.Param(0) != netcfg.RecvPass {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "recvpass mismatch")
			}
		case "PROTOCTL":
			// Capability intersection is informational only, as in ts6.
		case "SERVER":
			if len(msg.Params) < 2 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed SERVER")
			}
			d.uplinkSID = msg.Source
			srv := entity.NewServer(d.uplinkSID, msg.Params[0])
			srv.Internal = false
			d.Network.AddServer(srv)
		case "NETINFO":
			return nil
		case "ERROR":
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "remote: "+msg.Param(0))
		default:
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "unexpected command during handshake: "+msg.Command)
		}
	}
}

// HandleLine dispatches one post-handshake wire line.
func (d *Driver) HandleLine(msg *rfc1459.Message) []hooks.Args {
	switch msg.Command {
	case "UID":
		return d.handleUID(msg)
	case "SID":
		return d.handleSID(msg)
	case "SJOIN":
		return d.handleSJOIN(msg)
	case "NICK":
		return d.handleNick(msg)
	case "QUIT":
		return d.handleQuit(msg)
	case "JOIN":
		return d.handleJoin(msg)
	case "PART":
		return d.handlePart(msg)
	case "KICK":
		return d.handleKick(msg)
	case "KILL":
		return d.handleKill(msg)
	case "MODE":
		return d.handleMode(msg)
	case "TOPIC":
		return d.handleTopic(msg)
	case "PRIVMSG":
		return d.handlePrivmsgOrNotice(msg, hooks.PrivMsg)
	case "NOTICE":
		return d.handlePrivmsgOrNotice(msg, hooks.Notice)
	case "SQUIT":
		return d.handleSquit(msg)
	case "EOS":
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.EndBurst}}
	case "PING":
		d.Conn.Send((&rfc1459.Message{Command: "PONG", Params: []string{d.Cfg.Hostname, msg.Param(0)}}).String())
		return nil
	case "PONG":
		d.Conn.NotePong()
		return nil
	default:
		return nil
	}
}

// handleUID parses the wide Unreal UID line: nick hopcount ts ident
// realhost uid servicestamp modes vhost-star host cloak :realname
// (the servicestamp slot is skipped).
func (d *Driver) handleUID(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 10 {
		return nil
	}
	ts, _ := strconv.ParseInt(msg.Params[2], 10, 64)
	uid := msg.Params[5]
	u := entity.NewUser(uid)
	u.Nick = msg.Params[0]
	u.SignonTS = ts
	u.NickTS = ts
	u.Ident = msg.Params[3]
	u.RealHost = msg.Params[4]
	u.DisplayedHost = msg.Params[9]
	u.Realname = msg.Params[len(msg.Params)-1]
	u.ServerID = msg.Source
	for _, mc := range strings.TrimPrefix(msg.Params[7], "+") {
		u.SetSimpleMode(string(mc), true)
	}
	d.Network.AddUser(u)
	if srv, ok := d.Network.GetServer(msg.Source); ok {
		srv.AddUID(uid)
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.UID, Data: map[string]interface{}{"nick": u.Nick}}}
}

func (d *Driver) handleSID(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 3 {
		return nil
	}
	srv := entity.NewServer(msg.Params[2], msg.Params[0])
	srv.UplinkSID = msg.Source
	d.Network.AddServer(srv)
	return nil
}

func (d *Driver) handleSJOIN(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 3 {
		return nil
	}
	ts, _ := strconv.ParseInt(msg.Params[0], 10, 64)
	channel := msg.Params[1]
	memberStr := msg.Params[len(msg.Params)-1]

	existing, existed := d.Network.GetChannel(channel)
	weWin, tie := true, false
	if existed {
		weWin, tie = base.WinsTS(existing.TS, ts)
	}
	ch := d.Network.GetOrCreateChannel(channel, ts)
	theirPrefixesCount := true
	if existed {
		switch {
		case !weWin && !tie:
			// Lower remote TS overrides local flags and status; list
			// modes and membership survive.
			ch.TS = ts
			modes.ClearNonListModes(d.modeMap, ch)
			ch.ClearPrefixes()
		case weWin:
			theirPrefixesCount = false
		}
	}

	var uids []string
	for _, tok := range strings.Fields(memberStr) {
		prefixes, uid := splitPrefixes(tok)
		d.Network.Join(channel, ch.TS, uid)
		if theirPrefixesCount {
			for _, p := range prefixes {
				ch.SetPrefix(p, uid, true)
			}
		}
		uids = append(uids, uid)
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SJoin, Data: map[string]interface{}{"channel": channel, "users": uids}}}
}

var sjoinPrefixLetters = map[byte]entity.PrefixLevel{
	'~': entity.PrefixOwner, '&': entity.PrefixAdmin, '@': entity.PrefixOp,
	'%': entity.PrefixHalfop, '+': entity.PrefixVoice,
}

func splitPrefixes(tok string) ([]entity.PrefixLevel, string) {
	var levels []entity.PrefixLevel
	i := 0
	for i < len(tok) {
		lvl, ok := sjoinPrefixLetters[tok[i]]
		if !ok {
			break
		}
		levels = append(levels, lvl)
		i++
	}
	return levels, tok[i:]
}

func (d *Driver) handleNick(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	ts := entity.Now().Unix()
	if len(msg.Params) >= 2 {
		if parsed, err := strconv.ParseInt(msg.Params[1], 10, 64); err == nil {
			ts = parsed
		}
	}
	u, ok := d.Network.GetUser(msg.Source)
	if !ok {
		return nil
	}
	oldNick := u.Nick
	if !d.Network.RenameUser(msg.Source, msg.Params[0], ts) {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Nick, Data: map[string]interface{}{"oldnick": oldNick, "newnick": msg.Params[0]}}}
}

func (d *Driver) handleQuit(msg *rfc1459.Message) []hooks.Args {
	reason := msg.Param(0)
	d.Network.RemoveUser(msg.Source)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Quit, Data: map[string]interface{}{"reason": reason}}}
}

func (d *Driver) handleJoin(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	channel := msg.Params[0]
	ch, _ := d.Network.GetChannel(channel)
	ts := entity.Now().Unix()
	if ch != nil {
		ts = ch.TS
	}
	d.Network.Join(channel, ts, msg.Source)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Join, Data: map[string]interface{}{"channel": channel}}}
}

func (d *Driver) handlePart(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	channel := msg.Params[0]
	d.Network.Part(channel, msg.Source)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Part, Data: map[string]interface{}{"channel": channel, "reason": msg.Param(1)}}}
}

func (d *Driver) handleKick(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	channel, target := msg.Params[0], msg.Params[1]
	var prefixes []entity.PrefixLevel
	if ch, ok := d.Network.GetChannel(channel); ok {
		prefixes = ch.PrefixesOf(target)
	}
	d.Network.Part(channel, target)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Kick, Data: map[string]interface{}{"channel": channel, "target": target, "reason": msg.Param(2), "prefixes": prefixes}}}
}

func (d *Driver) handleKill(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	target := msg.Params[0]
	d.Network.RemoveUser(target)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Kill, Data: map[string]interface{}{"target": target, "reason": msg.Param(1)}}}
}

func (d *Driver) handleMode(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	target := msg.Params[0]
	modestr := msg.Params[1]
	args := msg.Params[2:]
	if ch, ok := d.Network.GetChannel(target); ok {
		resolve := func(tok string) (string, bool, bool) { return tok, ch.HasMember(tok), true }
		changes := modes.ParseModes(d.modeMap, modestr, args, resolve)
		before := ch.Clone()
		modes.ApplyChannelModes(d.modeMap, ch, changes)
		str, wireArgs := modes.JoinModes(changes, false)
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Mode, Data: map[string]interface{}{"channel": target, "modes": str, "args": wireArgs, "changes": changes, "oldchannel": before}}}
	}
	if u, ok := d.Network.GetUser(target); ok {
		add := true
		for _, mc := range modestr {
			switch mc {
			case '+':
				add = true
			case '-':
				add = false
			default:
				u.SetSimpleMode(string(mc), add)
			}
		}
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Mode, Data: map[string]interface{}{"target": target, "modes": modestr}}}
}

func (d *Driver) handleTopic(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	channel, text := msg.Params[0], msg.Params[len(msg.Params)-1]
	oldTopic := ""
	if ch, ok := d.Network.GetChannel(channel); ok {
		oldTopic = ch.Topic
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = entity.Now().Unix()
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Topic, Data: map[string]interface{}{"channel": channel, "text": text, "oldtopic": oldTopic}}}
}

func (d *Driver) handlePrivmsgOrNotice(msg *rfc1459.Message, event string) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: event, Data: map[string]interface{}{"target": msg.Params[0], "text": msg.Params[1]}}}
}

func (d *Driver) handleSquit(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	splitReason := d.SplitReason(msg.Params[0])
	destroyed := d.Network.RemoveServerCascade(msg.Params[0])
	var events []hooks.Args
	for _, uid := range destroyed {
		events = append(events, hooks.Args{Network: d.Cfg.Name, Source: uid, Command: hooks.Quit, Data: map[string]interface{}{"reason": splitReason}})
	}
	events = append(events, hooks.Args{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Squit, Data: map[string]interface{}{"sid": msg.Params[0]}})
	return events
}

// -- outgoing API --

func (d *Driver) SpawnClient(nick, ident, host, gecos, ip string, modesList []string, ts int64, onServer string) (string, error) {
	sid := onServer
	if sid == "" {
		sid = d.Cfg.SID
	}
	srv, ok := d.Network.GetServer(sid)
	if !ok || !srv.Internal {
		return "", ircerr.New(ircerr.KindUnknownTarget, d.Cfg.Name, "SpawnClient: no local server "+sid)
	}
	uid, err := d.uidsFor(sid).Next()
	if err != nil {
		return "", err
	}
	u := entity.NewUser(uid)
	u.Nick = nick
	u.Ident = ident
	u.DisplayedHost = host
	u.RealHost = host
	u.IP = ip
	u.Realname = gecos
	u.SignonTS = ts
	u.NickTS = ts
	u.ServerID = sid
	for _, m := range modesList {
		u.SetSimpleMode(m, true)
	}
	d.Network.AddUser(u)
	srv.AddUID(uid)
	modeStr := "+" + strings.Join(modesList, "")
	params := []string{nick, "0", strconv.FormatInt(ts, 10), ident, host, uid, "0", modeStr, "*", host, "*", gecos}
	d.Conn.Send((&rfc1459.Message{Source: sid, Command: "UID", Params: params}).String())
	return uid, nil
}

// uidsFor hands each introducing server its own UID counter, since a UID's
// leading characters must match the SID that introduced it.
func (d *Driver) uidsFor(sid string) ids.Generator {
	if sid == d.Cfg.SID {
		return d.uids
	}
	if d.subUIDs == nil {
		d.subUIDs = make(map[string]ids.Generator)
	}
	g, ok := d.subUIDs[sid]
	if !ok {
		g = ids.NewTS6(sid, d.Cfg.Name)
		d.subUIDs[sid] = g
	}
	return g
}

func (d *Driver) SpawnServer(sid, name, description string) error {
	srv := entity.NewServer(sid, name)
	srv.Internal = true
	srv.UplinkSID = d.Cfg.SID
	d.Network.AddServer(srv)
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "SID", Params: []string{name, "1", sid, description}}).String())
	return nil
}

func (d *Driver) Join(uid, channel string, ts int64) error {
	if d.InvalidSource(uid) {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Join: "+uid)
	}
	d.Network.Join(channel, ts, uid)
	d.Conn.Send((&rfc1459.Message{Source: uid, Command: "JOIN", Params: []string{channel}}).String())
	return nil
}

func (d *Driver) Part(uid, channel, reason string) error {
	d.Network.Part(channel, uid)
	d.Conn.Send((&rfc1459.Message{Source: uid, Command: "PART", Params: []string{channel, reason}}).String())
	return nil
}

func (d *Driver) Quit(uid, reason string) error {
	d.Network.RemoveUser(uid)
	d.Conn.Send((&rfc1459.Message{Source: uid, Command: "QUIT", Params: []string{reason}}).String())
	return nil
}

func (d *Driver) Kick(sourceUID, channel, targetUID, reason string) error {
	d.Network.Part(channel, targetUID)
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "KICK", Params: []string{channel, targetUID, reason}}).String())
	return nil
}

func (d *Driver) Kill(sourceUID, targetUID, reason string) error {
	d.Network.RemoveUser(targetUID)
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "KILL", Params: []string{targetUID, reason}}).String())
	return nil
}

func (d *Driver) Nick(uid, newNick string, ts int64) error {
	if !d.Network.RenameUser(uid, newNick, ts) {
		return ircerr.New(ircerr.KindProtocol, d.Cfg.Name, "nick collision: "+newNick)
	}
	d.Conn.Send((&rfc1459.Message{Source: uid, Command: "NICK", Params: []string{newNick, strconv.FormatInt(ts, 10)}}).String())
	return nil
}

func (d *Driver) Mode(sourceUID, target string, changes []modes.Change) error {
	if ch, ok := d.Network.GetChannel(target); ok {
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}
	str, args := modes.JoinModes(changes, true)
	params := append([]string{target, str}, args...)
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "MODE", Params: params}).String())
	return nil
}

func (d *Driver) Topic(sourceUID, channel, text string, ts int64) error {
	if ch, ok := d.Network.GetChannel(channel); ok {
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = ts
	}
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "TOPIC", Params: []string{channel, text}}).String())
	return nil
}

func (d *Driver) Message(sourceUID, target, text string) error {
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "PRIVMSG", Params: []string{target, text}}).String())
	return nil
}

func (d *Driver) Notice(sourceUID, target, text string) error {
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "NOTICE", Params: []string{target, text}}).String())
	return nil
}

func (d *Driver) Invite(sourceUID, targetUID, channel string) error {
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "INVITE", Params: []string{targetUID, channel}}).String())
	return nil
}

func (d *Driver) Knock(sourceUID, channel, text string) error {
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "KNOCK", Params: []string{channel, text}}).String())
	return nil
}

func (d *Driver) Numeric(targetUID string, numeric int, params []string) error {
	full := append([]string{targetUID}, params...)
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: fmt.Sprintf("%03d", numeric), Params: full}).String())
	return nil
}

func (d *Driver) UpdateClient(uid string, field base.ClientField, value string) error {
	u, ok := d.Network.GetUser(uid)
	if !ok {
		return ircerr.New(ircerr.KindUnknownTarget, d.Cfg.Name, "UpdateClient: "+uid)
	}
	switch field {
	case base.FieldHost:
		u.DisplayedHost = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "CHGHOST", Params: []string{uid, value}}).String())
	case base.FieldIdent:
		u.Ident = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "CHGIDENT", Params: []string{uid, value}}).String())
	case base.FieldGecos:
		u.Realname = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "CHGNAME", Params: []string{uid, value}}).String())
	case base.FieldIP:
		u.IP = value
	default:
		return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "UpdateClient field")
	}
	return nil
}

func (d *Driver) Away(uid, text string) error {
	if u, ok := d.Network.GetUser(uid); ok {
		u.Away = text
	}
	if text == "" {
		d.Conn.Send((&rfc1459.Message{Source: uid, Command: "AWAY"}).String())
	} else {
		d.Conn.Send((&rfc1459.Message{Source: uid, Command: "AWAY", Params: []string{text}}).String())
	}
	return nil
}

func (d *Driver) Ping() error {
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "PING", Params: []string{d.Cfg.Hostname}}).String())
	return nil
}

func (d *Driver) SJoin(channel string, ts int64, changes []modes.Change, members []string) error {
	modeStr, modeArgs := modes.JoinModes(changes, true)
	params := append([]string{strconv.FormatInt(ts, 10), channel, modeStr}, modeArgs...)
	params = append(params, strings.Join(members, " "))
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "SJOIN", Params: params}).String())
	return nil
}

func (d *Driver) Squit(sid, reason string) error {
	d.Network.RemoveServerCascade(sid)
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "SQUIT", Params: []string{sid, reason}}).String())
	return nil
}
