// Package ngircd implements the ngIRCd server protocol. ngIRCd has no
// numeric SID/UID concept at all — a server's wire identity is its
// hostname and a user's is its nick, reintroduced on every NICK change —
// so this driver synthesises a PUID per observed nick (the same device
// protocols/clientbot uses) to give the shared entity.NetworkState its
// usual UID-keyed shape. The handshake is PASS+SERVER; channel state
// bursts as CHANINFO (topic/modes/key/limit) plus NJOIN's comma-separated
// "modeprefix+nick" member list.
package ngircd

import (
	"context"
	"strconv"
	"strings"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/ircconn"
	"github.com/ircrelay/relayd/internal/ircerr"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/base"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newModeMap() *modes.ModeMap {
	return &modes.ModeMap{
		ChanModes: map[byte]modes.Class{
			'b': modes.ClassA, 'e': modes.ClassA, 'I': modes.ClassA,
			'k': modes.ClassB,
			'l': modes.ClassC,
			'i': modes.ClassD, 'm': modes.ClassD, 'n': modes.ClassD, 'O': modes.ClassD,
			'P': modes.ClassD, 'Q': modes.ClassD, 'R': modes.ClassD, 's': modes.ClassD,
			't': modes.ClassD, 'V': modes.ClassD, 'z': modes.ClassD,
		},
		UserModes: map[byte]modes.Class{
			'i': modes.ClassD, 'o': modes.ClassD, 'r': modes.ClassD, 's': modes.ClassD,
			'x': modes.ClassD, 'z': modes.ClassD,
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

// Driver implements base.Driver for ngIRCd uplinks. Its local SID equals
// its configured hostname; UIDs are synthetic PUIDs minted on first
// sighting of a nick (see puidFor).
type Driver struct {
	*base.BaseDriver

	modeMap *modes.ModeMap
	puidSeq int
	nickUID map[string]string

	uplinkName string
	gotEOB     bool
}

// ModeMap returns the driver's CHANMODES/PREFIX table for relay CLAIM
// reversal.
func (d *Driver) ModeMap() *modes.ModeMap { return d.modeMap }

// New constructs an ngIRCd driver for netcfg. netcfg.SID is ignored;
// netcfg.Hostname doubles as this server's wire identity.
func New(netcfg *config.Network, bus *hooks.Bus) *Driver {
	d := &Driver{
		BaseDriver: base.NewBaseDriver(netcfg, bus),
		modeMap:    newModeMap(),
		nickUID:    make(map[string]string),
	}
	d.Network = entity.NewNetworkState(netcfg.Hostname)
	root := entity.NewServer(netcfg.Hostname, netcfg.Hostname)
	root.Internal = true
	d.Network.AddServer(root)
	return d
}

func (d *Driver) puidFor(nick string) string {
	if uid, ok := d.nickUID[nick]; ok {
		return uid
	}
	d.puidSeq++
	uid := "PUID" + strconv.Itoa(d.puidSeq)
	d.nickUID[nick] = uid
	return uid
}

// Connect performs ngIRCd's PASS/SERVER handshake. End-of-burst is
// synthesised later by HandleLine on the first PING received: ngIRCd has
// no explicit end-of-burst command, but always PINGs once its burst
// finishes.
func (d *Driver) Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error {
	d.Conn = nc

	nc.Send("PASS " + netcfg.SendPass + " 0210-IRC+ relayd|1:CHLMoX")
	nc.Send("SERVER " + netcfg.Hostname + " 1 :" + netcfg.NetName)

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
			if len(msg.Params) > 1 && !strings.Contains(msg.Params[1], "IRC+") {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "uplink is not ngIRCd (no IRC+ in PASS)")
			}
		case "SERVER":
			if len(msg.Params) < 1 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed SERVER")
			}
			name := strings.ToLower(msg.Params[0])
			d.uplinkName = name
			srv := entity.NewServer(name, name)
			srv.Internal = false
			srv.Description = msg.Param(len(msg.Params) - 1)
			d.Network.AddServer(srv)
			return nil
		case "ERROR":
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "remote: "+msg.Param(0))
		}
	}
}

// HandleLine dispatches one post-handshake ngIRCd line.
func (d *Driver) HandleLine(msg *rfc1459.Message) []hooks.Args {
	switch msg.Command {
	case "NICK":
		return d.handleNick(msg)
	case "SERVER":
		return d.handleServer(msg)
	case "NJOIN":
		return d.handleNJoin(msg)
	case "JOIN":
		return d.handleJoin(msg)
	case "PART":
		return d.handlePart(msg)
	case "QUIT":
		return d.handleQuit(msg)
	case "KICK":
		return d.handleKick(msg)
	case "KILL":
		return d.handleKill(msg)
	case "MODE":
		return d.handleMode(msg)
	case "TOPIC":
		return d.handleTopic(msg)
	case "CHANINFO":
		return d.handleChanInfo(msg)
	case "PRIVMSG":
		return d.handlePrivmsgOrNotice(msg, hooks.PrivMsg)
	case "NOTICE":
		return d.handlePrivmsgOrNotice(msg, hooks.Notice)
	case "SQUIT":
		return d.handleSquit(msg)
	case "PING":
		d.Conn.Send(":" + d.Cfg.Hostname + " PONG " + d.Cfg.Hostname + " :" + msg.Param(len(msg.Params)-1))
		if !d.gotEOB {
			d.gotEOB = true
			return []hooks.Args{{Network: d.Cfg.Name, Source: d.uplinkName, Command: hooks.EndBurst}}
		}
		return nil
	case "PONG":
		d.Conn.NotePong()
		return nil
	default:
		return nil
	}
}

// handleNick handles both user introduction (6+ args, server-sourced) and
// plain nick changes (1 arg, user-sourced) — ngIRCd's NICK carries hop
// count/ident/host/+modes/realname only on introduction.
func (d *Driver) handleNick(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) >= 6 {
		nick := msg.Params[0]
		ident := msg.Params[2]
		host := msg.Params[3]
		realname := msg.Params[len(msg.Params)-1]
		uid := d.puidFor(nick)
		ts := entity.Now().Unix()

		u := entity.NewUser(uid)
		u.Nick = nick
		u.Ident = ident
		u.DisplayedHost = host
		u.RealHost = host
		u.IP = "0.0.0.0"
		u.Realname = realname
		u.SignonTS = ts
		u.NickTS = ts
		u.ServerID = msg.Source
		for _, mc := range strings.TrimPrefix(msg.Params[5], "+") {
			u.SetSimpleMode(string(mc), true)
		}
		d.Network.AddUser(u)
		if srv, ok := d.Network.GetServer(msg.Source); ok {
			srv.AddUID(uid)
		}
		return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.UID, Data: map[string]interface{}{"nick": nick}}}
	}

	if len(msg.Params) < 1 {
		return nil
	}
	uid, ok := d.nickUID[msg.Source]
	if !ok {
		return nil
	}
	u, ok := d.Network.GetUser(uid)
	if !ok {
		return nil
	}
	oldNick := u.Nick
	newNick := msg.Params[0]
	ts := entity.Now().Unix()
	u.Nick = newNick
	u.NickTS = ts
	delete(d.nickUID, oldNick)
	d.nickUID[newNick] = uid
	return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.Nick, Data: map[string]interface{}{"oldnick": oldNick, "newnick": newNick}}}
}

func (d *Driver) handleServer(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	name := strings.ToLower(msg.Params[0])
	srv := entity.NewServer(name, name)
	srv.UplinkSID = msg.Source
	srv.Description = msg.Param(len(msg.Params) - 1)
	d.Network.AddServer(srv)
	return nil
}

// handleNJoin handles ngIRCd's channel burst: "NJOIN #chan
// :nick1,@%nick2" — comma-separated "modeprefix+nick" pairs using literal
// status symbols (~&@%+), not mode letters.
func (d *Driver) handleNJoin(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	channel := msg.Params[0]
	ch := d.Network.GetOrCreateChannel(channel, entity.Now().Unix())

	symbolToLevel := make(map[byte]entity.PrefixLevel, len(d.modeMap.PrefixSymbols))
	for lvl, sym := range d.modeMap.PrefixSymbols {
		symbolToLevel[sym] = lvl
	}

	var uids []string
	for _, pair := range strings.Split(msg.Params[1], ",") {
		i := 0
		for i < len(pair) {
			if _, ok := symbolToLevel[pair[i]]; !ok {
				break
			}
			i++
		}
		symbols, nick := pair[:i], pair[i:]
		uid := d.puidFor(nick)
		d.Network.Join(channel, ch.TS, uid)
		for _, s := range []byte(symbols) {
			if lvl, ok := symbolToLevel[s]; ok {
				ch.SetPrefix(lvl, uid, true)
			}
		}
		uids = append(uids, uid)
	}

	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SJoin, Data: map[string]interface{}{"channel": channel, "users": uids}}}
}

func (d *Driver) handleJoin(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	uid, ok := d.nickUID[msg.Source]
	if !ok {
		return nil
	}
	channel := msg.Params[0]
	ts := entity.Now().Unix()
	if ch, ok := d.Network.GetChannel(channel); ok {
		ts = ch.TS
	}
	d.Network.Join(channel, ts, uid)
	return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.Join, Data: map[string]interface{}{"channel": channel}}}
}

func (d *Driver) handlePart(msg *rfc1459.Message) []hooks.Args {
	uid, ok := d.nickUID[msg.Source]
	if !ok || len(msg.Params) < 1 {
		return nil
	}
	channel := msg.Params[0]
	d.Network.Part(channel, uid)
	return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.Part, Data: map[string]interface{}{"channel": channel, "reason": msg.Param(1)}}}
}

func (d *Driver) handleQuit(msg *rfc1459.Message) []hooks.Args {
	uid, ok := d.nickUID[msg.Source]
	if !ok {
		return nil
	}
	delete(d.nickUID, msg.Source)
	d.Network.RemoveUser(uid)
	return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.Quit, Data: map[string]interface{}{"reason": msg.Param(0)}}}
}

func (d *Driver) handleKick(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	sourceUID := d.resolveSource(msg.Source)
	channel := msg.Params[0]
	targetUID, ok := d.nickUID[msg.Params[1]]
	if !ok {
		return nil
	}
	var prefixes []entity.PrefixLevel
	if ch, ok := d.Network.GetChannel(channel); ok {
		prefixes = ch.PrefixesOf(targetUID)
	}
	d.Network.Part(channel, targetUID)
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Kick, Data: map[string]interface{}{"channel": channel, "target": targetUID, "reason": msg.Param(2), "prefixes": prefixes}}}
}

func (d *Driver) handleKill(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	sourceUID := d.resolveSource(msg.Source)
	targetUID, ok := d.nickUID[msg.Params[0]]
	if !ok {
		return nil
	}
	delete(d.nickUID, msg.Params[0])
	d.Network.RemoveUser(targetUID)
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Kill, Data: map[string]interface{}{"target": targetUID, "reason": msg.Param(1)}}}
}

// resolveSource maps a wire source (a nick, or a server name for
// server-originated lines) to the UID/SID the hook bus expects.
func (d *Driver) resolveSource(source string) string {
	if uid, ok := d.nickUID[source]; ok {
		return uid
	}
	return source
}

func (d *Driver) handleMode(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	sourceUID := d.resolveSource(msg.Source)
	target := msg.Params[0]
	modestr := msg.Params[1]
	args := msg.Params[2:]
	if ch, ok := d.Network.GetChannel(target); ok {
		resolve := func(nick string) (string, bool, bool) {
			uid, ok := d.nickUID[nick]
			if !ok {
				return "", false, false
			}
			return uid, ch.HasMember(uid), true
		}
		changes := modes.ParseModes(d.modeMap, modestr, args, resolve)
		before := ch.Clone()
		modes.ApplyChannelModes(d.modeMap, ch, changes)
		str, wireArgs := modes.JoinModes(changes, false)
		return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Mode, Data: map[string]interface{}{"channel": target, "modes": str, "args": wireArgs, "changes": changes, "oldchannel": before}}}
	}
	if uid, ok := d.nickUID[target]; ok {
		if u, ok := d.Network.GetUser(uid); ok {
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
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Mode, Data: map[string]interface{}{"target": target, "modes": modestr}}}
}

func (d *Driver) handleTopic(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	sourceUID := d.resolveSource(msg.Source)
	channel, text := msg.Params[0], msg.Params[len(msg.Params)-1]
	oldTopic := ""
	if ch, ok := d.Network.GetChannel(channel); ok {
		oldTopic = ch.Topic
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = entity.Now().Unix()
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Topic, Data: map[string]interface{}{"channel": channel, "text": text, "oldtopic": oldTopic}}}
}

// handleChanInfo applies ngIRCd's 005-style CHANINFO burst line: "CHANINFO
// #chan +modes [key limit] [topic]".
func (d *Driver) handleChanInfo(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	channel := msg.Params[0]
	ch := d.Network.GetOrCreateChannel(channel, entity.Now().Unix())

	modeLetters := strings.NewReplacer("l", "", "k", "").Replace(strings.TrimPrefix(msg.Params[1], "+"))
	changes := modes.ParseModes(d.modeMap, "+"+modeLetters, nil, nil)
	modes.ApplyChannelModes(d.modeMap, ch, changes)

	if len(msg.Params) >= 3 {
		topic := msg.Params[len(msg.Params)-1]
		if topic != "" {
			ch.Topic = topic
			ch.TopicWasSet = true
		}
	}
	if len(msg.Params) >= 5 {
		key, limit := msg.Params[2], msg.Params[3]
		var extra []modes.Change
		if key != "*" {
			extra = append(extra, modes.Change{Add: true, Letter: 'k', Arg: key})
		}
		if limit != "0" {
			extra = append(extra, modes.Change{Add: true, Letter: 'l', Arg: limit})
		}
		modes.ApplyChannelModes(d.modeMap, ch, extra)
	}
	return nil
}

func (d *Driver) handlePrivmsgOrNotice(msg *rfc1459.Message, event string) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: d.resolveSource(msg.Source), Command: event, Data: map[string]interface{}{"target": msg.Params[0], "text": msg.Params[1]}}}
}

func (d *Driver) handleSquit(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	name := strings.ToLower(msg.Params[0])
	splitReason := d.SplitReason(name)
	destroyed := d.Network.RemoveServerCascade(name)
	var events []hooks.Args
	for _, uid := range destroyed {
		events = append(events, hooks.Args{Network: d.Cfg.Name, Source: uid, Command: hooks.Quit, Data: map[string]interface{}{"reason": splitReason}})
	}
	events = append(events, hooks.Args{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Squit, Data: map[string]interface{}{"sid": name}})
	return events
}

// -- outgoing API --

func (d *Driver) SpawnClient(nick, ident, host, gecos, ip string, modesList []string, ts int64, onServer string) (string, error) {
	// ngIRCd servers are name-keyed; onServer is the introducing server's
	// name, defaulting to our own.
	serverName := onServer
	if serverName == "" {
		serverName = d.Cfg.Hostname
	}
	srv, ok := d.Network.GetServer(serverName)
	if !ok || !srv.Internal {
		return "", ircerr.New(ircerr.KindUnknownTarget, d.Cfg.Name, "SpawnClient: no local server "+serverName)
	}
	uid := d.puidFor(nick)
	u := entity.NewUser(uid)
	u.Nick = nick
	u.Ident = ident
	u.DisplayedHost = host
	u.RealHost = host
	u.IP = ip
	u.Realname = gecos
	u.SignonTS = ts
	u.NickTS = ts
	u.ServerID = serverName
	for _, m := range modesList {
		u.SetSimpleMode(m, true)
	}
	d.Network.AddUser(u)
	srv.AddUID(uid)
	modeStr, _ := modes.JoinModes(modesToChanges(modesList), false)
	d.Conn.Send(":" + serverName + " NICK " + nick + " 1 " + ident + " " + host + " 1 " + modeStr + " :" + gecos)
	return uid, nil
}

func modesToChanges(letters []string) []modes.Change {
	out := make([]modes.Change, 0, len(letters))
	for _, l := range letters {
		if l == "" {
			continue
		}
		out = append(out, modes.Change{Add: true, Letter: l[0]})
	}
	return out
}

// SpawnServer introduces a subserver by name: ngIRCd has no SID concept,
// so the sid argument is ignored and the server is keyed by its name both
// in state and on the wire.
func (d *Driver) SpawnServer(sid, name, description string) error {
	srv := entity.NewServer(name, name)
	srv.Internal = true
	srv.UplinkSID = d.Cfg.Hostname
	d.Network.AddServer(srv)
	d.Conn.Send(":" + d.Cfg.Hostname + " SERVER " + name + " 1 :" + description)
	return nil
}

func (d *Driver) Join(uid, channel string, ts int64) error {
	if d.InvalidSource(uid) {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Join: "+uid)
	}
	d.Network.Join(channel, ts, uid)
	nick := d.nickFor(uid)
	d.Conn.Send(":" + nick + " JOIN " + channel)
	return nil
}

func (d *Driver) nickFor(uid string) string {
	if u, ok := d.Network.GetUser(uid); ok {
		return u.Nick
	}
	return uid
}

func (d *Driver) Part(uid, channel, reason string) error {
	d.Network.Part(channel, uid)
	d.Conn.Send(":" + d.nickFor(uid) + " PART " + channel + " :" + reason)
	return nil
}

func (d *Driver) Quit(uid, reason string) error {
	nick := d.nickFor(uid)
	delete(d.nickUID, nick)
	d.Network.RemoveUser(uid)
	d.Conn.Send(":" + nick + " QUIT :" + reason)
	return nil
}

func (d *Driver) Kick(sourceUID, channel, targetUID, reason string) error {
	d.Network.Part(channel, targetUID)
	d.Conn.Send(":" + d.nickFor(sourceUID) + " KICK " + channel + " " + d.nickFor(targetUID) + " :" + reason)
	return nil
}

func (d *Driver) Kill(sourceUID, targetUID, reason string) error {
	targetNick := d.nickFor(targetUID)
	delete(d.nickUID, targetNick)
	d.Network.RemoveUser(targetUID)
	d.Conn.Send(":" + d.nickFor(sourceUID) + " KILL " + targetNick + " :" + reason)
	return nil
}

func (d *Driver) Nick(uid, newNick string, ts int64) error {
	oldNick := d.nickFor(uid)
	if !d.Network.RenameUser(uid, newNick, ts) {
		return ircerr.New(ircerr.KindProtocol, d.Cfg.Name, "nick collision: "+newNick)
	}
	delete(d.nickUID, oldNick)
	d.nickUID[newNick] = uid
	d.Conn.Send(":" + oldNick + " NICK :" + newNick)
	return nil
}

func (d *Driver) Mode(sourceUID, target string, changes []modes.Change) error {
	str, args := modes.JoinModes(changes, true)
	source := d.resolveNickOrSID(sourceUID)
	if ch, ok := d.Network.GetChannel(target); ok {
		modes.ApplyChannelModes(d.modeMap, ch, changes)
		_ = ch
	}
	line := ":" + source + " MODE " + target + " " + str
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	d.Conn.Send(line)
	return nil
}

// resolveNickOrSID renders a UID as its current nick, or passes a SID
// (server name) through unchanged — used by outgoing calls whose source
// may be either a user or this daemon's own server (CLAIM-revert MODE).
func (d *Driver) resolveNickOrSID(source string) string {
	if u, ok := d.Network.GetUser(source); ok {
		return u.Nick
	}
	return source
}

func (d *Driver) Topic(sourceUID, channel, text string, ts int64) error {
	if ch, ok := d.Network.GetChannel(channel); ok {
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = ts
	}
	d.Conn.Send(":" + d.resolveNickOrSID(sourceUID) + " TOPIC " + channel + " :" + text)
	return nil
}

func (d *Driver) Message(sourceUID, target, text string) error {
	d.Conn.Send(":" + d.nickFor(sourceUID) + " PRIVMSG " + target + " :" + text)
	return nil
}

func (d *Driver) Notice(sourceUID, target, text string) error {
	d.Conn.Send(":" + d.resolveNickOrSID(sourceUID) + " NOTICE " + target + " :" + text)
	return nil
}

func (d *Driver) Invite(sourceUID, targetUID, channel string) error {
	d.Conn.Send(":" + d.nickFor(sourceUID) + " INVITE " + d.nickFor(targetUID) + " " + channel)
	return nil
}

func (d *Driver) Knock(sourceUID, channel, text string) error {
	d.Conn.Send(":" + d.nickFor(sourceUID) + " NOTICE " + channel + " :[Knock] " + text)
	return nil
}

func (d *Driver) Numeric(targetUID string, numeric int, params []string) error {
	full := strconv.Itoa(numeric)
	for len(full) < 3 {
		full = "0" + full
	}
	d.Conn.Send(":" + d.Cfg.Hostname + " " + full + " " + d.nickFor(targetUID) + " " + strings.Join(params, " "))
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
	case base.FieldIdent:
		u.Ident = value
	case base.FieldGecos:
		u.Realname = value
	case base.FieldIP:
		u.IP = value
	default:
		return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "UpdateClient field")
	}
	return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "ngIRCd does not send host/ident/realname over the wire post-introduction")
}

func (d *Driver) Away(uid, text string) error {
	if u, ok := d.Network.GetUser(uid); ok {
		u.Away = text
	}
	return nil
}

func (d *Driver) Ping() error {
	d.Conn.Send(":" + d.Cfg.Hostname + " PING " + d.Cfg.Hostname + " :" + d.uplinkName)
	return nil
}

func (d *Driver) SJoin(channel string, ts int64, changes []modes.Change, members []string) error {
	entries := make([]string, 0, len(members))
	for _, uid := range members {
		prefix := ""
		if ch, ok := d.Network.GetChannel(channel); ok {
			for lvl, sym := range d.modeMap.PrefixSymbols {
				if ch.HasPrefix(lvl, uid) {
					prefix += string(sym)
				}
			}
		}
		entries = append(entries, prefix+d.nickFor(uid))
	}
	d.Conn.Send(":" + d.Cfg.Hostname + " NJOIN " + channel + " :" + strings.Join(entries, ","))
	return nil
}

func (d *Driver) Squit(sid, reason string) error {
	d.Network.RemoveServerCascade(sid)
	d.Conn.Send(":" + d.Cfg.Hostname + " SQUIT " + sid + " :" + reason)
	return nil
}
