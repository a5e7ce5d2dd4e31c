// Package inspircd implements the InspIRCd 1202+ SPANNINGTREE protocol:
// CAPAB START/CAPABILITIES/END handshake, the UID line's separate
// realhost/host fields, FJOIN/FMODE/FTOPIC as the channel-burst/mode/
// topic verbs (InspIRCd splits user-MODE from channel-FMODE the way TS6
// doesn't), explicit BURST/ENDBURST framing, and SAVE forcing a nick to
// the colliding user's own UID rather than carrying a replacement nick.
package inspircd

import (
	"context"
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

const protocolVersion = "1202"

// Cmodes is InspIRCd 1202's default CHANMODES set, used as a static
// table; live CAPAB CHANMODES negotiation of server-specific letters is
// not implemented.
var Cmodes = map[byte]modes.Class{
	'b': modes.ClassA, 'e': modes.ClassA, 'I': modes.ClassA, 'g': modes.ClassA,
	'k': modes.ClassB, 'f': modes.ClassB, 'L': modes.ClassB, 'j': modes.ClassB,
	'l': modes.ClassC,
	'n': modes.ClassD, 't': modes.ClassD, 'm': modes.ClassD, 'i': modes.ClassD,
	's': modes.ClassD, 'p': modes.ClassD, 'r': modes.ClassD, 'c': modes.ClassD,
	'u': modes.ClassD, 'z': modes.ClassD, 'A': modes.ClassD, 'C': modes.ClassD,
	'F': modes.ClassD, 'G': modes.ClassD, 'K': modes.ClassD, 'O': modes.ClassD,
	'Q': modes.ClassD, 'R': modes.ClassD, 'S': modes.ClassD, 'T': modes.ClassD,
}

func newModeMap() *modes.ModeMap {
	return &modes.ModeMap{
		ChanModes: Cmodes,
		UserModes: map[byte]modes.Class{
			'i': modes.ClassD, 's': modes.ClassD, 'w': modes.ClassD, 'o': modes.ClassD,
			'x': modes.ClassD, 'd': modes.ClassD, 'g': modes.ClassD, 'B': modes.ClassD,
			'H': modes.ClassD, 'I': modes.ClassD, 'D': modes.ClassD,
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

// Driver implements base.Driver for InspIRCd 1202+ uplinks.
type Driver struct {
	*base.BaseDriver

	uids    ids.Generator
	subUIDs map[string]ids.Generator
	modeMap *modes.ModeMap

	uplinkSID string
	bursted   bool
}

// ModeMap returns the driver's CHANMODES/PREFIX table for relay CLAIM
// reversal.
func (d *Driver) ModeMap() *modes.ModeMap { return d.modeMap }

// New constructs an InspIRCd driver for netcfg.
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

// Connect performs InspIRCd's CAPAB START/CAPABILITIES/END, SERVER and
// BURST handshake as the initiating side.
func (d *Driver) Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error {
	d.Conn = nc
	send := func(msg *rfc1459.Message) { nc.Send(msg.String()) }

	send(&rfc1459.Message{Command: "CAPAB", Params: []string{"START", protocolVersion}})
	send(&rfc1459.Message{Command: "CAPAB", Params: []string{"CAPABILITIES", "PROTOCOL=" + protocolVersion}})
	send(&rfc1459.Message{Command: "CAPAB", Params: []string{"END"}})
	send(&rfc1459.Message{Command: "SERVER", Params: []string{netcfg.Hostname, netcfg.SendPass, "0", netcfg.SID, netcfg.NetName}})

	for {
		line, err := nc.ReadLine()
		if err != nil {
			return ircerr.Wrap(ircerr.KindTransientIO, netcfg.Name, err, "handshake read")
		}
		msg := rfc1459.Parse(line)
		switch msg.Command {
		case "CAPAB":
			if len(msg.Params) > 0 && msg.Params[0] == "END" {
				continue
			}
		case "SERVER":
			if len(msg.Params) < 4 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed SERVER")
			}
			if msg.Params[1] != netcfg.RecvPass {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "recvpass mismatch")
			}
			d.uplinkSID = msg.Params[3]
			srv := entity.NewServer(d.uplinkSID, msg.Params[0])
			srv.Internal = false
			d.Network.AddServer(srv)
		case "BURST":
			d.bursted = true
			return nil
		case "ERROR":
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "remote: "+msg.Param(0))
		}
	}
}

// HandleLine dispatches one post-handshake InspIRCd line.
func (d *Driver) HandleLine(msg *rfc1459.Message) []hooks.Args {
	switch msg.Command {
	case "UID":
		return d.handleUID(msg)
	case "FJOIN":
		return d.handleFJOIN(msg)
	case "SERVER":
		return d.handleServer(msg)
	case "NICK":
		return d.handleNick(msg)
	case "QUIT":
		return d.handleQuit(msg)
	case "SAVE":
		return d.handleSave(msg)
	case "FPART", "PART":
		return d.handlePart(msg)
	case "KICK":
		return d.handleKick(msg)
	case "KILL":
		return d.handleKill(msg)
	case "FMODE":
		return d.handleFMode(msg)
	case "MODE":
		return d.handleMode(msg)
	case "FTOPIC":
		return d.handleFTopic(msg)
	case "PRIVMSG":
		return d.handlePrivmsgOrNotice(msg, hooks.PrivMsg)
	case "NOTICE":
		return d.handlePrivmsgOrNotice(msg, hooks.Notice)
	case "SQUIT":
		return d.handleSquit(msg)
	case "PING":
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "PONG", Params: []string{d.Cfg.SID, msg.Source}}).String())
		return nil
	case "ENDBURST":
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.EndBurst}}
	default:
		return nil
	}
}

func (d *Driver) handleUID(msg *rfc1459.Message) []hooks.Args {
	// UID uid ts nick realhost host ident ip signonts +usermodes [modeargs...] :realname
	if len(msg.Params) < 8 {
		return nil
	}
	uid := msg.Params[0]
	ts, _ := strconv.ParseInt(msg.Params[1], 10, 64)
	u := entity.NewUser(uid)
	u.Nick = msg.Params[2]
	u.RealHost = msg.Params[3]
	u.DisplayedHost = msg.Params[4]
	u.Ident = msg.Params[5]
	u.IP = msg.Params[6]
	u.SignonTS = ts
	u.NickTS = ts
	u.Realname = msg.Params[len(msg.Params)-1]
	u.ServerID = msg.Source
	for _, mc := range strings.TrimPrefix(msg.Params[8], "+") {
		u.SetSimpleMode(string(mc), true)
	}
	d.Network.AddUser(u)
	if srv, ok := d.Network.GetServer(msg.Source); ok {
		srv.AddUID(uid)
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.UID, Data: map[string]interface{}{"nick": u.Nick}}}
}

func (d *Driver) handleServer(msg *rfc1459.Message) []hooks.Args {
	// SERVER name pass hopcount sid :desc
	if len(msg.Params) < 4 {
		return nil
	}
	srv := entity.NewServer(msg.Params[3], msg.Params[0])
	srv.UplinkSID = msg.Source
	hc, _ := strconv.Atoi(msg.Params[2])
	srv.HopCount = hc
	srv.Description = msg.Param(4)
	d.Network.AddServer(srv)
	return nil
}

func (d *Driver) handleFJOIN(msg *rfc1459.Message) []hooks.Args {
	// FJOIN #chan ts +modes modeargs... :prefix,uid prefix,uid ...
	if len(msg.Params) < 3 {
		return nil
	}
	channel := msg.Params[0]
	ts, _ := strconv.ParseInt(msg.Params[1], 10, 64)
	memberStr := msg.Params[len(msg.Params)-1]
	modeStr := msg.Params[2]
	modeArgs := msg.Params[3 : len(msg.Params)-1]

	existing, existed := d.Network.GetChannel(channel)
	weWin, tie := true, false
	if existed {
		weWin, tie = base.WinsTS(existing.TS, ts)
	}

	ch := d.Network.GetOrCreateChannel(channel, ts)
	theirModesCount := true
	if existed {
		switch {
		case !weWin && !tie:
			// Lower remote TS overrides local flags and status; list
			// modes and membership survive.
			ch.TS = ts
			modes.ClearNonListModes(d.modeMap, ch)
			ch.ClearPrefixes()
		case weWin:
			theirModesCount = false
		}
	}

	if theirModesCount {
		changes := modes.ParseModes(d.modeMap, modeStr, modeArgs, nil)
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}

	var uids []string
	for _, tok := range strings.Fields(memberStr) {
		prefixLetters, uid, ok := splitFJOINEntry(tok)
		if !ok {
			continue
		}
		d.Network.Join(channel, ch.TS, uid)
		if theirModesCount {
			for _, pl := range prefixLetters {
				if lvl, ok := d.modeMap.Prefixes[pl]; ok {
					ch.SetPrefix(lvl, uid, true)
				}
			}
		}
		uids = append(uids, uid)
	}

	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SJoin, Data: map[string]interface{}{"channel": channel, "users": uids}}}
}

// splitFJOINEntry splits an FJOIN member token "modeletters,uid" (e.g.
// "ov,70MAAAAAA") into its named prefix letters and the bare UID.
func splitFJOINEntry(tok string) ([]byte, string, bool) {
	idx := strings.IndexByte(tok, ',')
	if idx == -1 {
		return nil, tok, true
	}
	letters := tok[:idx]
	return []byte(letters), tok[idx+1:], true
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

// handleSave implements InspIRCd's collision resolution: the collided
// user's nick is forced to its own UID. No replacement nick is carried on
// the wire, same as TS6's SAVE.
func (d *Driver) handleSave(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	target := msg.Params[0]
	ts, _ := strconv.ParseInt(msg.Params[1], 10, 64)
	u, ok := d.Network.GetUser(target)
	if !ok {
		return nil
	}
	if u.NickTS > ts {
		return nil
	}
	d.Network.RenameUser(target, target, ts)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Save, Data: map[string]interface{}{"target": target}}}
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

// handleFMode handles channel mode bursts: FMODE #chan ts +modes args...
func (d *Driver) handleFMode(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 3 {
		return nil
	}
	channel := msg.Params[0]
	modestr := msg.Params[2]
	args := msg.Params[3:]
	ch, ok := d.Network.GetChannel(channel)
	if !ok {
		return nil
	}
	resolve := func(tok string) (string, bool, bool) { return tok, ch.HasMember(tok), true }
	changes := modes.ParseModes(d.modeMap, modestr, args, resolve)
	before := ch.Clone()
	modes.ApplyChannelModes(d.modeMap, ch, changes)
	str, wireArgs := modes.JoinModes(changes, false)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Mode, Data: map[string]interface{}{"channel": channel, "modes": str, "args": wireArgs, "changes": changes, "oldchannel": before}}}
}

// handleMode handles user self-mode changes: MODE uid +modes.
func (d *Driver) handleMode(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	target := msg.Params[0]
	modestr := msg.Params[1]
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

func (d *Driver) handleFTopic(msg *rfc1459.Message) []hooks.Args {
	// FTOPIC #chan ts setby :text
	if len(msg.Params) < 3 {
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
	sid := msg.Params[0]
	if _, ok := d.Network.GetServer(sid); !ok {
		if srv, ok := d.Network.GetServerByName(msg.Params[0]); ok {
			sid = srv.SID
		}
	}
	splitReason := d.SplitReason(sid)
	destroyed := d.Network.RemoveServerCascade(sid)
	var events []hooks.Args
	for _, uid := range destroyed {
		events = append(events, hooks.Args{Network: d.Cfg.Name, Source: uid, Command: hooks.Quit, Data: map[string]interface{}{"reason": splitReason}})
	}
	events = append(events, hooks.Args{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Squit, Data: map[string]interface{}{"sid": sid}})
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
	d.Conn.Send((&rfc1459.Message{Source: sid, Command: "UID", Params: []string{
		uid, strconv.FormatInt(ts, 10), nick, host, host, ident, ip, strconv.FormatInt(ts, 10), modeStr, gecos,
	}}).String())
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
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "SERVER", Params: []string{name, "*", "1", sid, description}}).String())
	return nil
}

func (d *Driver) Join(uid, channel string, ts int64) error {
	if d.InvalidSource(uid) {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Join: "+uid)
	}
	d.Network.Join(channel, ts, uid)
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "FJOIN", Params: []string{channel, strconv.FormatInt(ts, 10), "+", ",", uid}}).String())
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
		str, args := modes.JoinModes(changes, true)
		params := append([]string{target, strconv.FormatInt(ch.TS, 10), str}, args...)
		d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "FMODE", Params: params}).String())
		return nil
	}
	str, _ := modes.JoinModes(changes, true)
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "MODE", Params: []string{target, str}}).String())
	return nil
}

func (d *Driver) Topic(sourceUID, channel, text string, ts int64) error {
	if ch, ok := d.Network.GetChannel(channel); ok {
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = ts
	}
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "FTOPIC", Params: []string{channel, strconv.FormatInt(ts, 10), sourceUID, text}}).String())
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
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "ENCAP", Params: []string{"*", "KNOCK", channel, text}}).String())
	return nil
}

func (d *Driver) Numeric(targetUID string, numeric int, params []string) error {
	full := append([]string{targetUID}, params...)
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: numericStr(numeric), Params: full}).String())
	return nil
}

func numericStr(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

func (d *Driver) UpdateClient(uid string, field base.ClientField, value string) error {
	u, ok := d.Network.GetUser(uid)
	if !ok {
		return ircerr.New(ircerr.KindUnknownTarget, d.Cfg.Name, "UpdateClient: "+uid)
	}
	switch field {
	case base.FieldHost:
		u.DisplayedHost = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "FHOST", Params: []string{value}}).String())
	case base.FieldIdent:
		u.Ident = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "FIDENT", Params: []string{value}}).String())
	case base.FieldGecos:
		u.Realname = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "FNAME", Params: []string{value}}).String())
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
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "PING", Params: []string{d.Cfg.SID, d.uplinkSID}}).String())
	return nil
}

func (d *Driver) SJoin(channel string, ts int64, changes []modes.Change, members []string) error {
	modeStr, modeArgs := modes.JoinModes(changes, true)
	if modeStr == "" {
		modeStr = "+"
	}
	entries := make([]string, 0, len(members))
	for _, uid := range members {
		entries = append(entries, ","+uid)
	}
	params := append([]string{channel, strconv.FormatInt(ts, 10), modeStr}, modeArgs...)
	params = append(params, strings.Join(entries, " "))
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "FJOIN", Params: params}).String())
	return nil
}

func (d *Driver) Squit(sid, reason string) error {
	d.Network.RemoveServerCascade(sid)
	d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "SQUIT", Params: []string{sid, reason}}).String())
	return nil
}
