// Package p10 implements the P10 server-to-server protocol used by
// ircu/snircd/nefarious2: numeric-nick (2-char SID + 3-char UID, base 64
// over A-Za-z0-9[]) tokens, the compressed one/two-letter command tokens,
// the PASS/SERVER/EB handshake with EA as the end-of-burst
// acknowledgement, BURST as the channel-burst verb, and the base-64 IPv4
// encoding documented in nefarious2's doc/p10.txt.
package p10

import (
	"context"
	"encoding/base64"
	"net"
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

// p10b64 is the alphabet P10 numerics and IP encodings use: standard
// base 64 with []-for-+/ as the last two characters.
const p10b64 = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789[]"

var p10Encoding = base64.NewEncoding(p10b64).WithPadding(base64.NoPadding)

// tokenToCommand maps P10's compressed command tokens to their long
// names, trimmed to the subset this driver recognises on the wire.
var tokenToCommand = map[string]string{
	"B": "BURST", "EB": "END_OF_BURST", "EA": "EOB_ACK",
	"N": "NICK", "Q": "QUIT", "D": "KILL", "J": "JOIN", "C": "CREATE",
	"L": "PART", "K": "KICK", "M": "MODE", "T": "TOPIC", "S": "SERVER",
	"SQ": "SQUIT", "G": "PING", "Z": "PONG", "P": "PRIVMSG", "O": "NOTICE",
	"SN": "SVSNICK", "CM": "CLEARMODE", "PA": "PASS",
}

// commandToToken is tokenToCommand inverted, used to render outgoing
// lines the way a real P10 server expects (short tokens, not full names).
var commandToToken = func() map[string]string {
	m := make(map[string]string, len(tokenToCommand))
	for tok, cmd := range tokenToCommand {
		m[cmd] = tok
	}
	return m
}()

func tok(cmd string) string {
	if t, ok := commandToToken[cmd]; ok {
		return t
	}
	return cmd
}

var sjoinPrefixLetters = map[byte]entity.PrefixLevel{
	'o': entity.PrefixOp,
	'v': entity.PrefixVoice,
	'h': entity.PrefixHalfop,
}

func newModeMap() *modes.ModeMap {
	return &modes.ModeMap{
		ChanModes: map[byte]modes.Class{
			'b': modes.ClassA, 'e': modes.ClassA,
			'k': modes.ClassB,
			'l': modes.ClassC,
			'n': modes.ClassD, 't': modes.ClassD, 'm': modes.ClassD, 'i': modes.ClassD,
			's': modes.ClassD, 'p': modes.ClassD, 'r': modes.ClassD, 'c': modes.ClassD,
			'D': modes.ClassD, 'z': modes.ClassD,
		},
		UserModes: map[byte]modes.Class{
			'i': modes.ClassD, 'o': modes.ClassD, 'w': modes.ClassD, 'd': modes.ClassD,
			'k': modes.ClassD, 'g': modes.ClassD, 'x': modes.ClassD, 'r': modes.ClassD,
		},
		Prefixes: map[byte]entity.PrefixLevel{
			'o': entity.PrefixOp, 'h': entity.PrefixHalfop, 'v': entity.PrefixVoice,
		},
		PrefixSymbols: map[entity.PrefixLevel]byte{
			entity.PrefixOp:     '@',
			entity.PrefixHalfop: '%',
			entity.PrefixVoice:  '+',
		},
	}
}

// Driver implements base.Driver for P10 (ircu/snircd/nefarious2) uplinks.
type Driver struct {
	*base.BaseDriver

	uids    ids.Generator
	subUIDs map[string]ids.Generator
	modeMap *modes.ModeMap

	uplinkSID string
	startTS   int64
}

// ModeMap returns the driver's CHANMODES/PREFIX table for relay CLAIM
// reversal.
func (d *Driver) ModeMap() *modes.ModeMap { return d.modeMap }

// New constructs a P10 driver for netcfg. netcfg.SID must already be a
// 2-character P10 numeric; it is used as given, and neither New nor
// config loading encodes it.
func New(netcfg *config.Network, bus *hooks.Bus) *Driver {
	d := &Driver{
		BaseDriver: base.NewBaseDriver(netcfg, bus),
		uids:       ids.NewP10(netcfg.SID, netcfg.Name),
		modeMap:    newModeMap(),
	}
	root := entity.NewServer(netcfg.SID, netcfg.Hostname)
	root.Internal = true
	d.Network.AddServer(root)
	return d
}

// Connect performs P10's PASS/SERVER/EB handshake as the initiating side.
func (d *Driver) Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error {
	d.Conn = nc
	d.startTS = entity.Now().Unix()

	nc.Send("PASS :" + netcfg.SendPass)
	nc.Send("SERVER " + netcfg.Hostname + " 1 " + strconv.FormatInt(d.startTS, 10) + " " +
		strconv.FormatInt(d.startTS, 10) + " J10 " + netcfg.SID + "]]] +s6 :" + netcfg.NetName)
	nc.Send(":" + netcfg.SID + " EB")

	for {
		line, err := nc.ReadLine()
		if err != nil {
			return ircerr.Wrap(ircerr.KindTransientIO, netcfg.Name, err, "handshake read")
		}
		msg := parseP10(line, d.uplinkSID != "")
		cmd := expand(msg.Command)
		switch cmd {
		case "PASS":
			if msg.Param(0) != netcfg.RecvPass {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "recvpass mismatch")
			}
		case "SERVER":
			if len(msg.Params) < 6 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed SERVER")
			}
			sid := msg.Params[5]
			if len(sid) > 2 {
				sid = sid[:2]
			}
			d.uplinkSID = sid
			srv := entity.NewServer(sid, strings.ToLower(msg.Params[0]))
			srv.Internal = false
			d.Network.AddServer(srv)
		case "END_OF_BURST":
			nc.Send(":" + netcfg.SID + " EA")
			return nil
		case "ERROR":
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "remote: "+msg.Param(0))
		}
	}
}

// parseP10 parses one line; unlike rfc1459.Parse it tolerates P10's
// unprefixed lines before the handshake's SERVER exchange — every
// message after that point arrives prefixed.
func parseP10(line string, prefixed bool) *rfc1459.Message {
	if prefixed && !strings.HasPrefix(line, ":") {
		line = ":" + line
	}
	return rfc1459.Parse(line)
}

func expand(tokenOrCmd string) string {
	if cmd, ok := tokenToCommand[tokenOrCmd]; ok {
		return cmd
	}
	return tokenOrCmd
}

// HandleLine dispatches one post-handshake P10 line.
func (d *Driver) HandleLine(msg *rfc1459.Message) []hooks.Args {
	switch expand(msg.Command) {
	case "NICK":
		return d.handleNick(msg)
	case "SERVER":
		return d.handleServer(msg)
	case "BURST":
		return d.handleBurst(msg)
	case "JOIN", "CREATE":
		return d.handleJoin(msg)
	case "QUIT":
		return d.handleQuit(msg)
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
	case "SVSNICK":
		if len(msg.Params) < 2 {
			return nil
		}
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SvsNick, Data: map[string]interface{}{"target": msg.Params[0], "newnick": msg.Params[1]}}}
	case "PING":
		d.Conn.Send(":" + d.Cfg.SID + " " + tok("PONG") + " " + msg.Param(0))
		return nil
	case "PONG":
		d.Conn.NotePong()
		return nil
	case "END_OF_BURST":
		d.Conn.Send(":" + d.Cfg.SID + " " + tok("EOB_ACK"))
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.EndBurst}}
	case "EOB_ACK":
		return nil
	default:
		return nil
	}
}

// handleNick handles both user introduction (more than two args) and nick
// changes (1-2 args).
func (d *Driver) handleNick(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) > 2 {
		nick := msg.Params[0]
		ts, _ := strconv.ParseInt(msg.Params[2], 10, 64)
		ident := msg.Params[3]
		host := msg.Params[4]
		ip := decodeP10IP(msg.Params[len(msg.Params)-3])
		uid := msg.Params[len(msg.Params)-2]
		realname := msg.Params[len(msg.Params)-1]

		u := entity.NewUser(uid)
		u.Nick = nick
		u.SignonTS = ts
		u.NickTS = ts
		u.Ident = ident
		u.DisplayedHost = host
		u.RealHost = host
		u.IP = ip
		u.Realname = realname
		u.ServerID = msg.Source
		if len(msg.Params) >= 6 && strings.HasPrefix(msg.Params[5], "+") {
			for _, mc := range strings.TrimPrefix(msg.Params[5], "+") {
				u.SetSimpleMode(string(mc), true)
			}
		}
		d.Network.AddUser(u)
		if srv, ok := d.Network.GetServer(msg.Source); ok {
			srv.AddUID(uid)
		}
		return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.UID, Data: map[string]interface{}{"nick": nick}}}
	}

	ts := entity.Now().Unix()
	if len(msg.Params) >= 2 {
		if parsed, err := strconv.ParseInt(msg.Params[1], 10, 64); err == nil {
			ts = parsed
		}
	}
	u, ok := d.Network.GetUser(msg.Source)
	if !ok || len(msg.Params) < 1 {
		return nil
	}
	oldNick := u.Nick
	if !d.Network.RenameUser(msg.Source, msg.Params[0], ts) {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Nick, Data: map[string]interface{}{"oldnick": oldNick, "newnick": msg.Params[0]}}}
}

func (d *Driver) handleServer(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 6 {
		return nil
	}
	sid := msg.Params[5]
	if len(sid) > 2 {
		sid = sid[:2]
	}
	srv := entity.NewServer(sid, strings.ToLower(msg.Params[0]))
	srv.UplinkSID = msg.Source
	hc, _ := strconv.Atoi(msg.Params[1])
	srv.HopCount = hc
	srv.Description = msg.Param(6)
	d.Network.AddServer(srv)
	return nil
}

// handleBurst handles the B/BURST command bursting a channel's full
// membership, modes and ban/exempt lists.
func (d *Driver) handleBurst(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	channel := msg.Params[0]
	ts, _ := strconv.ParseInt(msg.Params[1], 10, 64)
	args := msg.Params[2:]

	var banArg string
	if len(args) > 0 && strings.HasPrefix(args[len(args)-1], "%") {
		banArg = args[len(args)-1]
		args = args[:len(args)-1]
	}

	var userlist string
	if len(args) > 0 && strings.Contains(args[len(args)-1], ",") || (len(args) > 0 && isUIDToken(args[len(args)-1])) {
		userlist = args[len(args)-1]
		args = args[:len(args)-1]
	}

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

	if theirModesCount && len(args) > 0 {
		changes := modes.ParseModes(d.modeMap, args[0], args[1:], nil)
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}

	if banArg != "" {
		applyBurstBans(d.modeMap, ch, banArg)
	}

	var uids []string
	lastPrefixes := ""
	if userlist != "" {
		for _, pair := range strings.Split(userlist, ",") {
			uid := pair
			if idx := strings.IndexByte(pair, ':'); idx != -1 {
				uid = pair[:idx]
				lastPrefixes = pair[idx+1:]
			}
			if !d.OwnsAnyUser(uid) {
				continue
			}
			d.Network.Join(channel, ch.TS, uid)
			if theirModesCount {
				for _, pl := range []byte(lastPrefixes) {
					if lvl, ok := sjoinPrefixLetters[pl]; ok {
						ch.SetPrefix(lvl, uid, true)
					}
				}
			}
			uids = append(uids, uid)
		}
	}

	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SJoin, Data: map[string]interface{}{"channel": channel, "users": uids}}}
}

// OwnsAnyUser reports whether uid is known on this network at all (burst
// member lists reference UIDs by their bare form, possibly from a server
// not yet introduced in unusual orderings — dropped rather than panicking).
func (d *Driver) OwnsAnyUser(uid string) bool {
	_, ok := d.Network.GetUser(uid)
	return ok
}

func isUIDToken(s string) bool {
	return len(s) >= 3 && len(s) <= 8 && !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "-")
}

// applyBurstBans parses a BURST ban-list argument: "%host1 host2 ~ host3"
// where entries after "~" are ban exceptions.
func applyBurstBans(mm *modes.ModeMap, ch *entity.Channel, arg string) {
	body := strings.TrimPrefix(arg, "%")
	exempts := false
	for _, host := range strings.Fields(body) {
		if host == "~" {
			exempts = true
			continue
		}
		letter := byte('b')
		if exempts {
			letter = 'e'
		}
		modes.ApplyChannelModes(mm, ch, []modes.Change{{Add: true, Letter: letter, Arg: host}})
	}
}

func (d *Driver) handleJoin(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	channel := msg.Params[0]
	ts := entity.Now().Unix()
	if len(msg.Params) >= 2 {
		if parsed, err := strconv.ParseInt(msg.Params[1], 10, 64); err == nil {
			ts = parsed
		}
	}
	if ch, ok := d.Network.GetChannel(channel); ok {
		ts = ch.TS
	}
	d.Network.Join(channel, ts, msg.Source)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Join, Data: map[string]interface{}{"channel": channel}}}
}

func (d *Driver) handleQuit(msg *rfc1459.Message) []hooks.Args {
	reason := msg.Param(0)
	d.Network.RemoveUser(msg.Source)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Quit, Data: map[string]interface{}{"reason": reason}}}
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
	// P10's kicked client acks with a PART of its own; this daemon only
	// models the inbound effect.
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
	if len(msg.Params) < 4 {
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
		if srv, ok := d.Network.GetServerByName(strings.ToLower(msg.Params[0])); ok {
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
	d.Conn.Send(":" + sid + " " + tok("NICK") + " " + nick + " 1 " + strconv.FormatInt(ts, 10) + " " +
		ident + " " + host + " " + modeStr + " " + encodeP10IP(ip) + " " + uid + " :" + gecos)
	return uid, nil
}

// uidsFor hands each introducing server its own UID counter: a P10 numeric
// nick's leading characters are the numeric of the server that owns it.
func (d *Driver) uidsFor(sid string) ids.Generator {
	if sid == d.Cfg.SID {
		return d.uids
	}
	if d.subUIDs == nil {
		d.subUIDs = make(map[string]ids.Generator)
	}
	g, ok := d.subUIDs[sid]
	if !ok {
		g = ids.NewP10(sid, d.Cfg.Name)
		d.subUIDs[sid] = g
	}
	return g
}

func (d *Driver) SpawnServer(sid, name, description string) error {
	srv := entity.NewServer(sid, name)
	srv.Internal = true
	srv.UplinkSID = d.Cfg.SID
	d.Network.AddServer(srv)
	ts := entity.Now().Unix()
	d.Conn.Send(":" + d.Cfg.SID + " " + tok("SERVER") + " " + name + " 1 " + strconv.FormatInt(ts, 10) + " " +
		strconv.FormatInt(ts, 10) + " J10 " + sid + "]]] +s6 :" + description)
	return nil
}

func (d *Driver) Join(uid, channel string, ts int64) error {
	if d.InvalidSource(uid) {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Join: "+uid)
	}
	d.Network.Join(channel, ts, uid)
	d.Conn.Send(":" + uid + " " + tok("JOIN") + " " + channel + " " + strconv.FormatInt(ts, 10))
	return nil
}

func (d *Driver) Part(uid, channel, reason string) error {
	d.Network.Part(channel, uid)
	d.Conn.Send(":" + uid + " " + tok("PART") + " " + channel + " :" + reason)
	return nil
}

func (d *Driver) Quit(uid, reason string) error {
	d.Network.RemoveUser(uid)
	d.Conn.Send(":" + uid + " " + tok("QUIT") + " :" + reason)
	return nil
}

func (d *Driver) Kick(sourceUID, channel, targetUID, reason string) error {
	d.Network.Part(channel, targetUID)
	d.Conn.Send(":" + sourceUID + " " + tok("KICK") + " " + channel + " " + targetUID + " :" + reason)
	return nil
}

func (d *Driver) Kill(sourceUID, targetUID, reason string) error {
	d.Network.RemoveUser(targetUID)
	d.Conn.Send(":" + sourceUID + " " + tok("KILL") + " " + targetUID + " :" + reason)
	return nil
}

func (d *Driver) Nick(uid, newNick string, ts int64) error {
	if !d.Network.RenameUser(uid, newNick, ts) {
		return ircerr.New(ircerr.KindProtocol, d.Cfg.Name, "nick collision: "+newNick)
	}
	d.Conn.Send(":" + uid + " " + tok("NICK") + " " + newNick + " " + strconv.FormatInt(ts, 10))
	return nil
}

func (d *Driver) Mode(sourceUID, target string, changes []modes.Change) error {
	if ch, ok := d.Network.GetChannel(target); ok {
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}
	str, args := modes.JoinModes(changes, true)
	line := ":" + sourceUID + " " + tok("MODE") + " " + target + " " + str
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	d.Conn.Send(line)
	return nil
}

func (d *Driver) Topic(sourceUID, channel, text string, ts int64) error {
	var ch *entity.Channel
	var ok bool
	if ch, ok = d.Network.GetChannel(channel); ok {
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = ts
	}
	creationTS := ts
	if ch != nil {
		creationTS = ch.TS
	}
	setter := sourceUID
	if u, ok := d.Network.GetUser(sourceUID); ok {
		setter = u.Hostmask()
	}
	d.Conn.Send(":" + sourceUID + " " + tok("TOPIC") + " " + channel + " " + setter + " " +
		strconv.FormatInt(creationTS, 10) + " " + strconv.FormatInt(ts, 10) + " :" + text)
	return nil
}

func (d *Driver) Message(sourceUID, target, text string) error {
	d.Conn.Send(":" + sourceUID + " " + tok("PRIVMSG") + " " + target + " :" + text)
	return nil
}

func (d *Driver) Notice(sourceUID, target, text string) error {
	d.Conn.Send(":" + sourceUID + " " + tok("NOTICE") + " " + target + " :" + text)
	return nil
}

func (d *Driver) Invite(sourceUID, targetUID, channel string) error {
	d.Conn.Send(":" + sourceUID + " I " + targetUID + " " + channel)
	return nil
}

func (d *Driver) Knock(sourceUID, channel, text string) error {
	d.Conn.Send(":" + sourceUID + " NOTICE " + channel + " :[Knock] " + text)
	return nil
}

func (d *Driver) Numeric(targetUID string, numeric int, params []string) error {
	full := strconv.Itoa(numeric)
	for len(full) < 3 {
		full = "0" + full
	}
	d.Conn.Send(":" + d.Cfg.SID + " " + full + " " + targetUID + " " + strings.Join(params, " "))
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
		d.Conn.Send(":" + d.Cfg.SID + " FA " + uid + " " + value)
	case base.FieldIdent:
		u.Ident = value
	case base.FieldGecos:
		u.Realname = value
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
		d.Conn.Send(":" + uid + " A")
	} else {
		d.Conn.Send(":" + uid + " A :" + text)
	}
	return nil
}

func (d *Driver) Ping() error {
	d.Conn.Send(":" + d.Cfg.SID + " " + tok("PING") + " " + d.uplinkSID)
	return nil
}

func (d *Driver) SJoin(channel string, ts int64, changes []modes.Change, members []string) error {
	modeStr, modeArgs := modes.JoinModes(changes, true)
	line := ":" + d.Cfg.SID + " " + tok("BURST") + " " + channel + " " + strconv.FormatInt(ts, 10)
	if modeStr != "" {
		line += " " + modeStr
		if len(modeArgs) > 0 {
			line += " " + strings.Join(modeArgs, " ")
		}
	}
	if len(members) > 0 {
		line += " " + strings.Join(members, ",")
	}
	d.Conn.Send(line)
	return nil
}

func (d *Driver) Squit(sid, reason string) error {
	name := sid
	if srv, ok := d.Network.GetServer(sid); ok {
		name = srv.Name
	}
	d.Network.RemoveServerCascade(sid)
	d.Conn.Send(":" + d.Cfg.SID + " " + tok("SQUIT") + " " + name + " 0 :" + reason)
	return nil
}

// -- P10 base-64 IP encoding --

// encodeP10IP renders an IPv4 address as P10's 6-char base-64 form, or an
// IPv6 address as all eight 16-bit groups at 3 base-64 chars each. Runs of
// zero groups are not compressed to "_": IPv6 output is always the full
// 24-char form. An unparseable address encodes as "AAAAAA".
func encodeP10IP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "AAAAAA"
	}
	if v4 := parsed.To4(); v4 != nil {
		return p10Encoding.EncodeToString(v4)
	}
	v6 := parsed.To16()
	var sb strings.Builder
	for i := 0; i < 16; i += 2 {
		sb.WriteString(p10Encoding.EncodeToString(append([]byte{0}, v6[i], v6[i+1]))[1:])
	}
	return sb.String()
}

// decodeP10IP is encodeP10IP's inverse for the IPv4 case (6 chars); any
// other length is returned unmodified as a best-effort passthrough for
// IPv6 tokens this driver does not fully decode.
func decodeP10IP(token string) string {
	if len(token) == 6 {
		if raw, err := p10Encoding.DecodeString(token); err == nil && len(raw) == 4 {
			return net.IP(raw).String()
		}
	}
	return token
}
