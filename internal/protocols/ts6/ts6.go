// Package ts6 implements the TS6 server-to-server protocol, the family
// shared by Ratbox/Charybdis/Hybrid: PASS/CAPAB/SERVER/SVINFO handshake,
// UID/EUID user introduction, SJOIN channel bursts with lower-TS-wins
// arbitration, and ENCAP for the host/ident/name change verbs.
package ts6

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

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

const (
	tsVersion   = 6
	minTSVersion = 6
)

// Capabilities is the capability set this driver advertises. Hybrid wraps
// this driver with a subset (no EUID/EOPMOD/MLOCK); see protocols/hybrid.
var Capabilities = []string{
	"QS", "EX", "CHW", "IE", "KLN", "UNKLN", "ENCAP", "SERVICES", "EUID", "EOPMOD", "MLOCK", "SAVE", "TB",
}

// Driver implements base.Driver for TS6-derived networks.
type Driver struct {
	*base.BaseDriver

	uids    ids.Generator
	subUIDs map[string]ids.Generator // per-subserver UID generators, keyed by SID
	caps    []string
	modeMap *modes.ModeMap

	uplinkSID string
	registered bool

	endburstMu    sync.Mutex
	endburstTimer *time.Timer
	endburstFired bool
}

// endburstQuiet is how long this driver waits for wire silence before
// deciding the uplink's burst has ended: TS6 has no explicit
// end-of-burst, so a short timer synthesises an ENDBURST event after the
// last burst line. Reused by protocols/hybrid, which is TS6 under a
// different capability set.
const endburstQuiet = 2 * time.Second

// armEndburst (re)starts the quiet-period timer; called once after the
// handshake completes and again on every subsequent line, so the timer
// only fires once the uplink has gone quiet for endburstQuiet.
func (d *Driver) armEndburst() {
	d.endburstMu.Lock()
	defer d.endburstMu.Unlock()
	if d.endburstFired {
		return
	}
	if d.endburstTimer != nil {
		d.endburstTimer.Stop()
	}
	d.endburstTimer = time.AfterFunc(endburstQuiet, d.fireEndburst)
}

func (d *Driver) fireEndburst() {
	d.endburstMu.Lock()
	if d.endburstFired {
		d.endburstMu.Unlock()
		return
	}
	d.endburstFired = true
	d.endburstMu.Unlock()
	d.Dispatch(hooks.EndBurst, d.Cfg.Name, d.uplinkSID, nil)
}

// New constructs a TS6 driver for netcfg, bursting with the given
// capability set (callers that need the Hybrid subset pass a trimmed
// slice instead of Capabilities).
func New(netcfg *config.Network, bus *hooks.Bus, caps []string, mm *modes.ModeMap) *Driver {
	if caps == nil {
		caps = Capabilities
	}
	d := &Driver{
		BaseDriver: base.NewBaseDriver(netcfg, bus),
		uids:       ids.NewTS6(netcfg.SID, netcfg.Name),
		caps:       caps,
		modeMap:    mm,
	}
	root := entity.NewServer(netcfg.SID, netcfg.Hostname)
	root.Internal = true
	d.Network.AddServer(root)
	return d
}

// Connect performs the PASS/CAPAB/SERVER/SVINFO handshake as the
// initiating side. This daemon always dials out, so the inbound-listener
// variant (reading PASS first) does not exist.
func (d *Driver) Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error {
	d.Conn = nc

	send := func(msg *rfc1459.Message) { nc.Send(msg.String()) }

	send(buildPASS(netcfg.SendPass, netcfg.SID))
	send(buildCAPAB(d.caps))
	send(buildSERVER(netcfg.Hostname, netcfg.NetName))
	send(buildSVINFO())

	for {
		line, err := nc.ReadLine()
		if err != nil {
			return ircerr.Wrap(ircerr.KindTransientIO, netcfg.Name, err, "handshake read")
		}
		msg := rfc1459.Parse(line)
		switch msg.Command {
		case "PASS":
			if len(msg.Params) < 4 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed PASS")
			}
			if msg.Params[0] != netcfg.RecvPass {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "recvpass mismatch")
			}
			d.uplinkSID = msg.Params[3]
		case "CAPAB":
			// Capability intersection is informational only; every
			// capability this driver emits degrades gracefully if unused.
		case "SERVER":
			if d.uplinkSID == "" {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "SERVER before PASS")
			}
			if len(msg.Params) < 2 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed SERVER")
			}
			srv := entity.NewServer(d.uplinkSID, msg.Params[0])
			srv.Internal = false
			d.Network.AddServer(srv)
		case "SVINFO":
			if len(msg.Params) < 3 {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "malformed SVINFO")
			}
			remoteTS, _ := strconv.Atoi(msg.Params[0])
			remoteMin, _ := strconv.Atoi(msg.Params[1])
			if remoteTS < minTSVersion || remoteMin > tsVersion {
				return ircerr.New(ircerr.KindProtocol, netcfg.Name, "incompatible TS version")
			}
			d.registered = true
			d.armEndburst()
			return nil
		case "ERROR":
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "remote: "+msg.Param(0))
		default:
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "unexpected command during handshake: "+msg.Command)
		}
	}
}

// HandleLine dispatches one post-handshake wire line into NetworkState
// mutations and the hook events they imply.
func (d *Driver) HandleLine(msg *rfc1459.Message) []hooks.Args {
	d.armEndburst()
	switch msg.Command {
	case "UID", "EUID":
		return d.handleUID(msg)
	case "SJOIN":
		return d.handleSJOIN(msg)
	case "SID":
		return d.handleSID(msg)
	case "NICK":
		return d.handleNick(msg)
	case "QUIT":
		return d.handleQuit(msg)
	case "SAVE":
		return d.handleSave(msg)
	case "JOIN":
		return d.handleJoin(msg)
	case "PART":
		return d.handlePart(msg)
	case "KICK":
		return d.handleKick(msg)
	case "KILL":
		return d.handleKill(msg)
	case "MODE", "TMODE":
		return d.handleMode(msg)
	case "TOPIC":
		return d.handleTopic(msg)
	case "PRIVMSG":
		return d.handlePrivmsgOrNotice(msg, hooks.PrivMsg)
	case "NOTICE":
		return d.handlePrivmsgOrNotice(msg, hooks.Notice)
	case "SQUIT":
		return d.handleSquit(msg)
	case "AWAY":
		return d.handleAway(msg)
	case "INVITE":
		return d.handleInvite(msg)
	case "KNOCK":
		return d.handleKnock(msg)
	case "PING":
		d.Conn.Send(buildPONG(d.Cfg.SID, msg.Param(0)).String())
		return nil
	case "PONG":
		d.Conn.NotePong()
		return nil
	case "ENCAP":
		return d.handleEncap(msg)
	default:
		return nil
	}
}

func (d *Driver) handleUID(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 9 {
		return nil
	}
	ts, _ := strconv.ParseInt(msg.Params[2], 10, 64)
	uid := msg.Params[7]
	u := entity.NewUser(uid)
	u.Nick = msg.Params[0]
	u.SignonTS = ts
	u.NickTS = ts
	u.Ident = msg.Params[4]
	u.DisplayedHost = msg.Params[5]
	u.RealHost = msg.Params[5]
	u.IP = msg.Params[6]
	u.Realname = msg.Params[len(msg.Params)-1]
	u.ServerID = msg.Source
	for _, mc := range strings.TrimPrefix(msg.Params[3], "+") {
		u.SetSimpleMode(string(mc), true)
	}
	// EUID carries two extra fields between the UID and the realname:
	// the real host and the services account ("*" when logged out).
	account := ""
	if msg.Command == "EUID" && len(msg.Params) >= 11 {
		u.RealHost = msg.Params[8]
		if msg.Params[9] != "*" {
			account = msg.Params[9]
			u.ServicesLogin = account
		}
	}
	d.Network.AddUser(u)
	if srv, ok := d.Network.GetServer(msg.Source); ok {
		srv.AddUID(uid)
	}
	events := []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.UID, Data: map[string]interface{}{"nick": u.Nick}}}
	if account != "" {
		// Login state bursts inline with the introduction; the login hook
		// still fires after UID so subscribers always see the user first.
		events = append(events, hooks.Args{Network: d.Cfg.Name, Source: uid, Command: hooks.ClientServicesLogin, Data: map[string]interface{}{"account": account}})
	}
	return events
}

func (d *Driver) handleSID(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 3 {
		return nil
	}
	srv := entity.NewServer(msg.Params[2], msg.Params[0])
	srv.UplinkSID = msg.Source
	hc, _ := strconv.Atoi(msg.Params[1])
	srv.HopCount = hc
	d.Network.AddServer(srv)
	return nil
}

func (d *Driver) handleSJOIN(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 4 {
		return nil
	}
	ts, _ := strconv.ParseInt(msg.Params[0], 10, 64)
	channel := msg.Params[1]
	modeStr := msg.Params[2]
	memberStr := msg.Params[len(msg.Params)-1]

	existing, existed := d.Network.GetChannel(channel)
	var weWin, tie bool
	if existed {
		weWin, tie = base.WinsTS(existing.TS, ts)
	} else {
		weWin, tie = true, false
	}

	ch := d.Network.GetOrCreateChannel(channel, ts)
	theirModesCount := true
	if existed {
		switch {
		case !weWin && !tie:
			// Their TS is lower: their incarnation wins. Local flags,
			// key/limit and all status grants are dropped; list modes and
			// membership survive the merge.
			ch.TS = ts
			modes.ClearNonListModes(d.modeMap, ch)
			ch.ClearPrefixes()
		case weWin:
			// Ours is lower: merge membership only, ignore their modes
			// and prefix claims.
			theirModesCount = false
		}
	}

	if theirModesCount {
		modeArgs := sjoinModeArgs(msg.Params)
		changes := modes.ParseModes(d.modeMap, modeStr, modeArgs, nil)
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}

	var uids []string
	for _, tok := range strings.Fields(memberStr) {
		prefixes, uid := splitSJOINPrefixes(tok)
		d.Network.Join(channel, ch.TS, uid)
		if theirModesCount {
			for _, p := range prefixes {
				ch.SetPrefix(p, uid, true)
			}
		}
		uids = append(uids, uid)
	}

	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SJoin, Data: map[string]interface{}{"channel": channel, "users": uids}}}
}

// sjoinModeArgs returns the argument tokens between the modestring and the
// trailing member list in an SJOIN line (params[0]=ts, [1]=channel,
// [2]=modestring, [3:-1]=mode args, [-1]=members).
func sjoinModeArgs(params []string) []string {
	if len(params) <= 4 {
		return nil
	}
	return params[3 : len(params)-1]
}

// sjoinPrefixLetters maps SJOIN member-list sigils to entity prefix
// levels, highest-first as TS6 servers emit them (e.g. "@+uid").
var sjoinPrefixLetters = map[byte]entity.PrefixLevel{
	'~': entity.PrefixOwner,
	'&': entity.PrefixAdmin,
	'@': entity.PrefixOp,
	'%': entity.PrefixHalfop,
	'+': entity.PrefixVoice,
}

func splitSJOINPrefixes(tok string) ([]entity.PrefixLevel, string) {
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

// handleSave implements TS6 nick-collision resolution (the SAVE
// handling): the target user's nick is forced to its UID, and its NickTS
// is bumped to the SAVE's timestamp so a later genuine NICK from the
// legitimate owner is not itself treated as a second collision.
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
	opered := false
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
				if mc == 'o' && add && u.OperType == "" {
					u.OperType = "IRC Operator"
					opered = true
				}
			}
		}
	}
	events := []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Mode, Data: map[string]interface{}{"target": target, "modes": modestr}}}
	if opered {
		events = append(events, hooks.Args{Network: d.Cfg.Name, Source: target, Command: hooks.ClientOpered, Data: map[string]interface{}{"text": "IRC Operator"}})
	}
	return events
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

// handleAway covers both forms: with a reason the user goes away, with
// none it returns.
func (d *Driver) handleAway(msg *rfc1459.Message) []hooks.Args {
	u, ok := d.Network.GetUser(msg.Source)
	if !ok {
		return nil
	}
	u.Away = msg.Param(0)
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Away, Data: map[string]interface{}{"text": u.Away}}}
}

func (d *Driver) handleInvite(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Invite, Data: map[string]interface{}{"target": msg.Params[0], "channel": msg.Params[1]}}}
}

func (d *Driver) handleKnock(msg *rfc1459.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.Knock, Data: map[string]interface{}{"channel": msg.Params[0]}}}
}

func (d *Driver) handleEncap(msg *rfc1459.Message) []hooks.Args {
	// ENCAP <target-mask> <subcommand> <subparams...>; only SU/SVSNICK/CHGHOST
	// are modeled; the rest only needs passive recognition so every
	// encapsulated server notice doesn't turn into log noise.
	if len(msg.Params) < 2 {
		return nil
	}
	switch msg.Params[1] {
	case "SU":
		// Services login/logout: ENCAP * SU <uid> [account]
		if len(msg.Params) < 3 {
			return nil
		}
		uid := msg.Params[2]
		account := msg.Param(3)
		if u, ok := d.Network.GetUser(uid); ok {
			u.ServicesLogin = account
		}
		return []hooks.Args{{Network: d.Cfg.Name, Source: uid, Command: hooks.ClientServicesLogin, Data: map[string]interface{}{"account": account}}}
	case "SVSNICK":
		if len(msg.Params) < 4 {
			return nil
		}
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.SvsNick, Data: map[string]interface{}{"target": msg.Params[2], "newnick": msg.Params[3]}}}
	case "CHGHOST":
		if len(msg.Params) < 4 {
			return nil
		}
		if u, ok := d.Network.GetUser(msg.Params[2]); ok {
			u.DisplayedHost = msg.Params[3]
		}
		return []hooks.Args{{Network: d.Cfg.Name, Source: msg.Source, Command: hooks.ChgHost, Data: map[string]interface{}{"target": msg.Params[2], "host": msg.Params[3]}}}
	default:
		return nil
	}
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
	d.Conn.Send(buildUID(sid, nick, ident, host, ip, uid, modeStr, gecos, ts).String())
	return uid, nil
}

// uidsFor returns the UID generator for the given introducing server: UIDs
// carry their server's SID prefix, so each spawned subserver allocates from
// its own counter.
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
	d.Conn.Send((&rfc1459.Message{Source: uid, Command: "JOIN", Params: []string{strconv.FormatInt(ts, 10), channel, "+"}}).String())
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
	d.Conn.Send((&rfc1459.Message{Source: sourceUID, Command: "TMODE", Params: params}).String())
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
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "ENCAP", Params: []string{"*", "CHGHOST", uid, value}}).String())
	case base.FieldIdent:
		u.Ident = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "ENCAP", Params: []string{"*", "CHGIDENT", uid, value}}).String())
	case base.FieldGecos:
		u.Realname = value
		d.Conn.Send((&rfc1459.Message{Source: d.Cfg.SID, Command: "ENCAP", Params: []string{"*", "CHGNAME", uid, value}}).String())
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
	d.Conn.Send(buildPING(d.Cfg.SID, d.uplinkSID).String())
	return nil
}

func (d *Driver) SJoin(channel string, ts int64, changes []modes.Change, members []string) error {
	for _, uid := range members {
		d.Network.Join(channel, ts, uid)
	}
	if ch, ok := d.Network.GetChannel(channel); ok {
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}
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

// -- wire builders, grounded on internal/linking/protocol.go --

func buildPASS(password, sid string) *rfc1459.Message {
	return &rfc1459.Message{Command: "PASS", Params: []string{password, "TS", strconv.Itoa(tsVersion), sid}}
}

func buildCAPAB(caps []string) *rfc1459.Message {
	return &rfc1459.Message{Command: "CAPAB", Params: []string{strings.Join(caps, " ")}}
}

func buildSERVER(name, description string) *rfc1459.Message {
	return &rfc1459.Message{Command: "SERVER", Params: []string{name, "1", description}}
}

func buildSVINFO() *rfc1459.Message {
	return &rfc1459.Message{Command: "SVINFO", Params: []string{
		strconv.Itoa(tsVersion), strconv.Itoa(minTSVersion), "0", strconv.FormatInt(entity.Now().Unix(), 10),
	}}
}

func buildUID(sid, nick, user, host, ip, uid, modeStr, realname string, ts int64) *rfc1459.Message {
	return &rfc1459.Message{
		Source:  sid,
		Command: "UID",
		Params:  []string{nick, "1", strconv.FormatInt(ts, 10), modeStr, user, host, ip, uid, realname},
	}
}

func buildPING(source, target string) *rfc1459.Message {
	return &rfc1459.Message{Source: source, Command: "PING", Params: []string{target}}
}

func buildPONG(source, target string) *rfc1459.Message {
	return &rfc1459.Message{Source: source, Command: "PONG", Params: []string{target}}
}
