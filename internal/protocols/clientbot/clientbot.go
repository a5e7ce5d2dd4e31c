// Package clientbot joins a remote network as an ordinary IRCv3 client
// rather than linking as a server, so channels can be relayed through
// networks that don't permit server links at all: CAP LS/REQ/END
// negotiation, SASL, and NAMES/WHO-driven channel sync in place of a real
// burst. Unlike every other driver here, Clientbot parses its wire lines
// with gopkg.in/irc.v3 instead of internal/rfc1459, since the format is
// full IRCv3 with message tags. Only one UID in a Clientbot network's
// entity.NetworkState ever corresponds to a real wire connection (the
// "pseudoclient") — every other UID is a synthetic PUID mirroring an
// observed remote nick.
package clientbot

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"

	"gopkg.in/irc.v3"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/ircconn"
	"github.com/ircrelay/relayd/internal/ircerr"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/base"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

const fallbackRealname = "relayd Relay Mirror Client"

var ircv3Caps = []string{"multi-prefix", "sasl", "userhost-in-names", "away-notify"}

func newModeMap() *modes.ModeMap {
	// Default RFC2812-ish table; handle005 overwrites this from ISUPPORT
	// once the uplink tells us its real CHANMODES/PREFIX.
	return &modes.ModeMap{
		ChanModes: map[byte]modes.Class{
			'b': modes.ClassA, 'e': modes.ClassA, 'I': modes.ClassA,
			'k': modes.ClassB,
			'l': modes.ClassC,
			'i': modes.ClassD, 'm': modes.ClassD, 'n': modes.ClassD,
			'p': modes.ClassD, 's': modes.ClassD, 't': modes.ClassD,
		},
		UserModes: map[byte]modes.Class{
			'i': modes.ClassD, 'o': modes.ClassD, 'w': modes.ClassD, 's': modes.ClassD,
		},
		Prefixes: map[byte]entity.PrefixLevel{
			'o': entity.PrefixOp, 'v': entity.PrefixVoice,
		},
		PrefixSymbols: map[entity.PrefixLevel]byte{
			entity.PrefixOp:    '@',
			entity.PrefixVoice: '+',
		},
	}
}

// Driver implements base.Driver for a single IRCv3 client connection
// acting as a relay endpoint.
type Driver struct {
	*base.BaseDriver

	modeMap *modes.ModeMap

	puidSeq  int
	psidSeq  int
	nickUID  map[string]string
	pseudoUID string // the one UID that corresponds to our real wire connection

	uplinkName string
	caps       map[string]string // negotiated+available ISUPPORT tokens
	ircv3Have  map[string]bool
	gotEOB     bool
	nick       string
	scram      *scramClient

	whoReceived map[string]bool
}

// ModeMap returns the driver's current (possibly ISUPPORT-negotiated)
// CHANMODES/PREFIX table.
func (d *Driver) ModeMap() *modes.ModeMap { return d.modeMap }

// New constructs a Clientbot driver for netcfg.
func New(netcfg *config.Network, bus *hooks.Bus) *Driver {
	d := &Driver{
		BaseDriver:  base.NewBaseDriver(netcfg, bus),
		modeMap:     newModeMap(),
		nickUID:     make(map[string]string),
		caps:        make(map[string]string),
		ircv3Have:   make(map[string]bool),
		whoReceived: make(map[string]bool),
	}
	d.Network = entity.NewNetworkState(netcfg.Hostname)
	return d
}

func (d *Driver) psidFor() string {
	d.psidSeq++
	return "PSID" + strconv.Itoa(d.psidSeq)
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

// Connect opens the client session: optional PASS, NICK/USER, and CAP LS
// — the rest of negotiation (REQ/SASL/END) happens from HandleLine as
// replies arrive.
func (d *Driver) Connect(ctx context.Context, nc *ircconn.Conn, netcfg *config.Network) error {
	d.Conn = nc
	d.uplinkName = netcfg.Hostname
	d.gotEOB = false

	sid := d.psidFor()
	srv := entity.NewServer(sid, netcfg.Hostname)
	srv.Internal = false
	d.Network.AddServer(srv)

	if netcfg.SendPass != "" {
		nc.Send("PASS " + netcfg.SendPass)
	}
	d.nick = netcfg.ClientbotNick
	if d.nick == "" {
		d.nick = "relayd"
	}
	ident := netcfg.ClientbotIdent
	if ident == "" {
		ident = "relayd"
	}
	nc.Send("NICK " + d.nick)
	nc.Send("USER " + ident + " 8 * :" + fallbackRealname)
	nc.Send("CAP LS 302")

	for {
		line, err := nc.ReadLine()
		if err != nil {
			return ircerr.Wrap(ircerr.KindTransientIO, netcfg.Name, err, "handshake read")
		}
		msg, err := irc.ParseMessage(line)
		if err != nil {
			continue
		}
		switch msg.Command {
		case "001":
			d.pseudoUID = d.puidFor(d.nick)
			u := entity.NewUser(d.pseudoUID)
			u.Nick = d.nick
			u.Ident = ident
			u.DisplayedHost = netcfg.Hostname
			u.RealHost = netcfg.Hostname
			u.Realname = fallbackRealname
			u.SignonTS = entity.Now().Unix()
			u.NickTS = u.SignonTS
			u.ServerID = sid
			d.Network.AddUser(u)
			srv.AddUID(d.pseudoUID)
		case "005":
			d.applyISupport(msg.Params)
			return nil
		case "CAP":
			d.handleCapDuringHandshake(msg)
		case "433", "432", "437":
			d.nick += "_"
			nc.Send("NICK " + d.nick)
		case "ERROR":
			return ircerr.New(ircerr.KindProtocol, netcfg.Name, "remote: "+msg.Trailing())
		}
	}
}

func (d *Driver) handleCapDuringHandshake(msg *irc.Message) {
	if len(msg.Params) < 3 {
		return
	}
	switch msg.Params[1] {
	case "LS":
		for _, tok := range strings.Fields(msg.Params[len(msg.Params)-1]) {
			name := tok
			if i := strings.IndexByte(tok, '='); i >= 0 {
				name = tok[:i]
			}
			d.ircv3Have[name] = true
		}
		if msg.Params[2] != "*" {
			d.requestCaps()
		}
	case "ACK":
		if !d.saslAuth() {
			d.Conn.Send("CAP END")
		}
	case "NAK":
		d.Conn.Send("CAP END")
	}
}

func (d *Driver) requestCaps() {
	var wanted []string
	for _, c := range ircv3Caps {
		if d.ircv3Have[c] {
			wanted = append(wanted, c)
		}
	}
	if len(wanted) > 0 {
		d.Conn.Send("CAP REQ :" + strings.Join(wanted, " "))
	} else {
		d.Conn.Send("CAP END")
	}
}

// saslAuth begins the configured SASL mechanism if the uplink offers the
// sasl cap. Returns true if an AUTHENTICATE exchange was started (caller
// must defer CAP END until the 903/904 reply).
func (d *Driver) saslAuth() bool {
	if !d.ircv3Have["sasl"] {
		return false
	}
	mech := d.saslMechanism()
	if mech == "" {
		return false
	}
	if mech == "SCRAM-SHA-256" {
		sc, err := newScramClient(d.Cfg.SASLUsername, d.Cfg.SASLPassword)
		if err != nil {
			return false
		}
		d.scram = sc
	}
	d.Conn.Send("AUTHENTICATE " + mech)
	return true
}

// prefixLevelForLetter maps the handful of status-prefix letters that
// appear in the wild across IRCds to entity's fixed PrefixLevel enum
// (the handful of letters seen in the wild across IRCds).
func prefixLevelForLetter(letter byte) (entity.PrefixLevel, bool) {
	switch letter {
	case 'q':
		return entity.PrefixOwner, true
	case 'a':
		return entity.PrefixAdmin, true
	case 'o':
		return entity.PrefixOp, true
	case 'h':
		return entity.PrefixHalfop, true
	case 'v':
		return entity.PrefixVoice, true
	default:
		return entity.PrefixNone, false
	}
}

// applyISupport parses 005 RPL_ISUPPORT tokens into the driver's mode map
// so later mode parsing follows the uplink's own grammar.
func (d *Driver) applyISupport(params []string) {
	for _, tok := range params[1 : len(params)-1] {
		k, v, hasVal := tok, "", false
		if i := strings.IndexByte(tok, '='); i >= 0 {
			k, v, hasVal = tok[:i], tok[i+1:], true
		}
		d.caps[k] = v
		if !hasVal {
			continue
		}
		switch k {
		case "CHANMODES":
			classes := strings.SplitN(v, ",", 4)
			letterClass := []modes.Class{modes.ClassA, modes.ClassB, modes.ClassC, modes.ClassD}
			cm := make(map[byte]modes.Class)
			for i, group := range classes {
				if i >= len(letterClass) {
					break
				}
				for _, c := range group {
					cm[byte(c)] = letterClass[i]
				}
			}
			d.modeMap.ChanModes = cm
		case "PREFIX":
			// "(ov)@+"
			if !strings.HasPrefix(v, "(") {
				continue
			}
			close := strings.IndexByte(v, ')')
			if close < 0 {
				continue
			}
			letters := v[1:close]
			symbols := v[close+1:]
			if len(letters) != len(symbols) {
				continue
			}
			pref := make(map[byte]entity.PrefixLevel, len(letters))
			symMap := make(map[entity.PrefixLevel]byte, len(letters))
			for i := 0; i < len(letters); i++ {
				lvl, ok := prefixLevelForLetter(letters[i])
				if !ok {
					continue
				}
				pref[letters[i]] = lvl
				symMap[lvl] = symbols[i]
			}
			d.modeMap.Prefixes = pref
			d.modeMap.PrefixSymbols = symMap
		}
	}
}

// HandleLine dispatches one post-handshake IRCv3 line.
func (d *Driver) HandleLine(msg *rfc1459.Message) []hooks.Args {
	// HandleLine is kept to satisfy base.Driver's shared dispatch contract
	// (netmgr calls rfc1459.Parse before every HandleLine), but clientbot
	// needs the original tagged line to use irc.v3's tag-aware parser; the
	// raw line is carried in msg.Raw.
	parsed, err := irc.ParseMessage(msg.Raw)
	if err != nil {
		return nil
	}
	return d.dispatch(parsed)
}

func (d *Driver) dispatch(msg *irc.Message) []hooks.Args {
	sourceUID := d.resolveSource(msg)
	switch msg.Command {
	case "CAP":
		d.handleCapDuringHandshake(msg)
		return nil
	case "AUTHENTICATE":
		return d.handleAuthenticate(msg)
	case "903", "904", "905", "906", "907":
		if !d.gotEOB {
			d.Conn.Send("CAP END")
		}
		return nil
	case "005":
		d.applyISupport(msg.Params)
		return nil
	case "376", "422":
		if !d.gotEOB {
			d.gotEOB = true
			return []hooks.Args{{Network: d.Cfg.Name, Source: d.uplinkName, Command: hooks.EndBurst}}
		}
		return nil
	case "353":
		return d.handle353(msg)
	case "352":
		return d.handle352(msg)
	case "315":
		return d.handle315(msg)
	case "JOIN":
		return d.handleJoin(sourceUID, msg)
	case "PART":
		return d.handlePart(sourceUID, msg)
	case "KICK":
		return d.handleKick(sourceUID, msg)
	case "QUIT":
		return d.handleQuit(sourceUID, msg)
	case "NICK":
		return d.handleNick(sourceUID, msg)
	case "MODE":
		return d.handleMode(sourceUID, msg)
	case "AWAY":
		// Delivered because we request the away-notify cap.
		if u, ok := d.Network.GetUser(sourceUID); ok {
			u.Away = msg.Trailing()
			return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Away, Data: map[string]interface{}{"text": u.Away}}}
		}
		return nil
	case "TOPIC":
		return d.handleTopic(sourceUID, msg)
	case "PRIVMSG":
		return d.handlePrivOrNotice(sourceUID, msg, hooks.PrivMsg)
	case "NOTICE":
		return d.handlePrivOrNotice(sourceUID, msg, hooks.Notice)
	case "PING":
		d.Conn.Send("PONG :" + msg.Trailing())
		return nil
	case "PONG":
		d.Conn.NotePong()
		return nil
	default:
		return nil
	}
}

func (d *Driver) handleAuthenticate(msg *irc.Message) []hooks.Args {
	if len(msg.Params) == 0 {
		return nil
	}
	payload := msg.Params[0]
	mech := d.saslMechanism()

	if payload == "+" {
		switch mech {
		case "PLAIN":
			auth := "\x00" + d.Cfg.SASLUsername + "\x00" + d.Cfg.SASLPassword
			d.Conn.Send("AUTHENTICATE " + base64.StdEncoding.EncodeToString([]byte(auth)))
		case "EXTERNAL":
			// Identity is asserted by the TLS client certificate; the
			// response is the empty authzid.
			d.Conn.Send("AUTHENTICATE +")
		case "SCRAM-SHA-256":
			if d.scram != nil {
				d.Conn.Send("AUTHENTICATE " + base64.StdEncoding.EncodeToString([]byte(d.scram.clientFirst())))
			}
		}
		return nil
	}

	// A non-"+" payload is a server challenge; only SCRAM has those.
	if mech != "SCRAM-SHA-256" || d.scram == nil {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		d.Conn.Send("AUTHENTICATE *") // abort
		return nil
	}
	if !d.scram.sentFinal {
		final, err := d.scram.clientFinal(string(decoded))
		if err != nil {
			d.Conn.Send("AUTHENTICATE *")
			return nil
		}
		d.Conn.Send("AUTHENTICATE " + base64.StdEncoding.EncodeToString([]byte(final)))
		return nil
	}
	if err := d.scram.verifyServerFinal(string(decoded)); err != nil {
		d.Conn.Send("AUTHENTICATE *")
		return nil
	}
	d.Conn.Send("AUTHENTICATE +")
	return nil
}

// resolveSource maps a wire prefix to a UID, spawning a virtual client
// (PUID) for any nick we haven't seen yet.
func (d *Driver) resolveSource(msg *irc.Message) string {
	if msg.Prefix == nil || msg.Prefix.Name == "" {
		return d.uplinkName
	}
	if msg.Prefix.User == "" && strings.Contains(msg.Prefix.Name, ".") {
		return d.uplinkName
	}
	nick := msg.Prefix.Name
	if uid, ok := d.nickUID[nick]; ok {
		return uid
	}
	uid := d.puidFor(nick)
	u := entity.NewUser(uid)
	u.Nick = nick
	u.Ident = msg.Prefix.User
	u.DisplayedHost = msg.Prefix.Host
	u.RealHost = msg.Prefix.Host
	u.Realname = fallbackRealname
	ts := entity.Now().Unix()
	u.SignonTS = ts
	u.NickTS = ts
	u.ServerID = d.uplinkName
	d.Network.AddUser(u)
	return uid
}

func (d *Driver) handle353(msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 4 {
		return nil
	}
	channel := msg.Params[2]
	ch := d.Network.GetOrCreateChannel(channel, entity.Now().Unix())

	symToLevel := make(map[byte]entity.PrefixLevel, len(d.modeMap.PrefixSymbols))
	for lvl, sym := range d.modeMap.PrefixSymbols {
		symToLevel[sym] = lvl
	}

	var newUsers []string
	for _, tok := range strings.Fields(msg.Trailing()) {
		i := 0
		for i < len(tok) {
			if _, ok := symToLevel[tok[i]]; !ok {
				break
			}
			i++
		}
		prefixSyms, nick := tok[:i], tok[i:]
		uid := d.puidFor(nick)
		if _, ok := d.Network.GetUser(uid); !ok {
			u := entity.NewUser(uid)
			u.Nick = nick
			u.Realname = fallbackRealname
			ts := entity.Now().Unix()
			u.SignonTS, u.NickTS = ts, ts
			u.ServerID = d.uplinkName
			d.Network.AddUser(u)
		}
		if !ch.HasMember(uid) {
			newUsers = append(newUsers, uid)
		}
		d.Network.Join(channel, ch.TS, uid)
		for _, s := range []byte(prefixSyms) {
			if lvl, ok := symToLevel[s]; ok {
				ch.SetPrefix(lvl, uid, true)
			}
		}
	}
	if len(newUsers) == 0 {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: d.uplinkName, Command: hooks.SJoin, Data: map[string]interface{}{"channel": channel, "users": newUsers}}}
}

// handle352 backfills ident/host/realname/away from RPL_WHOREPLY
// (there is no burst, so this is the only way
// to learn these fields for users we only saw through NAMES).
func (d *Driver) handle352(msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 7 {
		return nil
	}
	ident, host, nick, status := msg.Params[2], msg.Params[3], msg.Params[5], msg.Params[6]
	uid, ok := d.nickUID[nick]
	if !ok {
		return nil
	}
	u, ok := d.Network.GetUser(uid)
	if !ok {
		return nil
	}
	u.Ident = ident
	u.DisplayedHost = host
	u.RealHost = host
	if parts := strings.SplitN(msg.Trailing(), " ", 2); len(parts) == 2 {
		u.Realname = parts[1]
	}
	if len(status) > 0 {
		if status[0] == 'G' {
			u.Away = "Away"
		} else {
			u.Away = ""
		}
	}
	d.whoReceived[uid] = true
	return nil
}

func (d *Driver) handle315(msg *irc.Message) []hooks.Args {
	d.whoReceived = make(map[string]bool)
	return nil
}

func (d *Driver) handleJoin(sourceUID string, msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	channel := msg.Params[0]
	ts := entity.Now().Unix()
	if ch, ok := d.Network.GetChannel(channel); ok {
		ts = ch.TS
	}
	d.Network.Join(channel, ts, sourceUID)
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Join, Data: map[string]interface{}{"channel": channel}}}
}

func (d *Driver) handlePart(sourceUID string, msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	var events []hooks.Args
	for _, channel := range strings.Split(msg.Params[0], ",") {
		d.Network.Part(channel, sourceUID)
		events = append(events, hooks.Args{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Part, Data: map[string]interface{}{"channel": channel, "reason": msg.Trailing()}})
	}
	return events
}

func (d *Driver) handleTopic(sourceUID string, msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
	channel, text := msg.Params[0], msg.Trailing()
	oldTopic := ""
	if ch, ok := d.Network.GetChannel(channel); ok {
		oldTopic = ch.Topic
		ch.Topic = text
		ch.TopicWasSet = true
		ch.TopicSetTS = entity.Now().Unix()
	}
	if sourceUID == d.pseudoUID {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Topic, Data: map[string]interface{}{"channel": channel, "text": text, "oldtopic": oldTopic}}}
}

func (d *Driver) handleKick(sourceUID string, msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
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
	if sourceUID == d.uplinkName {
		return nil
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Kick, Data: map[string]interface{}{"channel": channel, "target": targetUID, "reason": msg.Trailing(), "prefixes": prefixes}}}
}

func (d *Driver) handleQuit(sourceUID string, msg *irc.Message) []hooks.Args {
	if msg.Prefix != nil {
		delete(d.nickUID, msg.Prefix.Name)
	}
	d.Network.RemoveUser(sourceUID)
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Quit, Data: map[string]interface{}{"reason": msg.Trailing()}}}
}

func (d *Driver) handleNick(sourceUID string, msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	u, ok := d.Network.GetUser(sourceUID)
	if !ok {
		return nil
	}
	oldNick := u.Nick
	newNick := msg.Params[0]
	u.Nick = newNick
	u.NickTS = entity.Now().Unix()
	delete(d.nickUID, oldNick)
	d.nickUID[newNick] = sourceUID
	if sourceUID == d.pseudoUID {
		d.nick = newNick
	}
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Nick, Data: map[string]interface{}{"oldnick": oldNick, "newnick": newNick}}}
}

func (d *Driver) handleMode(sourceUID string, msg *irc.Message) []hooks.Args {
	if len(msg.Params) < 2 {
		return nil
	}
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
		if sourceUID == d.pseudoUID {
			return nil
		}
		str, wireArgs := modes.JoinModes(changes, false)
		return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: hooks.Mode, Data: map[string]interface{}{"channel": target, "modes": str, "args": wireArgs, "changes": changes, "oldchannel": before}}}
	}
	return nil
}

func (d *Driver) handlePrivOrNotice(sourceUID string, msg *irc.Message, event string) []hooks.Args {
	if len(msg.Params) < 1 {
		return nil
	}
	target := msg.Params[0]
	return []hooks.Args{{Network: d.Cfg.Name, Source: sourceUID, Command: event, Data: map[string]interface{}{"target": target, "text": msg.Trailing()}}}
}

// -- outgoing API --
//
// Only d.pseudoUID ever corresponds to our actual wire connection; every
// other UID's Join/Part/Kick/etc are faked locally against
// entity.NetworkState without touching the wire.

func (d *Driver) SpawnClient(nick, ident, host, gecos, ip string, modesList []string, ts int64, onServer string) (string, error) {
	// onServer is accepted for interface parity but means nothing here: a
	// plain client connection cannot introduce users on other servers, so
	// every virtual user is bookkept against the uplink.
	_ = onServer
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
	u.ServerID = d.uplinkName
	for _, m := range modesList {
		u.SetSimpleMode(m, true)
	}
	d.Network.AddUser(u)
	return uid, nil
}

// SpawnServer is a no-op beyond local bookkeeping: Clientbot has exactly
// one uplink "server" (the network we're a client of), so relay
// subservers never get a real SERVER introduction here.
func (d *Driver) SpawnServer(sid, name, description string) error {
	srv := entity.NewServer(sid, name)
	srv.Internal = true
	d.Network.AddServer(srv)
	return nil
}

func (d *Driver) Join(uid, channel string, ts int64) error {
	d.Network.Join(channel, ts, uid)
	if uid == d.pseudoUID {
		d.Conn.Send("JOIN " + channel)
		d.Conn.Send("NAMES " + channel)
		d.Conn.Send("WHO " + channel)
	}
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
	if uid == d.pseudoUID {
		d.Conn.Send("PART " + channel + " :" + reason)
	}
	return nil
}

func (d *Driver) Quit(uid, reason string) error {
	nick := d.nickFor(uid)
	delete(d.nickUID, nick)
	d.Network.RemoveUser(uid)
	return nil
}

func (d *Driver) Kick(sourceUID, channel, targetUID, reason string) error {
	if _, ok := d.Network.GetUser(targetUID); !ok {
		return ircerr.New(ircerr.KindUnknownTarget, d.Cfg.Name, "Kick: "+targetUID)
	}
	if targetUID == d.pseudoUID {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "cannot kick our own pseudoclient")
	}
	d.Conn.Send("KICK " + channel + " " + d.nickFor(targetUID) + " :<" + d.nickFor(sourceUID) + "> " + reason)
	return nil
}

// Kill is a stub: a plain client connection has no server-level KILL
// privilege.
func (d *Driver) Kill(sourceUID, targetUID, reason string) error {
	return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "Kill: not supported over Clientbot")
}

func (d *Driver) Nick(uid, newNick string, ts int64) error {
	oldNick := d.nickFor(uid)
	if !d.Network.RenameUser(uid, newNick, ts) {
		return ircerr.New(ircerr.KindProtocol, d.Cfg.Name, "nick collision: "+newNick)
	}
	delete(d.nickUID, oldNick)
	d.nickUID[newNick] = uid
	if uid == d.pseudoUID {
		d.nick = newNick
		d.Conn.Send("NICK " + newNick)
	}
	return nil
}

func (d *Driver) Mode(sourceUID, target string, changes []modes.Change) error {
	if ch, ok := d.Network.GetChannel(target); ok {
		modes.ApplyChannelModes(d.modeMap, ch, changes)
	}
	if sourceUID != d.pseudoUID {
		return nil
	}
	str, args := modes.JoinModes(changes, true)
	line := "MODE " + target + " " + str
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	d.Conn.Send(line)
	return nil
}

// Topic is a stub: see the Kill comment above.
func (d *Driver) Topic(sourceUID, channel, text string, ts int64) error {
	return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "Topic: not supported over Clientbot")
}

func (d *Driver) Message(sourceUID, target, text string) error {
	if sourceUID != d.pseudoUID {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Message: only the pseudoclient can speak on Clientbot")
	}
	d.Conn.Send("PRIVMSG " + target + " :" + text)
	return nil
}

func (d *Driver) Notice(sourceUID, target, text string) error {
	if sourceUID != d.pseudoUID {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Notice: only the pseudoclient can speak on Clientbot")
	}
	d.Conn.Send("NOTICE " + target + " :" + text)
	return nil
}

func (d *Driver) Invite(sourceUID, targetUID, channel string) error {
	if sourceUID != d.pseudoUID {
		return ircerr.New(ircerr.KindInvalidSource, d.Cfg.Name, "Invite: only the pseudoclient can invite on Clientbot")
	}
	d.Conn.Send("INVITE " + d.nickFor(targetUID) + " " + channel)
	return nil
}

func (d *Driver) Knock(sourceUID, channel, text string) error {
	return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "Knock: not supported over Clientbot")
}

func (d *Driver) Numeric(targetUID string, numeric int, params []string) error {
	return ircerr.New(ircerr.KindNotImplemented, d.Cfg.Name, "Numeric: not supported over Clientbot")
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
	}
	return nil
}

func (d *Driver) Away(uid, text string) error {
	if u, ok := d.Network.GetUser(uid); ok {
		u.Away = text
	}
	if uid == d.pseudoUID {
		if text == "" {
			d.Conn.Send("AWAY")
		} else {
			d.Conn.Send("AWAY :" + text)
		}
	}
	return nil
}

func (d *Driver) Ping() error {
	d.Conn.Send("PING :" + d.nick)
	return nil
}

// SJoin fakes joining a batch of relay clones to a channel locally; only
// the pseudoclient's own membership is ever sent over the wire (via
// Join).
func (d *Driver) SJoin(channel string, ts int64, changes []modes.Change, members []string) error {
	ch := d.Network.GetOrCreateChannel(channel, ts)
	modes.ApplyChannelModes(d.modeMap, ch, changes)
	for _, uid := range members {
		d.Network.Join(channel, ts, uid)
		if uid == d.pseudoUID {
			d.Conn.Send("JOIN " + channel)
		}
	}
	return nil
}

// Squit sends nothing on the wire: it only removes the server and its
// users from local state.
func (d *Driver) Squit(sid, reason string) error {
	d.Network.RemoveServerCascade(sid)
	return nil
}
