package relay

import (
	"strings"
	"sync"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/logx"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/base"
	"github.com/ircrelay/relayd/internal/security"
)

// whitelistedCmodes are the only channel modes relayed between networks;
// anything else is too IRCd-specific to forward.
var whitelistedCmodes = map[byte]struct{}{
	'n': {}, 't': {}, 'm': {}, 's': {}, 'i': {}, 'k': {}, 'l': {},
	'b': {}, 'e': {}, 'I': {},
}

// Manager ties together the link DB, clone bookkeeping and per-network
// driver handles, and is the single hooks.Bus subscriber that implements
// relaying, CLAIM enforcement and netsplit/collision handling: a
// mutex-guarded, name-keyed registry of networks with the routing methods
// hanging off it.
type Manager struct {
	mu       sync.RWMutex
	DB       *DB
	cfg      *config.Config
	log      *logx.Logger
	networks map[string]*NetworkHandle

	relayUsers   map[CloneKey]map[string]string
	relayServers map[string]map[string]string
}

// New constructs a relay manager bound to db and cfg.
func New(db *DB, cfg *config.Config, log *logx.Logger) *Manager {
	return &Manager{
		DB:           db,
		cfg:          cfg,
		log:          log,
		networks:     make(map[string]*NetworkHandle),
		relayUsers:   make(map[CloneKey]map[string]string),
		relayServers: make(map[string]map[string]string),
	}
}

// RegisterNetwork records a connected network's driver/state/config so the
// manager can relay to and from it. Call once per (re)connection.
func (m *Manager) RegisterNetwork(name string, d base.Driver, st *entity.NetworkState, ncfg *config.Network, mm *modes.ModeMap) *NetworkHandle {
	nh := newNetworkHandle(name, d, st, ncfg, mm)
	m.mu.Lock()
	m.networks[name] = nh
	m.mu.Unlock()
	return nh
}

// UnregisterNetwork drops a network's handle, e.g. after a clean
// disconnect where netmgr will build a fresh Driver on reconnect.
func (m *Manager) UnregisterNetwork(name string) {
	m.mu.Lock()
	delete(m.networks, name)
	m.mu.Unlock()
}

func (m *Manager) network(name string) (*NetworkHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nh, ok := m.networks[name]
	return nh, ok
}

// Attach registers the manager's hook handlers on bus. A single Manager is
// normally attached to the one process-wide Bus.
func (m *Manager) Attach(bus *hooks.Bus) {
	bus.Register(hooks.Join, 50, "relay", m.onJoin)
	bus.Register(hooks.SJoin, 50, "relay", m.onSJoin)
	bus.Register(hooks.Part, 50, "relay", m.onPart)
	bus.Register(hooks.Quit, 50, "relay", m.onQuit)
	bus.Register(hooks.Kill, 50, "relay", m.onKill)
	bus.Register(hooks.Kick, 50, "relay", m.onKick)
	bus.Register(hooks.Mode, 50, "relay", m.onMode)
	bus.Register(hooks.Nick, 50, "relay", m.onNick)
	bus.Register(hooks.Away, 50, "relay", m.onAway)
	bus.Register(hooks.ChgHost, 50, "relay", m.onClientUpdate)
	bus.Register(hooks.ChgIdent, 50, "relay", m.onClientUpdate)
	bus.Register(hooks.ChgName, 50, "relay", m.onClientUpdate)
	bus.Register(hooks.Topic, 50, "relay", m.onTopic)
	bus.Register(hooks.PrivMsg, 50, "relay", m.onText)
	bus.Register(hooks.Notice, 50, "relay", m.onText)
	bus.Register(hooks.Squit, 50, "relay", m.onSquit)
	bus.Register(hooks.Save, 50, "relay", m.onSave)
	bus.Register(hooks.Disconnect, 50, "relay", m.onDisconnect)
}

// leavesExcept returns every (network, channel) relayed alongside (homeNet,
// homeChan), including the home leaf itself, except the one matching
// exceptNet/exceptChan (normally the event's origin, so it isn't echoed
// back to itself).
func (m *Manager) leavesExcept(homeNet, homeChan, exceptNet, exceptChan string) []LinkKey {
	entry, _ := m.DB.Entry(homeNet, homeChan)
	all := append([]LinkKey{{Network: homeNet, Channel: homeChan}}, m.DB.LeavesOf(homeNet, homeChan)...)
	out := all[:0]
	for _, l := range all {
		if l.Network == exceptNet && l.Channel == exceptChan {
			continue
		}
		if entry != nil && isBlocked(entry.BlockedNets, l.Network) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func isBlocked(blocked []string, network string) bool {
	for _, n := range blocked {
		if n == network {
			return true
		}
	}
	return false
}

func (m *Manager) onJoin(args hooks.Args) bool {
	channel := args.Get("channel")
	ts := int64(0)
	if v, ok := args.Data["ts"].(int64); ok {
		ts = v
	}
	home, homeChan, ok := m.DB.GetRelay(args.Network, channel)
	if !ok {
		return true
	}
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	user, ok := src.State.GetUser(args.Source)
	if !ok || user.Remote != nil {
		return true // never relay clones (loop prevention)
	}

	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, channel) {
		target, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		cloneUID, err := m.SpawnCloneIfNeeded(args.Network, user, target)
		if err != nil {
			if m.log != nil {
				m.log.Error("relay: clone spawn failed", "target", leaf.Network, "err", err)
			}
			continue
		}
		if err := target.Driver.Join(cloneUID, leaf.Channel, ts); err != nil {
			if m.log != nil {
				m.log.Error("relay: join relay failed", "target", leaf.Network, "err", err)
			}
			continue
		}
		// Carry over whatever status the user already holds on the source
		// channel (a late join relay after a netsplit, or a channel the
		// home IRCd opped on creation). Sourced from our server, the same
		// path CLAIM reverts use.
		if srcCh, ok := src.State.GetChannel(channel); ok {
			if changes := prefixChangesFor(target.ModeMap, srcCh.PrefixesOf(args.Source), cloneUID); len(changes) > 0 {
				_ = target.Driver.Mode(target.Cfg.SID, leaf.Channel, changes)
			}
		}
	}
	return true
}

// prefixChangesFor builds +prefix changes granting uid every level in
// levels that mm actually names; a level the target has no letter for
// (halfop on a network without +h) is dropped.
func prefixChangesFor(mm *modes.ModeMap, levels []entity.PrefixLevel, uid string) []modes.Change {
	var out []modes.Change
	for _, lvl := range levels {
		if letter, ok := prefixLetterForLevel(mm, lvl); ok {
			out = append(out, modes.Change{Add: true, Letter: letter, Arg: uid, IsPrefix: true, Level: lvl})
		}
	}
	return out
}

// onNick renormalizes every clone of a home user after that user changes
// nick, so each target network sees the rename under its own nick rules.
func (m *Manager) onNick(args hooks.Args) bool {
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	u, ok := src.State.GetUser(args.Source)
	if !ok || u.Remote != nil {
		return true
	}
	newNick := args.Get("newnick")
	if newNick == "" {
		return true
	}

	m.mu.RLock()
	byTarget := m.relayUsers[CloneKey{HomeNetwork: args.Network, HomeUID: args.Source}]
	targets := make(map[string]string, len(byTarget))
	for k, v := range byTarget {
		targets[k] = v
	}
	m.mu.RUnlock()

	for targetName, cloneUID := range targets {
		target, ok := m.network(targetName)
		if !ok {
			continue
		}
		rules := target.nickRules(args.Network, m.forceTag(args.Network, targetName, newNick))
		_ = target.Driver.Nick(cloneUID, NormalizeNick(args.Network, newNick, rules), entity.Now().Unix())
	}
	return true
}

// onAway mirrors a home user's away state onto its clones.
func (m *Manager) onAway(args hooks.Args) bool {
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	if u, ok := src.State.GetUser(args.Source); !ok || u.Remote != nil {
		return true
	}
	text := args.Get("text")

	m.mu.RLock()
	byTarget := m.relayUsers[CloneKey{HomeNetwork: args.Network, HomeUID: args.Source}]
	targets := make(map[string]string, len(byTarget))
	for k, v := range byTarget {
		targets[k] = v
	}
	m.mu.RUnlock()

	for targetName, cloneUID := range targets {
		if target, ok := m.network(targetName); ok {
			_ = target.Driver.Away(cloneUID, text)
		}
	}
	return true
}

// onClientUpdate mirrors a home user's host/ident/realname change onto
// its clones, renormalizing the host for each target's syntax.
func (m *Manager) onClientUpdate(args hooks.Args) bool {
	uid := args.Get("target")
	if uid == "" {
		uid = args.Source
	}
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	if u, ok := src.State.GetUser(uid); !ok || u.Remote != nil {
		return true
	}

	var field base.ClientField
	var value string
	switch args.Command {
	case hooks.ChgHost:
		field, value = base.FieldHost, NormalizeHost(args.Get("host"), true)
	case hooks.ChgIdent:
		field, value = base.FieldIdent, args.Get("ident")
	case hooks.ChgName:
		field, value = base.FieldGecos, args.Get("name")
	default:
		return true
	}
	if value == "" {
		return true
	}

	m.mu.RLock()
	byTarget := m.relayUsers[CloneKey{HomeNetwork: args.Network, HomeUID: uid}]
	targets := make(map[string]string, len(byTarget))
	for k, v := range byTarget {
		targets[k] = v
	}
	m.mu.RUnlock()

	for targetName, cloneUID := range targets {
		if target, ok := m.network(targetName); ok {
			_ = target.Driver.UpdateClient(cloneUID, field, value)
		}
	}
	return true
}

// onSJoin relays a channel burst (join relaying's multi-user
// path): every non-clone member present in the SJOIN gets a clone spawned
// on each linked network, and the batch is sent as a single SJoin call
// carrying whatever prefix modes the target's mode map also names (a lone
// member with no prefixes goes out as a plain Join). This is what repopulates a linked
// channel after a netsplit reconnect, since burst
// traffic arrives as SJOIN, never as individual JOINs.
func (m *Manager) onSJoin(args hooks.Args) bool {
	channel := args.Get("channel")
	home, homeChan, ok := m.DB.GetRelay(args.Network, channel)
	if !ok {
		return true
	}
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	ch, ok := src.State.GetChannel(channel)
	if !ok {
		return true
	}
	members, _ := args.Data["users"].([]string)

	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, channel) {
		target, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		var cloneUIDs []string
		var changes []modes.Change
		for _, uid := range members {
			user, ok := src.State.GetUser(uid)
			if !ok || user.Remote != nil {
				continue // never relay clones
			}
			cloneUID, err := m.SpawnCloneIfNeeded(args.Network, user, target)
			if err != nil {
				if m.log != nil {
					m.log.Error("relay: clone spawn failed", "target", leaf.Network, "err", err)
				}
				continue
			}
			cloneUIDs = append(cloneUIDs, cloneUID)
			for _, lvl := range ch.PrefixesOf(uid) {
				if letter, ok := prefixLetterForLevel(target.ModeMap, lvl); ok {
					changes = append(changes, modes.Change{Add: true, Letter: letter, Arg: cloneUID, IsPrefix: true, Level: lvl})
				}
			}
		}
		if len(cloneUIDs) == 0 {
			continue
		}
		if len(cloneUIDs) == 1 && len(changes) == 0 {
			if err := target.Driver.Join(cloneUIDs[0], leaf.Channel, ch.TS); err != nil && m.log != nil {
				m.log.Error("relay: join relay failed", "target", leaf.Network, "err", err)
			}
			continue
		}
		if err := target.Driver.SJoin(leaf.Channel, ch.TS, changes, cloneUIDs); err != nil && m.log != nil {
			m.log.Error("relay: sjoin relay failed", "target", leaf.Network, "err", err)
		}
	}
	return true
}

// prefixLetterForLevel finds the status letter mm uses for level — the
// name-based intersection between source and target mode maps. A level
// absent from the target (halfop on a network without +h) has no letter
// and is dropped.
func prefixLetterForLevel(mm *modes.ModeMap, level entity.PrefixLevel) (byte, bool) {
	if mm == nil {
		return 0, false
	}
	for letter, lvl := range mm.Prefixes {
		if lvl == level {
			return letter, true
		}
	}
	return 0, false
}

func (m *Manager) onPart(args hooks.Args) bool {
	channel := args.Get("channel")
	reason := args.Get("reason")
	home, homeChan, ok := m.DB.GetRelay(args.Network, channel)
	if !ok {
		return true
	}
	if src, ok := m.network(args.Network); ok {
		if u, ok := src.State.GetUser(args.Source); ok && u.Remote != nil {
			return true // never relay clones
		}
	}
	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, channel) {
		target, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		if cloneUID, ok := m.cloneUID(args.Network, args.Source, leaf.Network); ok {
			_ = target.Driver.Part(cloneUID, leaf.Channel, reason)
			m.QuitCloneIfNoSharedChannels(args.Network, args.Source, leaf.Network)
		}
	}
	return true
}

func (m *Manager) onQuit(args hooks.Args) bool {
	m.QuitClone(args.Network, args.Source, args.Get("reason"))
	return true
}

func (m *Manager) onKill(args hooks.Args) bool {
	victimUID := args.Get("target")
	if m.isKnownClone(args.Network, victimUID) {
		m.HandleCloneKilled(args.Network, victimUID)
		return true
	}
	m.QuitClone(args.Network, victimUID, args.Get("reason"))
	return true
}

// onKick enforces CLAIM before relaying a kick against a linked channel, per
// rejected kicks are reverted by rejoining the affected clone
// with its prior prefix modes.
func (m *Manager) onKick(args hooks.Args) bool {
	channel := args.Get("channel")
	targetUID := args.Get("target")
	reason := args.Get("reason")
	home, homeChan, ok := m.DB.GetRelay(args.Network, channel)
	if !ok {
		return true
	}
	entry, _ := m.DB.Entry(home, homeChan)

	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	ch, _ := src.State.GetChannel(channel)
	if !claimAllows(entry, args.Network, ch, args.Source, src.isOurs(args.Source)) {
		prefixes, _ := args.Data["prefixes"].([]entity.PrefixLevel)
		m.revertKick(src, channel, targetUID, prefixes)
		_ = src.Driver.Notice(src.Cfg.SID, args.Source,
			"This channel is claimed by "+home+"; your kick on "+channel+" was reverted.")
		return false
	}

	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, channel) {
		target, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		cloneUID, ok := m.remoteUIDFor(target, args.Network, targetUID)
		if !ok {
			continue
		}
		sourceClone, ok := m.cloneUID(args.Network, args.Source, leaf.Network)
		if !ok {
			sourceClone = cloneUID
		}
		_ = target.Driver.Kick(sourceClone, leaf.Channel, cloneUID, reason)
	}
	return true
}

// revertKick rejoins the kicked user/clone on src with whatever prefixes
// it held before the kick took effect (the driver snapshots them into the
// hook's Data before mutating state), restoring the status from our SID
// the same way CLAIM mode reverts are sourced.
func (m *Manager) revertKick(src *NetworkHandle, channel, uid string, prefixes []entity.PrefixLevel) {
	ts := entity.Now().Unix()
	if ch, ok := src.State.GetChannel(channel); ok {
		ts = ch.TS
	}
	if err := src.Driver.Join(uid, channel, ts); err != nil {
		return
	}
	if changes := prefixChangesFor(src.ModeMap, prefixes, uid); len(changes) > 0 {
		_ = src.Driver.Mode(src.Cfg.SID, channel, changes)
	}
}

func (m *Manager) onMode(args hooks.Args) bool {
	channel := args.Get("channel")
	if channel == "" {
		return true // user mode change, never relayed as-is
	}
	home, homeChan, ok := m.DB.GetRelay(args.Network, channel)
	if !ok {
		return true
	}
	entry, _ := m.DB.Entry(home, homeChan)
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	ch, _ := src.State.GetChannel(channel)

	changes, _ := args.Data["changes"].([]modes.Change)
	if !claimAllows(entry, args.Network, ch, args.Source, src.isOurs(args.Source)) {
		// The driver has already applied the change locally; reverse it
		// against the before-state snapshot it captured and push the undo
		// from our SID (Driver.Mode re-syncs local state itself).
		before, _ := args.Data["oldchannel"].(*entity.Channel)
		if before != nil && src.ModeMap != nil {
			reverted := modes.ReverseChannelModes(src.ModeMap, before, changes)
			if len(reverted) > 0 {
				_ = src.Driver.Mode(src.Cfg.SID, channel, reverted)
			}
		}
		return false
	}

	filtered := make([]modes.Change, 0, len(changes))
	for _, c := range changes {
		if c.IsPrefix {
			filtered = append(filtered, c)
			continue
		}
		if _, ok := whitelistedCmodes[c.Letter]; !ok {
			continue
		}
		// List-mode values that are not a plausible nick!user@host are
		// dropped rather than relayed.
		if src.ModeMap != nil && src.ModeMap.ChanModes[c.Letter] == modes.ClassA && !security.ValidHostmask(c.Arg) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return true
	}

	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, channel) {
		tnet, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		translated := m.translatePrefixTargets(tnet, args.Network, filtered)
		if len(translated) == 0 {
			continue
		}
		sourceClone, ok := m.cloneUID(args.Network, args.Source, leaf.Network)
		if !ok {
			sourceClone = tnet.Cfg.SID
		}
		_ = tnet.Driver.Mode(sourceClone, leaf.Channel, translated)
	}
	return true
}

// translatePrefixTargets rewrites prefix-mode change UIDs from their
// home-network identity to the corresponding clone UID on tnet, dropping
// changes whose target has no clone there.
func (m *Manager) translatePrefixTargets(tnet *NetworkHandle, homeNet string, changes []modes.Change) []modes.Change {
	out := make([]modes.Change, 0, len(changes))
	for _, c := range changes {
		if !c.IsPrefix {
			out = append(out, c)
			continue
		}
		if cloneUID, ok := m.cloneUID(homeNet, c.Arg, tnet.Name); ok {
			c.Arg = cloneUID
			out = append(out, c)
		}
	}
	return out
}

// remoteUIDFor resolves a UID seen on originNet to the identity it should
// be addressed by on target: itself if target==originNet's owner, else its
// clone on target (if any exists).
func (m *Manager) remoteUIDFor(target *NetworkHandle, originNet, uid string) (string, bool) {
	if target.Name == originNet {
		return uid, true
	}
	return m.cloneUID(originNet, uid, target.Name)
}

func (m *Manager) onTopic(args hooks.Args) bool {
	channel := args.Get("channel")
	text := args.Get("text")
	home, homeChan, ok := m.DB.GetRelay(args.Network, channel)
	if !ok {
		return true
	}
	entry, _ := m.DB.Entry(home, homeChan)
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	ch, _ := src.State.GetChannel(channel)
	if !claimAllows(entry, args.Network, ch, args.Source, src.isOurs(args.Source)) {
		// ch.Topic already holds the foreign change; restore the previous
		// text the driver snapshotted before mutating (Driver.Topic
		// re-syncs local state itself).
		old, _ := args.Data["oldtopic"].(string)
		_ = src.Driver.Topic(src.Cfg.SID, channel, old, entity.Now().Unix())
		return false
	}

	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, channel) {
		tnet, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		sourceClone, ok := m.cloneUID(args.Network, args.Source, leaf.Network)
		if !ok {
			continue
		}
		_ = tnet.Driver.Topic(sourceClone, leaf.Channel, text, entity.Now().Unix())
	}
	return true
}

// onText relays PRIVMSG/NOTICE to every linked leaf for channel targets,
// and enforces the shared-channel requirement for private messages.
func (m *Manager) onText(args hooks.Args) bool {
	statusPrefix, target := splitStatusPrefix(args.Get("target"))
	text := args.Get("text")
	if !isChannelName(target) {
		return m.relayPrivate(args)
	}

	home, homeChan, ok := m.DB.GetRelay(args.Network, target)
	if !ok {
		return true
	}
	send := sendFor(args.Command)

	for _, leaf := range m.leavesExcept(home, homeChan, args.Network, target) {
		tnet, ok := m.network(leaf.Network)
		if !ok {
			continue
		}
		out := text
		if tnet.Cfg.StripFormatting {
			out = security.StripControlCodes(out)
		}
		if cloneUID, ok := m.cloneUID(args.Network, args.Source, leaf.Network); ok {
			send(tnet.Driver, cloneUID, statusPrefix+leaf.Channel, out)
			continue
		}
		// No clone on this leaf (not a member there): fall back to the
		// relay subserver's main client, tagging the sender.
		tagged := "<" + m.senderNick(args.Network, args.Source) + "/" + args.Network + "> " + out
		if mainUID, ok := m.mainRelayClient(tnet, home); ok {
			send(tnet.Driver, mainUID, statusPrefix+leaf.Channel, tagged)
		}
	}
	return true
}

// splitStatusPrefix separates leading status sigils from a status-msg
// target ("@#chan" reaches only ops), so the channel can be resolved and
// the prefix re-applied on each leaf. A bare channel passes through
// untouched.
func splitStatusPrefix(target string) (prefix, channel string) {
	i := 0
	for i < len(target) && (target[i] == '@' || target[i] == '%' || target[i] == '+') && isChannelName(target[i+1:]) {
		i++
	}
	return target[:i], target[i:]
}

func sendFor(command string) func(d base.Driver, source, target, text string) {
	if command == hooks.Notice {
		return func(d base.Driver, source, target, text string) { _ = d.Notice(source, target, text) }
	}
	return func(d base.Driver, source, target, text string) { _ = d.Message(source, target, text) }
}

func isChannelName(s string) bool {
	return len(s) > 0 && (s[0] == '#' || s[0] == '&' || s[0] == '+')
}

func (m *Manager) senderNick(network, uid string) string {
	if nh, ok := m.network(network); ok {
		if u, ok := nh.State.GetUser(uid); ok {
			return u.Nick
		}
	}
	return uid
}

// mainRelayClient is the clone UID standing in for a home network's whole
// user set on a leaf when no specific clone applies: any clone the home
// network already has on that leaf, a simple convention that keeps this
// package free of a second spawn path just for one fallback identity.
func (m *Manager) mainRelayClient(target *NetworkHandle, homeNet string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, byTarget := range m.relayUsers {
		if key.HomeNetwork != homeNet {
			continue
		}
		if uid, ok := byTarget[target.Name]; ok {
			return uid, true
		}
	}
	return "", false
}

// relayPrivate implements the private-message shared-channel rule: a
// private message only relays to a target user if sender and target share
// a relayed channel; otherwise the sender is told why not.
func (m *Manager) relayPrivate(args hooks.Args) bool {
	targetNick := args.Get("target")
	src, ok := m.network(args.Network)
	if !ok {
		return true
	}
	// Resolve targetNick to a clone; its RemoteTag tells us the real home
	// network/UID to deliver to.
	var homeNet, homeUID string
	var homeFound bool
	if u, ok := src.State.GetUserByNick(targetNick); ok {
		m.mu.RLock()
		for key, byTarget := range m.relayUsers {
			if byTarget[args.Network] == u.UID {
				homeNet, homeUID, homeFound = key.HomeNetwork, key.HomeUID, true
				break
			}
		}
		m.mu.RUnlock()
	}
	if !homeFound {
		return true
	}
	if !m.shareRelayedChannel(args.Network, args.Source, homeNet, homeUID) {
		_ = src.Driver.Notice(src.Cfg.SID, args.Source, "You must share a relayed channel with "+targetNick+" to message them.")
		return false
	}
	if home, ok := m.network(homeNet); ok {
		text := args.Get("text")
		send := sendFor(args.Command)
		send(home.Driver, homeUID, homeUID, text)
	}
	return true
}

func (m *Manager) shareRelayedChannel(netA, uidA, netB, uidB string) bool {
	a, ok := m.network(netA)
	if !ok {
		return false
	}
	b, ok := m.network(netB)
	if !ok {
		return false
	}
	ua, ok := a.State.GetUser(uidA)
	if !ok {
		return false
	}
	ub, ok := b.State.GetUser(uidB)
	if !ok {
		return false
	}
	for chA := range ua.Channels {
		home, homeChan, ok := m.DB.GetRelay(netA, chA)
		if !ok {
			continue
		}
		for chB := range ub.Channels {
			h2, hc2, ok := m.DB.GetRelay(netB, chB)
			if ok && h2 == home && hc2 == homeChan {
				return true
			}
		}
	}
	return false
}

// onSquit purges clones routed through a relay subserver
// netsplit handling).
func (m *Manager) onSquit(args hooks.Args) bool {
	sid := args.Get("sid")
	target, ok := m.network(args.Network)
	if !ok {
		return true
	}
	m.mu.Lock()
	for homeNet, subSID := range m.relayServers[target.Name] {
		if subSID == sid {
			delete(m.relayServers[target.Name], homeNet)
			for key, byTarget := range m.relayUsers {
				if key.HomeNetwork == homeNet {
					delete(byTarget, target.Name)
				}
			}
		}
	}
	m.mu.Unlock()
	return true
}

// onSave forces renormalization of a clone's nick (times_tagged=1) or
// relays a plain nick change for a real user.
func (m *Manager) onSave(args hooks.Args) bool {
	target, ok := m.network(args.Network)
	if !ok {
		return true
	}
	affectedUID := args.Get("target")
	u, ok := target.State.GetUser(affectedUID)
	if !ok {
		return true
	}
	if u.Remote == nil {
		return true // a plain NICK hook already covers real-user renames
	}
	// The driver has already forced the clone's nick to its UID; rebuild
	// from the home user's real nick, with tagging forced so the rename
	// can't collide the same way twice.
	nick := u.Nick
	if home, ok := m.network(u.Remote.Network); ok {
		if hu, ok := home.State.GetUser(u.Remote.UID); ok {
			nick = hu.Nick
		}
	}
	rules := target.nickRules(u.Remote.Network, true)
	newNick := NormalizeNick(u.Remote.Network, nick, rules)
	_ = target.Driver.Nick(affectedUID, newNick, entity.Now().Unix())
	return true
}

// onDisconnect announces a home network's loss to every leaf channel it
// homes, via each leaf's main relay client.
func (m *Manager) onDisconnect(args hooks.Args) bool {
	if m.cfg == nil || m.cfg.DisconnectAnnounce == "" {
		return true
	}
	// A failed connection attempt that never finished its burst is not a
	// netsplit worth announcing.
	if successful, ok := args.Data["was_successful"].(bool); ok && !successful {
		return true
	}
	msg := strings.ReplaceAll(m.cfg.DisconnectAnnounce, "$network", args.Network)
	for _, entry := range m.DB.HomesWithNetwork(args.Network) {
		for _, leaf := range entry.Links {
			tnet, ok := m.network(leaf.Network)
			if !ok {
				continue
			}
			if mainUID, ok := m.mainRelayClient(tnet, args.Network); ok {
				_ = tnet.Driver.Notice(mainUID, leaf.Channel, msg)
			}
		}
	}
	m.purgeNetwork(args.Network)
	return true
}

// purgeNetwork drops every piece of relay state touching a now-gone
// network: its users' clones quit on every other network, clones it was
// hosting are forgotten (its state is gone with the connection), and its
// subserver table is cleared. Reconnection rebuilds all of it from the
// fresh burst.
func (m *Manager) purgeNetwork(name string) {
	type doomed struct {
		target string
		uid    string
	}
	type doomedServer struct {
		target string
		sid    string
	}
	var quits []doomed
	var squits []doomedServer

	m.mu.Lock()
	for key, byTarget := range m.relayUsers {
		if key.HomeNetwork == name {
			for targetName, uid := range byTarget {
				quits = append(quits, doomed{target: targetName, uid: uid})
			}
			delete(m.relayUsers, key)
			continue
		}
		delete(byTarget, name)
		if len(byTarget) == 0 {
			delete(m.relayUsers, key)
		}
	}
	delete(m.relayServers, name)
	for targetName, byHome := range m.relayServers {
		if sid, ok := byHome[name]; ok {
			squits = append(squits, doomedServer{target: targetName, sid: sid})
			delete(byHome, name)
		}
	}
	m.mu.Unlock()

	// Bringing the subserver down takes its clones with it; the per-clone
	// quits below only cover clones a SQUIT cascade didn't already reap.
	for _, s := range squits {
		if target, ok := m.network(s.target); ok {
			_ = target.Driver.Squit(s.sid, name+" disconnected")
		}
	}
	for _, q := range quits {
		target, ok := m.network(q.target)
		if !ok {
			continue
		}
		if _, still := target.State.GetUser(q.uid); still {
			_ = target.Driver.Quit(q.uid, "*.net *.split")
		}
	}
}

// isOurs reports whether uid is a client or server we introduced locally on
// this network (the final CLAIM accept condition).
func (nh *NetworkHandle) isOurs(uid string) bool {
	if u, ok := nh.State.GetUser(uid); ok {
		if srv, ok := nh.State.GetServer(u.ServerID); ok {
			return srv.Internal
		}
	}
	if srv, ok := nh.State.GetServer(uid); ok {
		return srv.Internal
	}
	return false
}
