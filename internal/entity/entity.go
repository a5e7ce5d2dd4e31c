// Package entity implements the core state records: User, Server,
// Channel, and the per-connection NetworkState that indexes them. No
// entity ever stores a pointer to another entity, only IDs resolved
// through NetworkState's maps, which is what makes removal a local map
// operation instead of a graph walk.
package entity

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ModeValue is a (mode letter, argument) pair. Argument is empty for modes
// that never take one.
type ModeValue struct {
	Mode string
	Arg  string
}

// PrefixLevel ranks channel status modes from lowest to highest.
type PrefixLevel int

const (
	PrefixNone PrefixLevel = iota
	PrefixVoice
	PrefixHalfop
	PrefixOp
	PrefixAdmin
	PrefixOwner
)

var prefixOrder = []PrefixLevel{PrefixOwner, PrefixAdmin, PrefixOp, PrefixHalfop, PrefixVoice}

func (p PrefixLevel) String() string {
	switch p {
	case PrefixOwner:
		return "owner"
	case PrefixAdmin:
		return "admin"
	case PrefixOp:
		return "op"
	case PrefixHalfop:
		return "halfop"
	case PrefixVoice:
		return "voice"
	default:
		return "none"
	}
}

// RemoteTag identifies a relay clone's origin.
type RemoteTag struct {
	Network string
	UID     string
}

// User is a per-network user record, keyed by UID.
type User struct {
	mu sync.RWMutex

	UID            string
	Nick           string
	Ident          string
	DisplayedHost  string
	RealHost       string
	IP             string
	Realname       string
	SignonTS       int64
	NickTS         int64
	ServerID       string // owning server's SID
	Modes          map[ModeValue]struct{}
	Channels       map[string]struct{}
	Away           string
	OperType       string
	ServicesLogin  string
	Manipulatable  bool
	Remote         *RemoteTag // non-nil => this is a relay clone
	Service        string    // non-empty => this is a service bot UID
}

// NewUser constructs an empty User record for uid.
func NewUser(uid string) *User {
	return &User{
		UID:      uid,
		Modes:    make(map[ModeValue]struct{}),
		Channels: make(map[string]struct{}),
	}
}

// HasMode reports whether mode is set on the user, with any argument.
func (u *User) HasMode(mode string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for mv := range u.Modes {
		if mv.Mode == mode {
			return true
		}
	}
	return false
}

// SetSimpleMode adds or removes an argumentless mode.
func (u *User) SetSimpleMode(mode string, on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := ModeValue{Mode: mode}
	if on {
		u.Modes[key] = struct{}{}
	} else {
		delete(u.Modes, key)
	}
}

// ModeString renders the user's modes as "+abc".
func (u *User) ModeString() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if len(u.Modes) == 0 {
		return ""
	}
	letters := make([]string, 0, len(u.Modes))
	for mv := range u.Modes {
		letters = append(letters, mv.Mode)
	}
	sort.Strings(letters)
	return "+" + strings.Join(letters, "")
}

// Hostmask renders nick!ident@displayedhost.
func (u *User) Hostmask() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.Nick + "!" + u.Ident + "@" + u.DisplayedHost
}

// Server is a per-network server record, keyed by SID.
type Server struct {
	mu sync.RWMutex

	SID         string
	UplinkSID   string // empty for the root (our own server)
	Name        string
	Description string
	HopCount    int
	UIDs        map[string]struct{}
	Internal    bool   // true if this is ours (we introduced it)
	Remote      string // non-empty => relay subserver, value = origin network
	EndOfBurst  bool
}

// NewServer constructs an empty Server record.
func NewServer(sid, name string) *Server {
	return &Server{
		SID:  sid,
		Name: name,
		UIDs: make(map[string]struct{}),
	}
}

func (s *Server) AddUID(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UIDs[uid] = struct{}{}
}

func (s *Server) RemoveUID(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.UIDs, uid)
}

func (s *Server) UIDList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.UIDs))
	for u := range s.UIDs {
		out = append(out, u)
	}
	return out
}

// Channel is a casemapped-name-keyed channel record.
type Channel struct {
	mu sync.RWMutex

	Name         string
	TS           int64
	Members      map[string]struct{}           // UID set
	Modes        map[ModeValue]struct{}        // non-prefix modes only
	Prefixes     map[PrefixLevel]map[string]struct{} // level -> UID set
	Topic        string
	TopicSetTS   int64
	TopicWasSet  bool
}

// NewChannel constructs an empty channel with the given creation TS.
func NewChannel(name string, ts int64) *Channel {
	ch := &Channel{
		Name:     name,
		TS:       ts,
		Members:  make(map[string]struct{}),
		Modes:    make(map[ModeValue]struct{}),
		Prefixes: make(map[PrefixLevel]map[string]struct{}),
	}
	for _, lvl := range prefixOrder {
		ch.Prefixes[lvl] = make(map[string]struct{})
	}
	return ch
}

// ClearPrefixes drops every status grant while keeping membership, used
// when a lower-TS burst overrides local channel state.
func (c *Channel) ClearPrefixes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for lvl := range c.Prefixes {
		c.Prefixes[lvl] = make(map[string]struct{})
	}
}

// AddMember adds uid to the channel's member set. Callers are responsible
// for the symmetric User.Channels update (NetworkState.Join does both).
func (c *Channel) AddMember(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Members[uid] = struct{}{}
}

// RemoveMember removes uid from membership and every prefix level.
func (c *Channel) RemoveMember(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Members, uid)
	for _, set := range c.Prefixes {
		delete(set, uid)
	}
}

func (c *Channel) HasMember(uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.Members[uid]
	return ok
}

// MembersSnapshot returns a copy of the member UID set, safe to range over
// from another network's goroutine (cross-network code snapshots
// collections before iterating).
func (c *Channel) MembersSnapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.Members))
	for uid := range c.Members {
		out = append(out, uid)
	}
	return out
}

// SetPrefix adds or removes uid at the given prefix level. Setting a
// prefix implies channel membership; callers must have
// already added membership (ApplyModes enforces this via parse_modes
// rejecting unknown/not-on-channel targets).
func (c *Channel) SetPrefix(level PrefixLevel, uid string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Prefixes[level]; !ok {
		c.Prefixes[level] = make(map[string]struct{})
	}
	if on {
		c.Prefixes[level][uid] = struct{}{}
	} else {
		delete(c.Prefixes[level], uid)
	}
}

// HasPrefix reports whether uid holds the exact level (not "at least").
func (c *Channel) HasPrefix(level PrefixLevel, uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.Prefixes[level][uid]
	return ok
}

// PrefixesOf returns the ranked list of prefix levels uid holds, highest
// first (owner > admin > op > halfop > voice).
func (c *Channel) PrefixesOf(uid string) []PrefixLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []PrefixLevel
	for _, lvl := range prefixOrder {
		if _, ok := c.Prefixes[lvl][uid]; ok {
			out = append(out, lvl)
		}
	}
	return out
}

// HighestPrefix returns the best status uid holds, or PrefixNone.
func (c *Channel) HighestPrefix(uid string) PrefixLevel {
	levels := c.PrefixesOf(uid)
	if len(levels) == 0 {
		return PrefixNone
	}
	return levels[0]
}

// AtLeast reports whether uid's highest status is >= level.
func (c *Channel) AtLeast(uid string, level PrefixLevel) bool {
	return c.HighestPrefix(uid) >= level
}

// Clone deep-copies the channel for before-state capture prior to mode
// processing.
func (c *Channel) Clone() *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := NewChannel(c.Name, c.TS)
	for uid := range c.Members {
		out.Members[uid] = struct{}{}
	}
	for mv := range c.Modes {
		out.Modes[mv] = struct{}{}
	}
	for lvl, set := range c.Prefixes {
		cp := make(map[string]struct{}, len(set))
		for uid := range set {
			cp[uid] = struct{}{}
		}
		out.Prefixes[lvl] = cp
	}
	out.Topic = c.Topic
	out.TopicSetTS = c.TopicSetTS
	out.TopicWasSet = c.TopicWasSet
	return out
}

// NetworkState is one connection's view of its network: one user index,
// one server index, one channel index, casemapped lookups, scoped to a
// single netmgr.Network connection. Named NetworkState (not Network) to
// avoid colliding with the config/relay notion of a network name string.
type NetworkState struct {
	mu sync.RWMutex

	LocalSID  string
	Users     map[string]*User    // UID -> User
	Servers   map[string]*Server  // SID -> Server
	Channels  map[string]*Channel // casemapped name -> Channel
	nickIndex map[string]string   // casemapped nick -> UID
}

// NewNetworkState creates an empty state for a network whose local server
// id is localSID.
func NewNetworkState(localSID string) *NetworkState {
	return &NetworkState{
		LocalSID:  localSID,
		Users:     make(map[string]*User),
		Servers:   make(map[string]*Server),
		Channels:  make(map[string]*Channel),
		nickIndex: make(map[string]string),
	}
}

// Casefold lowercases per the RFC 1459 casemapping used by TS6-derived
// IRCds ({}|^ map to []\~).
func Casefold(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '{':
			r = '['
		case '}':
			r = ']'
		case '|':
			r = '\\'
		case '^':
			r = '~'
		default:
			if r >= 'A' && r <= 'Z' {
				r = r - 'A' + 'a'
			}
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// AddUser registers a new user, indexed by UID and nick.
func (n *NetworkState) AddUser(u *User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Users[u.UID] = u
	n.nickIndex[Casefold(u.Nick)] = u.UID
}

// RemoveUser deletes a user and removes it from every channel it was in,
// maintaining symmetric membership.
func (n *NetworkState) RemoveUser(uid string) {
	n.mu.Lock()
	u, ok := n.Users[uid]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.Users, uid)
	delete(n.nickIndex, Casefold(u.Nick))
	if srv, ok := n.Servers[u.ServerID]; ok {
		srv.RemoveUID(uid)
	}
	var chans []string
	u.mu.RLock()
	for ch := range u.Channels {
		chans = append(chans, ch)
	}
	u.mu.RUnlock()
	n.mu.Unlock()

	for _, ch := range chans {
		if c, ok := n.GetChannel(ch); ok {
			c.RemoveMember(uid)
			if c.MemberCount() == 0 {
				n.RemoveChannelIfEmpty(ch)
			}
		}
	}
}

// RenameUser updates the nick index when a user changes nick, bumping
// NickTS. Returns false if the new nick collides with a different UID.
func (n *NetworkState) RenameUser(uid, newNick string, ts int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	u, ok := n.Users[uid]
	if !ok {
		return false
	}
	folded := Casefold(newNick)
	if existing, exists := n.nickIndex[folded]; exists && existing != uid {
		return false
	}
	u.mu.Lock()
	delete(n.nickIndex, Casefold(u.Nick))
	u.Nick = newNick
	u.NickTS = ts
	u.mu.Unlock()
	n.nickIndex[folded] = uid
	return true
}

// GetUser looks up a user by UID.
func (n *NetworkState) GetUser(uid string) (*User, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	u, ok := n.Users[uid]
	return u, ok
}

// GetUserByNick resolves a nick (any case) to its current UID and record.
func (n *NetworkState) GetUserByNick(nick string) (*User, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	uid, ok := n.nickIndex[Casefold(nick)]
	if !ok {
		return nil, false
	}
	u, ok := n.Users[uid]
	return u, ok
}

// UsersSnapshot returns a copy of all known users, safe for cross-network
// iteration.
func (n *NetworkState) UsersSnapshot() []*User {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*User, 0, len(n.Users))
	for _, u := range n.Users {
		out = append(out, u)
	}
	return out
}

// AddServer registers a server (root server has UplinkSID == "").
func (n *NetworkState) AddServer(s *Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Servers[s.SID] = s
}

// GetServer looks up a server by SID.
func (n *NetworkState) GetServer(sid string) (*Server, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.Servers[sid]
	return s, ok
}

// ServersSnapshot returns a copy of every known server, safe to range over
// from another network's goroutine.
func (n *NetworkState) ServersSnapshot() []*Server {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Server, 0, len(n.Servers))
	for _, s := range n.Servers {
		out = append(out, s)
	}
	return out
}

// GetServerByName looks up a server by its display name — used by drivers
// whose SQUIT/RSQUIT-equivalent wire commands carry a name rather than a
// SID (InspIRCd's RSQUIT, ngIRCd's name-keyed servers).
func (n *NetworkState) GetServerByName(name string) (*Server, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// RemoveServerCascade removes sid and recursively removes every server
// whose UplinkSID is (transitively) sid, plus all of their users — SQUIT
// semantics. Returns the UIDs that were
// destroyed so callers can synthesize QUIT hooks for them.
func (n *NetworkState) RemoveServerCascade(sid string) []string {
	n.mu.Lock()
	children := make([]string, 0)
	for childSID, srv := range n.Servers {
		if srv.UplinkSID == sid {
			children = append(children, childSID)
		}
	}
	var doomedUsers []string
	if srv, ok := n.Servers[sid]; ok {
		doomedUsers = append(doomedUsers, srv.UIDList()...)
	}
	delete(n.Servers, sid)
	n.mu.Unlock()

	for _, uid := range doomedUsers {
		n.RemoveUser(uid)
	}
	for _, child := range children {
		doomedUsers = append(doomedUsers, n.RemoveServerCascade(child)...)
	}
	return doomedUsers
}

// AddChannel registers a channel under its casemapped name.
func (n *NetworkState) AddChannel(c *Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Channels[Casefold(c.Name)] = c
}

// GetChannel looks up a channel by any case variant of its name; the
// casemapped key keeps lookups stable across case differences.
func (n *NetworkState) GetChannel(name string) (*Channel, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.Channels[Casefold(name)]
	return c, ok
}

// GetOrCreateChannel fetches name's channel, lazily creating it at ts if
// absent (channels are created lazily on first join/SJOIN/burst).
func (n *NetworkState) GetOrCreateChannel(name string, ts int64) *Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := Casefold(name)
	if c, ok := n.Channels[key]; ok {
		return c
	}
	c := NewChannel(name, ts)
	n.Channels[key] = c
	return c
}

// RemoveChannelIfEmpty deletes a channel once its last member has left.
func (n *NetworkState) RemoveChannelIfEmpty(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := Casefold(name)
	if c, ok := n.Channels[key]; ok && c.MemberCount() == 0 {
		delete(n.Channels, key)
	}
}

// MemberCount reports the channel's member count.
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Members)
}

// Join adds uid to channel name (creating it at ts if new) and updates the
// user's own Channels set symmetrically.
func (n *NetworkState) Join(name string, ts int64, uid string) *Channel {
	ch := n.GetOrCreateChannel(name, ts)
	ch.AddMember(uid)
	if u, ok := n.GetUser(uid); ok {
		u.mu.Lock()
		u.Channels[Casefold(name)] = struct{}{}
		u.mu.Unlock()
	}
	return ch
}

// Part removes uid from channel name symmetrically, removing the channel
// if it becomes empty.
func (n *NetworkState) Part(name string, uid string) {
	ch, ok := n.GetChannel(name)
	if !ok {
		return
	}
	ch.RemoveMember(uid)
	if u, ok := n.GetUser(uid); ok {
		u.mu.Lock()
		delete(u.Channels, Casefold(name))
		u.mu.Unlock()
	}
	n.RemoveChannelIfEmpty(name)
}

// Now is the injection point for "current time" so tests can be
// deterministic; production code leaves it as time.Now.
var Now = time.Now
