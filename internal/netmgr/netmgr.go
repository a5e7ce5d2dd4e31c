// Package netmgr owns the per-network connection lifecycle: dialling an
// uplink, running its handshake, pumping wire lines into a protocol
// driver, scheduling pings, reconnecting with backoff, and wiring each
// network's driver into the shared relay.Manager as it comes up and
// down.
package netmgr

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/ircconn"
	"github.com/ircrelay/relayd/internal/logx"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/base"
	"github.com/ircrelay/relayd/internal/protocols/clientbot"
	"github.com/ircrelay/relayd/internal/protocols/hybrid"
	"github.com/ircrelay/relayd/internal/protocols/inspircd"
	"github.com/ircrelay/relayd/internal/protocols/ngircd"
	"github.com/ircrelay/relayd/internal/protocols/p10"
	"github.com/ircrelay/relayd/internal/protocols/ts6"
	"github.com/ircrelay/relayd/internal/protocols/unreal"
	"github.com/ircrelay/relayd/internal/relay"
	"github.com/ircrelay/relayd/internal/rfc1459"
	"github.com/ircrelay/relayd/internal/services"
)

// Status is a network's current connection state, surfaced for a future
// STATUS/LINKS-style admin command.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// Network is one configured network's live connection state.
type Network struct {
	Name string
	Cfg  *config.Network

	mu      sync.RWMutex
	driver  base.Driver
	state   *entity.NetworkState
	modeMap *modes.ModeMap
	conn    *ircconn.Conn
	status  Status
	cancel  context.CancelFunc
}

func (n *Network) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

func (n *Network) setStatus(s Status) {
	n.mu.Lock()
	n.status = s
	n.mu.Unlock()
}

// Driver returns the network's current protocol driver, or nil if it has
// never connected.
func (n *Network) Driver() base.Driver {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.driver
}

// Manager is the process-wide registry of configured networks,
// initialised once at startup and mutated only under its lock on rehash.
// One Manager drives every network's connection loop and keeps the shared
// relay.Manager's network set in sync with which networks are actually
// up.
type Manager struct {
	mu       sync.RWMutex
	cfg      *config.Config
	bus      *hooks.Bus
	relayMgr *relay.Manager
	svc      *services.Registry
	log      *logx.Logger
	networks map[string]*Network
}

// New constructs a Manager. bus and relayMgr are shared process-wide
// singletons; relay.Manager.Attach(bus) should already have been called by
// the caller before Start runs any network. svc may be nil if no service
// bots are configured.
func New(cfg *config.Config, bus *hooks.Bus, relayMgr *relay.Manager, svc *services.Registry, log *logx.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		bus:      bus,
		relayMgr: relayMgr,
		svc:      svc,
		log:      log,
		networks: make(map[string]*Network),
	}
	// ENDBURST is the only reliable signal that a connection attempt
	// actually reached registration (the "was this link ever up" flag,
	// checked again on DISCONNECT below); a network that never finishes
	// its burst never flips this, so a netsplit before ENDBURST is never
	// mistaken for one worth a "the whole network split" announcement.
	bus.Register(hooks.EndBurst, 10, "netmgr", func(args hooks.Args) bool {
		if n, ok := m.Network(args.Network); ok {
			n.mu.RLock()
			conn := n.conn
			n.mu.RUnlock()
			if conn != nil {
				conn.SawEndburst = true
			}
		}
		m.spawnServices(args.Network)
		return true
	})
	// Service bots are re-spawned on KILL or when a network reconnects;
	// reconnection is handled by the ENDBURST case above, this is the KILL
	// half.
	bus.Register(hooks.Kill, 60, "netmgr-services", func(args hooks.Args) bool {
		m.respawnServiceIfKilled(args.Network, args.Get("target"))
		return true
	})
	bus.Register(hooks.Disconnect, 60, "netmgr-services", func(args hooks.Args) bool {
		if m.svc != nil {
			m.svc.UnbindNetwork(args.Network)
		}
		return true
	})
	return m
}

// spawnServices introduces every registered service bot not already bound
// on name, and joins each its configured extra channels.
func (m *Manager) spawnServices(name string) {
	if m.svc == nil {
		return
	}
	n, ok := m.Network(name)
	if !ok {
		return
	}
	driver := n.Driver()
	if driver == nil {
		return
	}
	for _, bot := range m.svc.Bots() {
		if _, bound := m.svc.UIDFor(name, bot.Name); bound {
			continue
		}
		m.spawnOneService(name, driver, bot)
	}
}

func (m *Manager) spawnOneService(network string, driver base.Driver, bot services.Bot) {
	var modesList []string
	if body := strings.TrimPrefix(bot.Modes, "+"); body != "" {
		for _, c := range body {
			modesList = append(modesList, string(c))
		}
	}
	uid, err := driver.SpawnClient(bot.Name, bot.Ident, bot.Host, bot.Name+" service", "0.0.0.0", modesList, entity.Now().Unix(), "")
	if err != nil {
		if m.log != nil {
			m.log.Error("service bot spawn failed", "network", network, "bot", bot.Name, "err", err)
		}
		return
	}
	m.svc.BindUID(network, bot.Name, uid)
	for _, ch := range bot.ExtraChannels {
		if err := driver.Join(uid, ch, entity.Now().Unix()); err != nil && m.log != nil {
			m.log.Error("service bot join failed", "network", network, "bot", bot.Name, "channel", ch, "err", err)
		}
	}
}

// respawnServiceIfKilled re-introduces a service bot that was just killed
// externally, rebinding its registry entry to the fresh UID.
func (m *Manager) respawnServiceIfKilled(network, victimUID string) {
	if m.svc == nil || victimUID == "" {
		return
	}
	botName := m.svc.BotForUID(network, victimUID)
	if botName == "" {
		return
	}
	bot, ok := m.svc.Lookup(botName)
	if !ok {
		return
	}
	n, ok := m.Network(network)
	if !ok {
		return
	}
	driver := n.Driver()
	if driver == nil {
		return
	}
	m.spawnOneService(network, driver, bot)
}

// Network looks up a registered network by name (diagnostics, admin
// commands).
func (m *Manager) Network(name string) (*Network, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.networks[name]
	return n, ok
}

// Networks returns every registered network, in no particular order.
func (m *Manager) Networks() []*Network {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Network, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, n)
	}
	return out
}

// Start launches a connection loop for every network in cfg with a
// non-negative autoconnect interval, returning once all loops have been
// spawned (it does not wait for them to finish connecting).
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	for i := range m.cfg.Networks {
		netcfg := &m.cfg.Networks[i]
		n := &Network{Name: netcfg.Name, Cfg: netcfg, status: StatusDisconnected}
		m.networks[netcfg.Name] = n
		m.mu.Unlock()
		if netcfg.AutoConnect >= 0 {
			m.spawn(ctx, n)
		}
		m.mu.Lock()
	}
	m.mu.Unlock()
}

func (m *Manager) spawn(ctx context.Context, n *Network) {
	runCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()
	go ircconn.Reconnector(runCtx, m.log, func(ctx context.Context) error {
		return m.runOnce(ctx, n)
	})
}

// newDriver builds the protocol driver, network state and mode map for
// netcfg.Protocol. Each case is constructed directly rather than through a
// common factory interface because every protocol package's New returns its
// own concrete type (needed so netmgr can reach the embedded
// entity.NetworkState the relay manager requires) while still satisfying
// base.Driver.
func newDriver(netcfg *config.Network, bus *hooks.Bus) (base.Driver, *entity.NetworkState, *modes.ModeMap, error) {
	switch netcfg.Protocol {
	case config.ProtocolTS6, "":
		mm := modes.NewTS6ModeMap()
		d := ts6.New(netcfg, bus, nil, mm)
		return d, d.Network, mm, nil
	case config.ProtocolHybrid:
		mm := modes.NewTS6ModeMap()
		d := hybrid.New(netcfg, bus, mm)
		return d, d.Network, mm, nil
	case config.ProtocolUnreal:
		d := unreal.New(netcfg, bus)
		return d, d.Network, d.ModeMap(), nil
	case config.ProtocolInspIRCd:
		d := inspircd.New(netcfg, bus)
		return d, d.Network, d.ModeMap(), nil
	case config.ProtocolP10:
		d := p10.New(netcfg, bus)
		return d, d.Network, d.ModeMap(), nil
	case config.ProtocolNgIRCd:
		d := ngircd.New(netcfg, bus)
		return d, d.Network, d.ModeMap(), nil
	case config.ProtocolClientbot:
		d := clientbot.New(netcfg, bus)
		return d, d.Network, d.ModeMap(), nil
	default:
		return nil, nil, nil, errors.Errorf("netmgr: no driver registered for protocol %q", netcfg.Protocol)
	}
}

// runOnce dials, handshakes, registers the network with the relay manager,
// then pumps lines until the connection dies, unregistering on the way out.
// Matches ircconn.Reconnector's connectFn contract: block for the lifetime
// of one connection, return nil only to stop retrying entirely (this
// daemon never does — a clean remote close is still worth reconnecting
// from, so runOnce always returns a non-nil error on exit).
func (m *Manager) runOnce(ctx context.Context, n *Network) error {
	n.setStatus(StatusConnecting)

	driver, state, mm, err := newDriver(n.Cfg, m.bus)
	if err != nil {
		n.setStatus(StatusDisconnected)
		return err
	}

	connOpts := ircconn.Options{
		Network:        n.Cfg.Name,
		Addr:           dialAddr(n.Cfg),
		TLS:            n.Cfg.SSL,
		TLSFingerprint: n.Cfg.SSLFingerprint,
		TLSCertFile:    n.Cfg.SSLCertFile,
		TLSKeyFile:     n.Cfg.SSLKeyFile,
		PingFreq:       n.Cfg.PingInterval(),
	}
	conn, err := ircconn.Dial(ctx, connOpts, m.log)
	if err != nil {
		n.setStatus(StatusDisconnected)
		return err
	}

	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, 30*time.Second)
	err = driver.Connect(handshakeCtx, conn, n.Cfg)
	cancelHandshake()
	if err != nil {
		conn.Close()
		n.setStatus(StatusDisconnected)
		return err
	}

	n.mu.Lock()
	n.driver = driver
	n.state = state
	n.modeMap = mm
	n.conn = conn
	n.mu.Unlock()
	n.setStatus(StatusConnected)

	m.relayMgr.RegisterNetwork(n.Name, driver, state, n.Cfg, mm)

	go conn.PingScheduler(ctx, func() { _ = driver.Ping() })

	for {
		line, err := conn.ReadLine()
		if err != nil {
			m.relayMgr.UnregisterNetwork(n.Name)
			n.setStatus(StatusDisconnected)
			m.bus.Dispatch(hooks.Args{Network: n.Name, Command: hooks.Disconnect, Data: map[string]interface{}{"was_successful": conn.SawEndburst}})
			return err
		}
		msg := rfc1459.Parse(line)
		if msg.Command == "PING" {
			conn.NotePong()
		}
		events := driver.HandleLine(msg)
		for _, ev := range events {
			m.bus.Dispatch(ev)
		}
	}
}

func dialAddr(netcfg *config.Network) string {
	return netcfg.IP + ":" + strconv.Itoa(netcfg.Port)
}

// Disconnect tears down one network's connection, preventing further
// reconnect attempts until Reconnect is called (an admin DISCONNECT
// command).
func (m *Manager) Disconnect(name, reason string) error {
	n, ok := m.Network(name)
	if !ok {
		return errors.Errorf("netmgr: unknown network %q", name)
	}
	n.mu.Lock()
	cancel := n.cancel
	driver := n.driver
	conn := n.conn
	n.mu.Unlock()
	if driver != nil {
		_ = driver.Squit(n.Cfg.SID, reason)
	}
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	m.relayMgr.UnregisterNetwork(name)
	n.setStatus(StatusDisconnected)
	return nil
}

// Reconnect (re)spawns a network's connection loop; a no-op if it is
// already connecting/connected.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	n, ok := m.Network(name)
	if !ok {
		return errors.Errorf("netmgr: unknown network %q", name)
	}
	if n.Status() != StatusDisconnected {
		return nil
	}
	m.spawn(ctx, n)
	return nil
}

// Shutdown disconnects every network, used on SIGTERM/SIGINT.
func (m *Manager) Shutdown(reason string) {
	for _, n := range m.Networks() {
		_ = m.Disconnect(n.Name, reason)
	}
}

// Rehash reconciles the running network set against a freshly loaded
// config after a SIGHUP: networks removed from cfg are
// disconnected, networks newly present are connected, networks present in
// both are left running untouched (serverdata changes on an already-running
// link take effect on its next reconnect, not live).
func (m *Manager) Rehash(ctx context.Context, newCfg *config.Config) {
	m.mu.Lock()
	m.cfg = newCfg
	m.mu.Unlock()

	wanted := make(map[string]*config.Network, len(newCfg.Networks))
	for i := range newCfg.Networks {
		wanted[newCfg.Networks[i].Name] = &newCfg.Networks[i]
	}

	for _, n := range m.Networks() {
		if _, ok := wanted[n.Name]; !ok {
			_ = m.Disconnect(n.Name, "removed from configuration")
			m.mu.Lock()
			delete(m.networks, n.Name)
			m.mu.Unlock()
		}
	}

	for name, netcfg := range wanted {
		if _, ok := m.Network(name); ok {
			continue
		}
		n := &Network{Name: name, Cfg: netcfg, status: StatusDisconnected}
		m.mu.Lock()
		m.networks[name] = n
		m.mu.Unlock()
		if netcfg.AutoConnect >= 0 {
			m.spawn(ctx, n)
		}
	}
}
