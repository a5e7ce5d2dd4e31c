package netmgr

import (
	"context"
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/relay"
	"github.com/ircrelay/relayd/internal/services"
)

func TestNewDriverTS6BuildsDriverAndState(t *testing.T) {
	bus := hooks.New(nil)
	netcfg := &config.Network{Name: "home", SID: "1AA", Hostname: "home.test", NetName: "home"}

	d, state, mm, err := newDriver(netcfg, bus)
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}
	if d == nil || state == nil || mm == nil {
		t.Fatal("expected non-nil driver, state and mode map")
	}
	if _, ok := state.GetServer("1AA"); !ok {
		t.Fatal("expected the network's own SID registered as a server")
	}
}

func TestNewDriverHybridBuildsDriverAndState(t *testing.T) {
	bus := hooks.New(nil)
	netcfg := &config.Network{Name: "hyb", SID: "9AA", Protocol: config.ProtocolHybrid}

	d, state, _, err := newDriver(netcfg, bus)
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}
	if d == nil || state == nil {
		t.Fatal("expected a driver and state for hybrid")
	}
}

func TestNewDriverUnknownProtocolErrors(t *testing.T) {
	bus := hooks.New(nil)
	netcfg := &config.Network{Name: "weird", SID: "3AA", Protocol: "telex"}

	if _, _, _, err := newDriver(netcfg, bus); err == nil {
		t.Fatal("expected an error for an unregistered protocol")
	}
}

func newTestManager() *Manager {
	db := relay.NewDB()
	relayMgr := relay.New(db, &config.Config{}, nil)
	cfg := &config.Config{}
	return New(cfg, hooks.New(nil), relayMgr, nil, nil)
}

func TestRehashAddsAndRemovesNetworks(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	m.Rehash(ctx, &config.Config{Networks: []config.Network{
		{Name: "alpha", SID: "1AA", AutoConnect: -1},
		{Name: "beta", SID: "2AA", AutoConnect: -1},
	}})

	if _, ok := m.Network("alpha"); !ok {
		t.Fatal("expected alpha registered after rehash")
	}
	if _, ok := m.Network("beta"); !ok {
		t.Fatal("expected beta registered after rehash")
	}

	m.Rehash(ctx, &config.Config{Networks: []config.Network{
		{Name: "alpha", SID: "1AA", AutoConnect: -1},
	}})

	if _, ok := m.Network("beta"); ok {
		t.Fatal("expected beta removed after rehash dropped it from config")
	}
	if _, ok := m.Network("alpha"); !ok {
		t.Fatal("expected alpha to remain registered across rehash")
	}
}

func TestDisconnectUnknownNetworkErrors(t *testing.T) {
	m := newTestManager()
	if err := m.Disconnect("ghost", "bye"); err == nil {
		t.Fatal("expected an error disconnecting an unregistered network")
	}
}

func TestSpawnServicesBindsEachUnboundBot(t *testing.T) {
	svc := services.New([]services.Bot{
		{Name: "relay", Ident: "relay", Host: "services.test", ExtraChannels: []string{"#services"}, Modes: "+oiS"},
	})

	db := relay.NewDB()
	relayMgr := relay.New(db, &config.Config{}, nil)
	m := New(&config.Config{}, hooks.New(nil), relayMgr, svc, nil)

	netcfg := &config.Network{Name: "home", SID: "1AA", Hostname: "home.test", NetName: "home", MaxNickLen: 30}
	driver, state, mm, err := newDriver(netcfg, m.bus)
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}
	n := &Network{Name: "home", Cfg: netcfg, status: StatusConnected, driver: driver, state: state, modeMap: mm}
	m.mu.Lock()
	m.networks["home"] = n
	m.mu.Unlock()

	m.spawnServices("home")

	uid, ok := svc.UIDFor("home", "relay")
	if !ok {
		t.Fatal("expected the relay bot bound after spawnServices")
	}
	if !svc.IsService("home", uid) {
		t.Fatal("expected the spawned UID recognised as a service")
	}
	u, ok := state.GetUser(uid)
	if !ok {
		t.Fatal("expected the bot's user registered in network state")
	}
	if !u.HasMode("o") || !u.HasMode("S") {
		t.Fatalf("expected the bot's configured modes applied, got %q", u.ModeString())
	}
	ch, ok := state.GetChannel("#services")
	if !ok || !ch.HasMember(uid) {
		t.Fatal("expected the bot joined to its extra channel")
	}

	// Re-running spawnServices must not spawn a second identity for an
	// already-bound bot.
	m.spawnServices("home")
	uid2, _ := svc.UIDFor("home", "relay")
	if uid2 != uid {
		t.Fatalf("expected spawnServices to be a no-op once bound, got a new uid %q", uid2)
	}
}

func TestRespawnServiceIfKilled(t *testing.T) {
	svc := services.New([]services.Bot{{Name: "relay", Ident: "relay", Host: "services.test"}})

	db := relay.NewDB()
	relayMgr := relay.New(db, &config.Config{}, nil)
	m := New(&config.Config{}, hooks.New(nil), relayMgr, svc, nil)

	netcfg := &config.Network{Name: "home", SID: "1AA", Hostname: "home.test", NetName: "home", MaxNickLen: 30}
	driver, state, mm, _ := newDriver(netcfg, m.bus)
	n := &Network{Name: "home", Cfg: netcfg, status: StatusConnected, driver: driver, state: state, modeMap: mm}
	m.mu.Lock()
	m.networks["home"] = n
	m.mu.Unlock()

	m.spawnServices("home")
	firstUID, _ := svc.UIDFor("home", "relay")

	m.respawnServiceIfKilled("home", firstUID)

	secondUID, ok := svc.UIDFor("home", "relay")
	if !ok {
		t.Fatal("expected the relay bot rebound after being killed")
	}
	if secondUID == firstUID {
		t.Fatal("expected a fresh UID after respawn")
	}
	if _, ok := state.GetUser(secondUID); !ok {
		t.Fatal("expected the respawned bot registered in network state")
	}
}
