package relay

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/ts6"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newTestPair(t *testing.T) (home *ts6.Driver, target *ts6.Driver, mgr *Manager, db *DB) {
	t.Helper()
	homeCfg := &config.Network{Name: "home", SID: "1AA", Hostname: "home.test", NetName: "home", MaxNickLen: 30}
	targetCfg := &config.Network{Name: "target", SID: "2AA", Hostname: "target.test", NetName: "target", MaxNickLen: 30, SIDRange: "8##"}

	home = ts6.New(homeCfg, hooks.New(nil), nil, modes.NewTS6ModeMap())
	target = ts6.New(targetCfg, hooks.New(nil), nil, modes.NewTS6ModeMap())

	db = NewDB()
	db.CreateHome("home", "#general", "alice!a@example.com", 1000)
	db.AddLink("home", "#general", "target", "#general")

	mgr = New(db, &config.Config{SpawnLockTimeout: 2}, nil)
	mgr.RegisterNetwork("home", home, home.Network, homeCfg, modes.NewTS6ModeMap())
	mgr.RegisterNetwork("target", target, target.Network, targetCfg, modes.NewTS6ModeMap())
	return
}

func TestCloneSpawnsOnJoin(t *testing.T) {
	home, target, mgr, _ := newTestPair(t)

	aliceUID, err := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	if err != nil {
		t.Fatalf("spawn home user: %v", err)
	}
	if err := home.Join(aliceUID, "#general", 1000); err != nil {
		t.Fatalf("home join: %v", err)
	}

	ok := mgr.onJoin(hooks.Args{
		Network: "home",
		Source:  aliceUID,
		Command: hooks.Join,
		Data:    map[string]interface{}{"channel": "#general", "ts": int64(1000)},
	})
	if !ok {
		t.Fatal("expected onJoin to continue the dispatch chain")
	}

	cloneUID, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected a clone to be spawned on target")
	}
	u, ok := target.Network.GetUser(cloneUID)
	if !ok {
		t.Fatal("expected clone registered on target's network state")
	}
	if u.Nick != "alice" {
		t.Fatalf("expected untagged clone nick, got %q", u.Nick)
	}
	if u.Remote == nil || u.Remote.Network != "home" || u.Remote.UID != aliceUID {
		t.Fatalf("expected clone's RemoteTag to point at home/alice, got %+v", u.Remote)
	}
	ch, ok := target.Network.GetChannel("#general")
	if !ok || !ch.HasMember(cloneUID) {
		t.Fatal("expected clone joined to target's #general")
	}
}

func TestClaimRejectsForeignKickAndReverts(t *testing.T) {
	_, target, mgr, db := newTestPair(t)

	entry, ok := db.Entry("home", "#general")
	if !ok {
		t.Fatal("expected home entry to exist")
	}
	entry.Claim = []string{"home"}

	bobUID, err := target.SpawnClient("bob", "bob", "host.example", "Bob", "1.2.3.4", nil, 1000, "")
	if err != nil {
		t.Fatalf("spawn target user: %v", err)
	}
	if err := target.Join(bobUID, "#general", 1000); err != nil {
		t.Fatalf("target join: %v", err)
	}

	msg := rfc1459.Parse(":9ZZZZZZZZ KICK #general " + bobUID + " :be gone")
	events := target.HandleLine(msg)
	if len(events) != 1 {
		t.Fatalf("expected one kick hook event, got %d", len(events))
	}

	cont := mgr.onKick(events[0])
	if cont {
		t.Fatal("expected onKick to veto an unclaimed foreign kick")
	}

	ch, ok := target.Network.GetChannel("#general")
	if !ok || !ch.HasMember(bobUID) {
		t.Fatal("expected the kick to be reverted and bob rejoined")
	}
}

func TestClaimAllowsHomeNetworkKick(t *testing.T) {
	home, target, mgr, db := newTestPair(t)

	entry, _ := db.Entry("home", "#general")
	entry.Claim = []string{"home"}

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	_ = home.Join(aliceUID, "#general", 1000)
	mgr.onJoin(hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Join,
		Data: map[string]interface{}{"channel": "#general", "ts": int64(1000)}})

	bobUID, _ := target.SpawnClient("bob", "bob", "host.example", "Bob", "1.2.3.4", nil, 1000, "")
	_ = target.Join(bobUID, "#general", 1000)

	homeKick := hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Kick,
		Data: map[string]interface{}{"channel": "#general", "target": bobUID, "reason": "home says bye"}}

	cont := mgr.onKick(homeKick)
	if !cont {
		t.Fatal("expected onKick to allow a kick originating from the channel's home network")
	}
}

func TestNetsplitPurgesRoutedClones(t *testing.T) {
	home, _, mgr, _ := newTestPair(t)

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	_ = home.Join(aliceUID, "#general", 1000)
	mgr.onJoin(hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Join,
		Data: map[string]interface{}{"channel": "#general", "ts": int64(1000)}})

	_, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected clone to exist before the split")
	}
	sid := mgr.relayServers["target"]["home"]
	if sid == "" {
		t.Fatal("expected a relay subserver SID recorded for home on target")
	}

	mgr.onSquit(hooks.Args{Network: "target", Command: hooks.Squit, Data: map[string]interface{}{"sid": sid}})

	if _, ok := mgr.cloneUID("home", aliceUID, "target"); ok {
		t.Fatal("expected clone mapping purged after the subserver SQUIT")
	}
	if _, ok := mgr.relayServers["target"]["home"]; ok {
		t.Fatal("expected subserver mapping removed after the split")
	}
}

func TestSaveForcesCloneRenormalization(t *testing.T) {
	home, target, mgr, _ := newTestPair(t)

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	_ = home.Join(aliceUID, "#general", 1000)
	mgr.onJoin(hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Join,
		Data: map[string]interface{}{"channel": "#general", "ts": int64(1000)}})

	cloneUID, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected clone to exist")
	}

	msg := rfc1459.Parse(":2AA SAVE " + cloneUID + " 9999999999")
	events := target.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.Save {
		t.Fatalf("expected one SAVE hook event, got %+v", events)
	}

	mgr.onSave(events[0])

	u, ok := target.Network.GetUser(cloneUID)
	if !ok {
		t.Fatal("expected clone user still present")
	}
	if u.Nick != "alice/home" {
		t.Fatalf("expected renormalized tagged nick, got %q", u.Nick)
	}
}

func TestSJoinRelaysBurstMembersWithPrefixes(t *testing.T) {
	home, target, mgr, _ := newTestPair(t)

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	bobUID, _ := home.SpawnClient("bob", "bob", "host.example", "Bob", "1.2.3.4", nil, 1000, "")

	msg := rfc1459.Parse(":1AA SJOIN 1000 #general +nt :@" + aliceUID + " " + bobUID)
	events := home.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.SJoin {
		t.Fatalf("expected one SJOIN hook event, got %+v", events)
	}

	if !mgr.onSJoin(events[0]) {
		t.Fatal("expected onSJoin to continue the dispatch chain")
	}

	aliceClone, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected a clone spawned for alice on target")
	}
	bobClone, ok := mgr.cloneUID("home", bobUID, "target")
	if !ok {
		t.Fatal("expected a clone spawned for bob on target")
	}

	ch, ok := target.Network.GetChannel("#general")
	if !ok {
		t.Fatal("expected #general to exist on target")
	}
	if !ch.HasMember(aliceClone) || !ch.HasMember(bobClone) {
		t.Fatal("expected both clones joined on target")
	}
	if !ch.HasPrefix(entity.PrefixOp, aliceClone) {
		t.Fatal("expected alice's clone to carry op from the burst")
	}
	if ch.HasPrefix(entity.PrefixOp, bobClone) {
		t.Fatal("expected bob's clone not to have op")
	}
}

func TestClaimRevertsForeignModeChange(t *testing.T) {
	_, target, mgr, db := newTestPair(t)

	entry, _ := db.Entry("home", "#general")
	entry.Claim = []string{"home"}

	bobUID, _ := target.SpawnClient("bob", "bob", "host.example", "Bob", "1.2.3.4", nil, 1000, "")
	_ = target.Join(bobUID, "#general", 1000)

	msg := rfc1459.Parse(":9ZZZZZZZZ MODE #general +m")
	events := target.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.Mode {
		t.Fatalf("expected one MODE hook event, got %+v", events)
	}
	ch, _ := target.Network.GetChannel("#general")
	if _, set := ch.Modes[entity.ModeValue{Mode: "m"}]; !set {
		t.Fatal("expected +m applied by the driver before relay sees it")
	}

	if mgr.onMode(events[0]) {
		t.Fatal("expected onMode to veto an unclaimed foreign mode change")
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "m"}]; set {
		t.Fatal("expected +m reverted after the CLAIM rejection")
	}
}

func TestClaimKickRevertRestoresPrefixes(t *testing.T) {
	_, target, mgr, db := newTestPair(t)

	entry, _ := db.Entry("home", "#general")
	entry.Claim = []string{"home"}

	bobUID, _ := target.SpawnClient("bob", "bob", "host.example", "Bob", "1.2.3.4", nil, 1000, "")
	_ = target.Join(bobUID, "#general", 1000)
	ch, _ := target.Network.GetChannel("#general")
	ch.SetPrefix(entity.PrefixOp, bobUID, true)

	msg := rfc1459.Parse(":9ZZZZZZZZ KICK #general " + bobUID + " :out")
	events := target.HandleLine(msg)
	if len(events) != 1 {
		t.Fatalf("expected one KICK hook event, got %d", len(events))
	}
	if prefixes, _ := events[0].Data["prefixes"].([]entity.PrefixLevel); len(prefixes) != 1 || prefixes[0] != entity.PrefixOp {
		t.Fatalf("expected op snapshot in the kick hook, got %v", events[0].Data["prefixes"])
	}

	if mgr.onKick(events[0]) {
		t.Fatal("expected onKick to veto the foreign kick")
	}
	ch, ok := target.Network.GetChannel("#general")
	if !ok || !ch.HasMember(bobUID) {
		t.Fatal("expected bob rejoined after the revert")
	}
	if !ch.HasPrefix(entity.PrefixOp, bobUID) {
		t.Fatal("expected bob's op restored after the revert")
	}
}

func TestNickChangeRenormalizesClones(t *testing.T) {
	home, target, mgr, _ := newTestPair(t)

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	_ = home.Join(aliceUID, "#general", 1000)
	mgr.onJoin(hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Join,
		Data: map[string]interface{}{"channel": "#general", "ts": int64(1000)}})

	cloneUID, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected clone to exist")
	}

	msg := rfc1459.Parse(":" + aliceUID + " NICK alicia 2000")
	events := home.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.Nick {
		t.Fatalf("expected one NICK hook event, got %+v", events)
	}
	mgr.onNick(events[0])

	u, ok := target.Network.GetUser(cloneUID)
	if !ok {
		t.Fatal("expected clone user still present")
	}
	if u.Nick != "alicia" {
		t.Fatalf("expected clone renamed to alicia, got %q", u.Nick)
	}
}

func TestRelayTagNicksForcesTaggedClones(t *testing.T) {
	home, target, mgr, _ := newTestPair(t)
	mgr.cfg.RelayTagNicks = true

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	_ = home.Join(aliceUID, "#general", 1000)
	mgr.onJoin(hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Join,
		Data: map[string]interface{}{"channel": "#general", "ts": int64(1000)}})

	cloneUID, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected clone to exist")
	}
	u, _ := target.Network.GetUser(cloneUID)
	if u.Nick != "alice/home" {
		t.Fatalf("expected tagged nick alice/home, got %q", u.Nick)
	}
}

func TestJoinRelayCarriesSourcePrefixes(t *testing.T) {
	home, target, mgr, _ := newTestPair(t)

	aliceUID, _ := home.SpawnClient("alice", "alice", "host.example", "Alice", "1.2.3.4", nil, 1000, "")
	_ = home.Join(aliceUID, "#general", 1000)
	homeCh, _ := home.Network.GetChannel("#general")
	homeCh.SetPrefix(entity.PrefixOp, aliceUID, true)

	mgr.onJoin(hooks.Args{Network: "home", Source: aliceUID, Command: hooks.Join,
		Data: map[string]interface{}{"channel": "#general", "ts": int64(1000)}})

	cloneUID, ok := mgr.cloneUID("home", aliceUID, "target")
	if !ok {
		t.Fatal("expected clone to exist")
	}
	ch, ok := target.Network.GetChannel("#general")
	if !ok || !ch.HasPrefix(entity.PrefixOp, cloneUID) {
		t.Fatal("expected the clone to carry op over from the source channel")
	}
}
