package ts6

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newTestDriver() *Driver {
	cfg := &config.Network{Name: "testnet", SID: "9AA", Hostname: "relay.test", NetName: "testnet"}
	return New(cfg, hooks.New(nil), nil, modes.NewTS6ModeMap())
}

func TestHandleUIDRegistersUser(t *testing.T) {
	d := newTestDriver()
	msg := rfc1459.Parse(":1AA UID alice 1 1000 +i alice host.example 1.2.3.4 1AAAAAAAA :Alice Realname")

	events := d.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.UID {
		t.Fatalf("expected a UID hook event, got %+v", events)
	}
	u, ok := d.Network.GetUser("1AAAAAAAA")
	if !ok {
		t.Fatal("expected user registered")
	}
	if u.Nick != "alice" || !u.HasMode("i") {
		t.Fatalf("unexpected user state: %+v", u)
	}
}

func TestHandleSJOINLowerTSWins(t *testing.T) {
	d := newTestDriver()

	// Establish a pre-existing local channel with a later (higher) TS.
	d.Network.GetOrCreateChannel("#test", 2000)

	msg := rfc1459.Parse(":1AA SJOIN 1000 #test +nt :@1AAAAAAAA")
	d.HandleLine(msg)

	ch, ok := d.Network.GetChannel("#test")
	if !ok {
		t.Fatal("expected channel to exist")
	}
	if ch.TS != 1000 {
		t.Fatalf("expected the lower TS (1000) to win, got %d", ch.TS)
	}
	if !ch.HasMember("1AAAAAAAA") {
		t.Fatal("expected member added from SJOIN")
	}
	if !ch.HasPrefix(entity.PrefixOp, "1AAAAAAAA") {
		t.Fatal("expected op prefix from @ sigil")
	}
}

func TestHandleSJOINHigherTSLoses(t *testing.T) {
	d := newTestDriver()
	d.Network.GetOrCreateChannel("#test", 1000)

	msg := rfc1459.Parse(":1AA SJOIN 2000 #test +nt :1AAAAAAAA")
	d.HandleLine(msg)

	ch, _ := d.Network.GetChannel("#test")
	if ch.TS != 1000 {
		t.Fatalf("expected our earlier TS to be kept, got %d", ch.TS)
	}
}

func TestHandleSaveForcesUIDNick(t *testing.T) {
	d := newTestDriver()
	d.HandleLine(rfc1459.Parse(":1AA UID alice 1 1000 + alice host 1.2.3.4 1AAAAAAAA :Alice"))

	d.HandleLine(rfc1459.Parse(":1AA SAVE 1AAAAAAAA 2000"))

	u, _ := d.Network.GetUser("1AAAAAAAA")
	if u.Nick != "1AAAAAAAA" {
		t.Fatalf("expected SAVE to force nick to UID, got %q", u.Nick)
	}
}

func TestHandleModeSetsChannelMode(t *testing.T) {
	d := newTestDriver()
	d.Network.GetOrCreateChannel("#test", 1000)

	d.HandleLine(rfc1459.Parse(":1AA TMODE #test +k secret"))

	ch, _ := d.Network.GetChannel("#test")
	found := false
	for mv := range ch.Modes {
		if mv.Mode == "k" && mv.Arg == "secret" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected +k secret to be applied, got %+v", ch.Modes)
	}
}

func TestHandleQuitRemovesUser(t *testing.T) {
	d := newTestDriver()
	d.HandleLine(rfc1459.Parse(":1AA UID alice 1 1000 + alice host 1.2.3.4 1AAAAAAAA :Alice"))
	d.HandleLine(rfc1459.Parse(":1AAAAAAAA QUIT :bye"))

	if _, ok := d.Network.GetUser("1AAAAAAAA"); ok {
		t.Fatal("expected user removed after QUIT")
	}
}

func TestPingRepliesWithPong(t *testing.T) {
	d := newTestDriver()
	events := d.HandleLine(rfc1459.Parse("PING :9AA"))
	if events != nil {
		t.Fatalf("PING handling should not emit hook events, got %+v", events)
	}
}

func TestInvalidSourceRejectsJoinForUnknownUID(t *testing.T) {
	d := newTestDriver()
	err := d.Join("9ZZZZZZZZ", "#test", 1000)
	if err == nil {
		t.Fatal("expected Join from an unregistered UID to fail")
	}
}

func TestSJOINLowerTSWipesLocalModesAndStatus(t *testing.T) {
	d := newTestDriver()
	d.HandleLine(rfc1459.Parse(":1AA UID annie 1 900 + annie host 1.2.3.4 1AAAAAAAA :Annie"))

	ch := d.Network.GetOrCreateChannel("#test", 1000)
	d.Network.Join("#test", 1000, "1AAAAAAAA")
	ch.SetPrefix(entity.PrefixOp, "1AAAAAAAA", true)
	ch.Modes[entity.ModeValue{Mode: "n"}] = struct{}{}
	ch.Modes[entity.ModeValue{Mode: "t"}] = struct{}{}
	ch.Modes[entity.ModeValue{Mode: "b", Arg: "*!*@old.example"}] = struct{}{}

	d.HandleLine(rfc1459.Parse(":1AA SJOIN 500 #test +m :@1AAAAAAAB 1AAAAAAAC"))

	ch, _ = d.Network.GetChannel("#test")
	if ch.TS != 500 {
		t.Fatalf("expected TS lowered to 500, got %d", ch.TS)
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "n"}]; set {
		t.Fatal("expected local +n dropped by the lower-TS burst")
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "m"}]; !set {
		t.Fatal("expected burst's +m applied")
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "b", Arg: "*!*@old.example"}]; !set {
		t.Fatal("expected list modes to survive the merge")
	}
	if ch.HasPrefix(entity.PrefixOp, "1AAAAAAAA") {
		t.Fatal("expected annie deopped by the lower-TS burst")
	}
	if !ch.HasMember("1AAAAAAAA") {
		t.Fatal("expected annie to keep membership")
	}
	if !ch.HasPrefix(entity.PrefixOp, "1AAAAAAAB") {
		t.Fatal("expected the burst's op applied")
	}
	if !ch.HasMember("1AAAAAAAC") {
		t.Fatal("expected all burst members merged")
	}
}

func TestSJOINHigherTSIgnoresTheirModes(t *testing.T) {
	d := newTestDriver()
	ch := d.Network.GetOrCreateChannel("#test", 500)
	ch.Modes[entity.ModeValue{Mode: "n"}] = struct{}{}

	d.HandleLine(rfc1459.Parse(":1AA SJOIN 1000 #test +m :@1AAAAAAAB"))

	ch, _ = d.Network.GetChannel("#test")
	if _, set := ch.Modes[entity.ModeValue{Mode: "m"}]; set {
		t.Fatal("expected the higher-TS burst's modes ignored")
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "n"}]; !set {
		t.Fatal("expected our modes kept")
	}
	if ch.HasPrefix(entity.PrefixOp, "1AAAAAAAB") {
		t.Fatal("expected the higher-TS burst's op claim ignored")
	}
	if !ch.HasMember("1AAAAAAAB") {
		t.Fatal("expected membership still merged")
	}
}

func TestEUIDCarriesAccountAndEmitsLogin(t *testing.T) {
	d := newTestDriver()

	events := d.HandleLine(rfc1459.Parse(":1AA EUID alice 1 1000 +i alice cloak.example 1.2.3.4 1AAAAAAAD real.example aliceacct :Alice"))
	if len(events) != 2 {
		t.Fatalf("expected UID + login events, got %d", len(events))
	}
	if events[0].Command != hooks.UID || events[1].Command != hooks.ClientServicesLogin {
		t.Fatalf("expected UID then CLIENT_SERVICES_LOGIN, got %q then %q", events[0].Command, events[1].Command)
	}
	u, _ := d.Network.GetUser("1AAAAAAAD")
	if u.ServicesLogin != "aliceacct" || u.RealHost != "real.example" {
		t.Fatalf("expected EUID account/realhost applied, got %+v", u)
	}
}

func TestAwaySetsAndClears(t *testing.T) {
	d := newTestDriver()
	d.HandleLine(rfc1459.Parse(":1AA UID alice 1 1000 + alice host 1.2.3.4 1AAAAAAAA :Alice"))

	events := d.HandleLine(rfc1459.Parse(":1AAAAAAAA AWAY :gone fishing"))
	if len(events) != 1 || events[0].Command != hooks.Away {
		t.Fatalf("expected one AWAY hook event, got %+v", events)
	}
	u, _ := d.Network.GetUser("1AAAAAAAA")
	if u.Away != "gone fishing" {
		t.Fatalf("expected away text stored, got %q", u.Away)
	}

	d.HandleLine(rfc1459.Parse(":1AAAAAAAA AWAY"))
	if u.Away != "" {
		t.Fatalf("expected away cleared, got %q", u.Away)
	}
}
