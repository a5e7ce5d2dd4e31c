package inspircd

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newTestDriver() *Driver {
	cfg := &config.Network{Name: "insp", SID: "70M", Hostname: "insp.test", NetName: "TestNet"}
	d := New(cfg, hooks.New(nil))
	d.Network.AddServer(entity.NewServer("70M", "insp.test"))
	return d
}

func TestHandleUIDRegistersUser(t *testing.T) {
	d := newTestDriver()
	msg := rfc1459.Parse(":70M UID 70MAAAAAA 1000 Gl gl.example cloak.example gl 1.2.3.4 1000 +i :Gl Realname")

	events := d.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.UID {
		t.Fatalf("expected one UID hook event, got %+v", events)
	}
	u, ok := d.Network.GetUser("70MAAAAAA")
	if !ok {
		t.Fatal("expected user registered")
	}
	if u.Nick != "Gl" || u.Ident != "gl" || u.DisplayedHost != "cloak.example" || !u.HasMode("i") {
		t.Fatalf("unexpected parsed user: %+v", u)
	}
}

func TestHandleFJOINLowerTSWins(t *testing.T) {
	d := newTestDriver()
	d.HandleLine(rfc1459.Parse(":70M UID 70MAAAAAA 1000 Gl gl.example cloak.example gl 1.2.3.4 1000 +i :Gl Realname"))
	d.Network.GetOrCreateChannel("#test", 2000)

	events := d.HandleLine(rfc1459.Parse(":70M FJOIN #test 1000 +nt :o,70MAAAAAA"))
	if len(events) != 1 || events[0].Command != hooks.SJoin {
		t.Fatalf("expected one SJOIN hook event, got %+v", events)
	}
	ch, ok := d.Network.GetChannel("#test")
	if !ok {
		t.Fatal("expected channel to exist")
	}
	if ch.TS != 1000 {
		t.Fatalf("expected lower TS to win, got %d", ch.TS)
	}
	if !ch.HasMember("70MAAAAAA") {
		t.Fatal("expected member joined from FJOIN")
	}
	if !ch.HasPrefix(entity.PrefixOp, "70MAAAAAA") {
		t.Fatal("expected op prefix from FJOIN's 'o,' entry")
	}
}

func TestHandleFModeAppliesChannelMode(t *testing.T) {
	d := newTestDriver()
	d.Network.GetOrCreateChannel("#test", 1000)

	d.HandleLine(rfc1459.Parse(":70M FMODE #test 1000 +k secret"))

	ch, _ := d.Network.GetChannel("#test")
	if _, ok := ch.Modes[entity.ModeValue{Mode: "k", Arg: "secret"}]; !ok {
		t.Fatalf("expected +k secret applied, got %+v", ch.Modes)
	}
}

func TestHandleSquitCascadesByName(t *testing.T) {
	d := newTestDriver()
	leaf := entity.NewServer("70N", "leaf.test")
	leaf.UplinkSID = "70M"
	d.Network.AddServer(leaf)
	u := entity.NewUser("70NAAAAAA")
	u.ServerID = "70N"
	d.Network.AddUser(u)
	leaf.AddUID("70NAAAAAA")

	events := d.HandleLine(rfc1459.Parse(":70M SQUIT leaf.test :simulated split"))

	if _, ok := d.Network.GetUser("70NAAAAAA"); ok {
		t.Fatal("expected user removed by cascading SQUIT")
	}
	foundQuit := false
	for _, ev := range events {
		if ev.Command == hooks.Quit {
			foundQuit = true
		}
	}
	if !foundQuit {
		t.Fatalf("expected a QUIT hook for the cascaded user, got %+v", events)
	}
}
