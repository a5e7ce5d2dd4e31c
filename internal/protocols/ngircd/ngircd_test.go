package ngircd

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := &config.Network{Name: "ngnet", Hostname: "relay.example", NetName: "ngnet"}
	d := New(cfg, hooks.New(nil))
	d.uplinkName = "irc.example"
	uplink := entity.NewServer("irc.example", "irc.example")
	d.Network.AddServer(uplink)
	return d
}

func TestNickIntroductionMintsPUID(t *testing.T) {
	d := newTestDriver(t)

	events := d.HandleLine(rfc1459.Parse(":irc.example NICK alice 1 alice host.example 1 +i :Alice Example"))
	if len(events) != 1 || events[0].Command != hooks.UID {
		t.Fatalf("expected one UID hook event, got %+v", events)
	}

	uid := d.nickUID["alice"]
	if uid == "" {
		t.Fatal("expected a PUID minted for alice")
	}
	u, ok := d.Network.GetUser(uid)
	if !ok || u.Nick != "alice" || u.Ident != "alice" {
		t.Fatalf("unexpected user state: %+v", u)
	}
}

func TestNJoinParsesPrefixedMembers(t *testing.T) {
	d := newTestDriver(t)
	d.HandleLine(rfc1459.Parse(":irc.example NICK alice 1 alice host.example 1 + :Alice"))
	d.HandleLine(rfc1459.Parse(":irc.example NICK bob 1 bob host.example 1 + :Bob"))
	d.HandleLine(rfc1459.Parse(":irc.example NICK carol 1 carol host.example 1 + :Carol"))

	events := d.HandleLine(rfc1459.Parse(":irc.example NJOIN #test :@alice,+bob,carol"))
	if len(events) != 1 || events[0].Command != hooks.SJoin {
		t.Fatalf("expected one SJOIN hook event, got %+v", events)
	}
	users, _ := events[0].Data["users"].([]string)
	if len(users) != 3 {
		t.Fatalf("expected 3 burst members, got %d", len(users))
	}

	ch, ok := d.Network.GetChannel("#test")
	if !ok {
		t.Fatal("expected #test created by the burst")
	}
	if !ch.HasPrefix(entity.PrefixOp, d.nickUID["alice"]) {
		t.Fatal("expected alice opped from the @ prefix")
	}
	if !ch.HasPrefix(entity.PrefixVoice, d.nickUID["bob"]) {
		t.Fatal("expected bob voiced from the + prefix")
	}
	if ch.HasPrefix(entity.PrefixOp, d.nickUID["carol"]) || ch.HasPrefix(entity.PrefixVoice, d.nickUID["carol"]) {
		t.Fatal("expected carol without status")
	}
}

func TestChanInfoAppliesModesAndTopic(t *testing.T) {
	d := newTestDriver(t)

	d.HandleLine(rfc1459.Parse(":irc.example CHANINFO #test +ntk sekrit 0 :Welcome home"))

	ch, ok := d.Network.GetChannel("#test")
	if !ok {
		t.Fatal("expected #test created by CHANINFO")
	}
	if ch.Topic != "Welcome home" || !ch.TopicWasSet {
		t.Fatalf("expected topic applied, got %q", ch.Topic)
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "n"}]; !set {
		t.Fatal("expected +n from CHANINFO")
	}
	if _, set := ch.Modes[entity.ModeValue{Mode: "k", Arg: "sekrit"}]; !set {
		t.Fatal("expected channel key from CHANINFO")
	}
}

func TestFirstPingSynthesisesEndburst(t *testing.T) {
	d := newTestDriver(t)

	events := d.HandleLine(rfc1459.Parse(":irc.example PING :irc.example"))
	if len(events) != 1 || events[0].Command != hooks.EndBurst {
		t.Fatalf("expected ENDBURST on first PING, got %+v", events)
	}
	if events := d.HandleLine(rfc1459.Parse(":irc.example PING :irc.example")); len(events) != 0 {
		t.Fatalf("expected no second ENDBURST, got %+v", events)
	}
}
