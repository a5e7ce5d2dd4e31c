package clientbot

import (
	"testing"

	"gopkg.in/irc.v3"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/modes"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := &config.Network{Name: "cb", Hostname: "irc.example", NetName: "cb", ClientbotNick: "relaybot"}
	d := New(cfg, hooks.New(nil))
	d.uplinkName = "irc.example"
	srv := entity.NewServer("irc.example", "irc.example")
	d.Network.AddServer(srv)
	return d
}

func dispatchLine(t *testing.T, d *Driver, line string) []hooks.Args {
	t.Helper()
	msg, err := irc.ParseMessage(line)
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	return d.dispatch(msg)
}

func TestISupportOverridesModeTables(t *testing.T) {
	d := newTestDriver(t)

	d.applyISupport([]string{"relaybot", "PREFIX=(qaohv)~&@%+", "CHANMODES=beI,k,l,imnpst", "are supported by this server"})

	mm := d.ModeMap()
	if mm.ChanModes['b'] != modes.ClassA || mm.ChanModes['k'] != modes.ClassB ||
		mm.ChanModes['l'] != modes.ClassC || mm.ChanModes['m'] != modes.ClassD {
		t.Fatalf("unexpected CHANMODES classes: %+v", mm.ChanModes)
	}
	if mm.Prefixes['q'] != entity.PrefixOwner || mm.Prefixes['h'] != entity.PrefixHalfop {
		t.Fatalf("unexpected PREFIX table: %+v", mm.Prefixes)
	}
	if mm.PrefixSymbols[entity.PrefixOwner] != '~' {
		t.Fatal("expected ~ mapped to owner")
	}
}

func TestNamesReplyBackfillsMembership(t *testing.T) {
	d := newTestDriver(t)

	events := dispatchLine(t, d, ":irc.example 353 relaybot = #test :@alice +bob carol")
	if len(events) != 1 || events[0].Command != hooks.SJoin {
		t.Fatalf("expected one SJOIN hook event, got %+v", events)
	}

	ch, ok := d.Network.GetChannel("#test")
	if !ok {
		t.Fatal("expected #test created by the NAMES reply")
	}
	aliceUID := d.nickUID["alice"]
	bobUID := d.nickUID["bob"]
	carolUID := d.nickUID["carol"]
	if aliceUID == "" || bobUID == "" || carolUID == "" {
		t.Fatal("expected PUIDs minted for all three nicks")
	}
	if !ch.HasPrefix(entity.PrefixOp, aliceUID) {
		t.Fatal("expected alice opped from @")
	}
	if !ch.HasPrefix(entity.PrefixVoice, bobUID) {
		t.Fatal("expected bob voiced from +")
	}
	if !ch.HasMember(carolUID) {
		t.Fatal("expected carol joined without status")
	}
}

func TestWhoReplyBackfillsUserDetails(t *testing.T) {
	d := newTestDriver(t)
	dispatchLine(t, d, ":irc.example 353 relaybot = #test :alice")

	dispatchLine(t, d, ":irc.example 352 relaybot #test aident ahost.example irc.example alice H :0 Alice Example")

	u, ok := d.Network.GetUser(d.nickUID["alice"])
	if !ok {
		t.Fatal("expected alice present")
	}
	if u.Ident != "aident" || u.DisplayedHost != "ahost.example" || u.Realname != "Alice Example" {
		t.Fatalf("expected WHO backfill applied, got %+v", u)
	}
}

func TestPrivmsgFromUnknownNickMintsVirtualUser(t *testing.T) {
	d := newTestDriver(t)

	events := dispatchLine(t, d, ":dave!dave@host.example PRIVMSG #test :hello")
	if len(events) != 1 || events[0].Command != hooks.PrivMsg {
		t.Fatalf("expected one PRIVMSG hook event, got %+v", events)
	}
	uid := d.nickUID["dave"]
	if uid == "" {
		t.Fatal("expected a PUID minted on first sighting")
	}
	u, _ := d.Network.GetUser(uid)
	if u.Ident != "dave" || u.DisplayedHost != "host.example" {
		t.Fatalf("expected prefix-derived ident/host, got %+v", u)
	}
	if events[0].Get("target") != "#test" || events[0].Get("text") != "hello" {
		t.Fatalf("unexpected event payload: %+v", events[0].Data)
	}
}

func TestTopicChangeSnapshotsOldTopic(t *testing.T) {
	d := newTestDriver(t)
	dispatchLine(t, d, ":irc.example 353 relaybot = #test :alice")
	ch, _ := d.Network.GetChannel("#test")
	ch.Topic = "old topic"
	ch.TopicWasSet = true

	events := dispatchLine(t, d, ":alice!a@host TOPIC #test :new topic")
	if len(events) != 1 || events[0].Command != hooks.Topic {
		t.Fatalf("expected one TOPIC hook event, got %+v", events)
	}
	if events[0].Get("oldtopic") != "old topic" {
		t.Fatalf("expected old topic snapshot, got %q", events[0].Get("oldtopic"))
	}
	if ch.Topic != "new topic" {
		t.Fatalf("expected topic updated, got %q", ch.Topic)
	}
}
