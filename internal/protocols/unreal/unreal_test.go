package unreal

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newTestDriver() *Driver {
	return New(&config.Network{Name: "unr", SID: "1AA", Hostname: "unr.test", NetName: "TestNet"}, hooks.New(nil))
}

func TestHandleUIDRegistersUser(t *testing.T) {
	d := newTestDriver()
	msg := rfc1459.Parse(":1AA UID Gl 0 1000 gl host.example 1AAAAAAAC 0 +iwx * cloak.example * :Gl Realname")
	events := d.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.UID {
		t.Fatalf("expected one UID hook event, got %+v", events)
	}
	u, ok := d.Network.GetUser("1AAAAAAAC")
	if !ok {
		t.Fatal("expected user registered")
	}
	if u.Nick != "Gl" || u.Ident != "gl" || u.DisplayedHost != "cloak.example" {
		t.Fatalf("unexpected parsed user: %+v", u)
	}
}

func TestHandleSJOINJoinsMembersWithPrefixes(t *testing.T) {
	d := newTestDriver()
	d.HandleLine(rfc1459.Parse(":1AA UID Gl 0 1000 gl host.example 1AAAAAAAC 0 +iwx * cloak.example * :Gl Realname"))

	events := d.HandleLine(rfc1459.Parse(":1AA SJOIN 1000 #test + :@1AAAAAAAC"))
	if len(events) != 1 || events[0].Command != hooks.SJoin {
		t.Fatalf("expected one SJOIN hook event, got %+v", events)
	}
	ch, ok := d.Network.GetChannel("#test")
	if !ok || !ch.HasMember("1AAAAAAAC") {
		t.Fatal("expected member joined to #test")
	}
}
