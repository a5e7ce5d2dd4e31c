package p10

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := &config.Network{Name: "p10net", SID: "AB", Hostname: "relay.example", NetName: "p10net"}
	d := New(cfg, hooks.New(nil))
	uplink := entity.NewServer("AC", "hub.example")
	d.Network.AddServer(uplink)
	d.uplinkSID = "AC"
	return d
}

func TestTokenTableRoundTrip(t *testing.T) {
	for token, cmd := range tokenToCommand {
		if expand(token) != cmd {
			t.Fatalf("expand(%q) = %q, want %q", token, expand(token), cmd)
		}
		if tok(cmd) != token {
			t.Fatalf("tok(%q) = %q, want %q", cmd, tok(cmd), token)
		}
	}
	if expand("UNKNOWNCMD") != "UNKNOWNCMD" {
		t.Fatal("expand should pass unknown tokens through")
	}
}

func TestP10IPv4RoundTrip(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "1.2.3.4", "198.51.100.7"} {
		enc := encodeP10IP(ip)
		if len(enc) != 6 {
			t.Fatalf("expected 6-char IPv4 token for %s, got %q", ip, enc)
		}
		if got := decodeP10IP(enc); got != ip {
			t.Fatalf("round trip for %s gave %s", ip, got)
		}
	}
}

func TestUnparseableIPEncodesAsZero(t *testing.T) {
	if encodeP10IP("not-an-ip") != "AAAAAA" {
		t.Fatal("expected the all-zero token for an unparseable IP")
	}
}

func TestHandleNickIntroducesUser(t *testing.T) {
	d := newTestDriver(t)

	ipTok := encodeP10IP("1.2.3.4")
	msg := rfc1459.Parse(":AC N alice 1 1000 alice host.example +i " + ipTok + " ACAAB :Alice Example")
	events := d.HandleLine(msg)
	if len(events) != 1 || events[0].Command != hooks.UID {
		t.Fatalf("expected one UID hook event, got %+v", events)
	}

	u, ok := d.Network.GetUser("ACAAB")
	if !ok {
		t.Fatal("expected user registered under its numeric")
	}
	if u.Nick != "alice" || u.Ident != "alice" || u.IP != "1.2.3.4" {
		t.Fatalf("unexpected user fields: %+v", u)
	}
	if !u.HasMode("i") {
		t.Fatal("expected +i carried from the introduction")
	}
}

func TestHandleNickRename(t *testing.T) {
	d := newTestDriver(t)
	d.HandleLine(rfc1459.Parse(":AC N alice 1 1000 alice host.example +i " + encodeP10IP("1.2.3.4") + " ACAAB :Alice Example"))

	events := d.HandleLine(rfc1459.Parse(":ACAAB N alicia 2000"))
	if len(events) != 1 || events[0].Command != hooks.Nick {
		t.Fatalf("expected one NICK hook event, got %+v", events)
	}
	u, _ := d.Network.GetUser("ACAAB")
	if u.Nick != "alicia" {
		t.Fatalf("expected renamed nick, got %q", u.Nick)
	}
}
