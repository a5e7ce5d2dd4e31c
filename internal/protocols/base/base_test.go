package base

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/hooks"
)

func newTestDriver() *BaseDriver {
	return NewBaseDriver(&config.Network{Name: "testnet", SID: "9AA"}, hooks.New(nil))
}

func TestInvalidSourceUnknownUID(t *testing.T) {
	b := newTestDriver()
	if !b.InvalidSource("9AAAAAAAA") {
		t.Fatal("expected unknown UID to be an invalid source")
	}
}

func TestInvalidSourceRemoteUser(t *testing.T) {
	b := newTestDriver()
	srv := entity.NewServer("1AA", "remote.example")
	srv.Internal = false
	b.Network.AddServer(srv)

	u := entity.NewUser("1AAAAAAAA")
	u.ServerID = "1AA"
	b.Network.AddUser(u)

	if !b.InvalidSource("1AAAAAAAA") {
		t.Fatal("expected a user on a non-internal server to be an invalid source")
	}
}

func TestValidSourceInternalUser(t *testing.T) {
	b := newTestDriver()
	srv := entity.NewServer("9AA", "testnet.example")
	srv.Internal = true
	b.Network.AddServer(srv)

	u := entity.NewUser("9AAAAAAAA")
	u.ServerID = "9AA"
	b.Network.AddUser(u)

	if b.InvalidSource("9AAAAAAAA") {
		t.Fatal("expected a user on our own internal server to be a valid source")
	}
}

func TestWinsTS(t *testing.T) {
	win, tie := WinsTS(100, 200)
	if !win || tie {
		t.Fatalf("expected lower TS to win outright, got win=%v tie=%v", win, tie)
	}
	win, tie = WinsTS(200, 100)
	if win || tie {
		t.Fatalf("expected higher TS to lose outright, got win=%v tie=%v", win, tie)
	}
	win, tie = WinsTS(100, 100)
	if win || !tie {
		t.Fatalf("expected equal TS to be a tie, got win=%v tie=%v", win, tie)
	}
}

func TestOwnsUID(t *testing.T) {
	b := newTestDriver()
	if b.OwnsUID("9AAAAAAAA") {
		t.Fatal("expected OwnsUID false before the user is registered")
	}
	b.Network.AddUser(entity.NewUser("9AAAAAAAA"))
	if !b.OwnsUID("9AAAAAAAA") {
		t.Fatal("expected OwnsUID true after registration")
	}
}

func TestDispatchDeliversToHooksBus(t *testing.T) {
	bus := hooks.New(nil)
	b := &BaseDriver{Network: entity.NewNetworkState("9AA"), Hooks: bus, Cfg: &config.Network{Name: "testnet"}}

	var gotSource string
	bus.Register(hooks.Join, 0, "test", func(a hooks.Args) bool {
		gotSource = a.Source
		return true
	})

	b.Dispatch(hooks.Join, "testnet", "9AAAAAAAA", nil)

	if gotSource != "9AAAAAAAA" {
		t.Fatalf("expected hook to receive source, got %q", gotSource)
	}
}
