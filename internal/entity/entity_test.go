package entity

import "testing"

func newTestState() (*NetworkState, *User) {
	n := NewNetworkState("0AA")
	srv := NewServer("0AA", "test.local")
	n.AddServer(srv)
	u := NewUser("0AAAAAAAA")
	u.Nick = "Alice"
	u.ServerID = "0AA"
	n.AddUser(u)
	srv.AddUID(u.UID)
	return n, u
}

func TestSymmetricMembership(t *testing.T) {
	n, u := newTestState()
	ch := n.Join("#test", 1000, u.UID)

	if !ch.HasMember(u.UID) {
		t.Fatal("channel should have member after Join")
	}
	found := false
	for c := range u.Channels {
		if c == "#test" {
			found = true
		}
	}
	if !found {
		t.Fatal("user.Channels should contain #test after Join")
	}

	n.Part("#test", u.UID)
	if ch.HasMember(u.UID) {
		t.Fatal("channel should not have member after Part")
	}
	for c := range u.Channels {
		if c == "#test" {
			t.Fatal("user.Channels should not contain #test after Part")
		}
	}
}

func TestChannelRemovedWhenEmpty(t *testing.T) {
	n, u := newTestState()
	n.Join("#test", 1000, u.UID)
	n.Part("#test", u.UID)

	if _, ok := n.GetChannel("#test"); ok {
		t.Fatal("channel should be removed once empty")
	}
}

func TestPrefixImpliesMembership(t *testing.T) {
	n, u := newTestState()
	ch := n.Join("#test", 1000, u.UID)
	ch.SetPrefix(PrefixOp, u.UID, true)

	if !ch.HasMember(u.UID) {
		t.Fatal("setting op should not remove membership")
	}
	if ch.HighestPrefix(u.UID) != PrefixOp {
		t.Fatalf("expected op, got %s", ch.HighestPrefix(u.UID))
	}
}

func TestPrefixModesNeverInMainModeSet(t *testing.T) {
	n, u := newTestState()
	ch := n.Join("#test", 1000, u.UID)
	ch.SetPrefix(PrefixOp, u.UID, true)
	ch.Modes[ModeValue{Mode: "n"}] = struct{}{}

	for mv := range ch.Modes {
		if mv.Mode == "o" || mv.Mode == "v" {
			t.Fatalf("prefix mode %q leaked into main mode set", mv.Mode)
		}
	}
}

func TestCasemappedChannelLookupStable(t *testing.T) {
	n, u := newTestState()
	n.Join("#Test", 1000, u.UID)

	for _, variant := range []string{"#test", "#TEST", "#TeSt"} {
		if _, ok := n.GetChannel(variant); !ok {
			t.Errorf("expected lookup %q to resolve to the same channel", variant)
		}
	}
}

func TestRemoveServerCascadeRemovesUsers(t *testing.T) {
	n, u := newTestState()
	n.Join("#test", 1000, u.UID)

	child := NewServer("0AB", "leaf.test")
	child.UplinkSID = "0AA"
	n.AddServer(child)
	leafUser := NewUser("0ABAAAAAA")
	leafUser.Nick = "Bob"
	leafUser.ServerID = "0AB"
	n.AddUser(leafUser)
	child.AddUID(leafUser.UID)
	n.Join("#test", 1000, leafUser.UID)

	doomed := n.RemoveServerCascade("0AA")

	foundLeaf := false
	for _, uid := range doomed {
		if uid == leafUser.UID {
			foundLeaf = true
		}
	}
	if !foundLeaf {
		t.Fatal("cascade from root should remove leaf server's users too")
	}
	if _, ok := n.GetUser(u.UID); ok {
		t.Fatal("root server's own users should be gone after cascade")
	}
	if _, ok := n.GetUser(leafUser.UID); ok {
		t.Fatal("leaf server's users should be gone after cascade")
	}
}

func TestDeepCopyChannel(t *testing.T) {
	n, u := newTestState()
	ch := n.Join("#test", 1000, u.UID)
	ch.SetPrefix(PrefixOp, u.UID, true)
	ch.Topic = "hello"

	clone := ch.Clone()
	clone.RemoveMember(u.UID)
	clone.Topic = "changed"

	if !ch.HasMember(u.UID) {
		t.Fatal("mutating the clone must not affect the original")
	}
	if ch.Topic != "hello" {
		t.Fatal("mutating clone.Topic must not affect original")
	}
}

func TestRenameUserCollision(t *testing.T) {
	n, u := newTestState()
	other := NewUser("0AAAAAAAB")
	other.Nick = "Bob"
	n.AddUser(other)

	if n.RenameUser(u.UID, "Bob", 2000) {
		t.Fatal("rename to an in-use nick should fail")
	}
	if !n.RenameUser(u.UID, "Carol", 2000) {
		t.Fatal("rename to a free nick should succeed")
	}
	if _, ok := n.GetUserByNick("carol"); !ok {
		t.Fatal("nick lookup should be case-insensitive")
	}
}
