package relay

import "testing"

func TestGetRelayReturnsHomeForHomeChannel(t *testing.T) {
	db := NewDB()
	db.CreateHome("home", "#general", "alice!a@example.com", 1000)

	net, ch, ok := db.GetRelay("home", "#general")
	if !ok || net != "home" || ch != "#general" {
		t.Fatalf("expected home itself, got %q %q %v", net, ch, ok)
	}
}

func TestGetRelayResolvesLink(t *testing.T) {
	db := NewDB()
	db.CreateHome("home", "#general", "alice!a@example.com", 1000)
	db.AddLink("home", "#general", "other", "#linked")

	net, ch, ok := db.GetRelay("other", "#linked")
	if !ok || net != "home" || ch != "#general" {
		t.Fatalf("expected resolution to home, got %q %q %v", net, ch, ok)
	}
}

func TestGetRelayUnknownPairFails(t *testing.T) {
	db := NewDB()
	if _, _, ok := db.GetRelay("nope", "#nothing"); ok {
		t.Fatal("expected no relay for an unregistered pair")
	}
}

func TestRemoveLinkDropsLeaf(t *testing.T) {
	db := NewDB()
	db.CreateHome("home", "#general", "alice!a@example.com", 1000)
	db.AddLink("home", "#general", "other", "#linked")
	db.RemoveLink("home", "#general", "other", "#linked")

	if _, _, ok := db.GetRelay("other", "#linked"); ok {
		t.Fatal("expected link removal to drop resolution")
	}
	leaves := db.LeavesOf("home", "#general")
	if len(leaves) != 0 {
		t.Fatalf("expected no leaves left, got %+v", leaves)
	}
}

func TestHomesWithNetworkFiltersByHome(t *testing.T) {
	db := NewDB()
	db.CreateHome("netA", "#a", "x", 1)
	db.CreateHome("netB", "#b", "y", 2)

	homes := db.HomesWithNetwork("netA")
	if len(homes) != 1 || homes[0].Channel != "#a" {
		t.Fatalf("expected only netA's home, got %+v", homes)
	}
}

func TestEntryClaimedBy(t *testing.T) {
	e := &LinkEntry{Claim: []string{"netA", "netB"}}
	if !e.ClaimedBy("netA") {
		t.Fatal("expected netA to be claimed")
	}
	if e.ClaimedBy("netC") {
		t.Fatal("expected netC not to be claimed")
	}
}
