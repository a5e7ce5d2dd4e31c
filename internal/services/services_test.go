package services

import "testing"

func TestBindAndLookupUID(t *testing.T) {
	r := New([]Bot{{Name: "relay", Ident: "relay", Host: "relay.example"}})
	r.BindUID("freenode", "relay", "9AAAAAAAA")

	if got := r.BotForUID("freenode", "9AAAAAAAA"); got != "relay" {
		t.Fatalf("expected relay, got %q", got)
	}
	uid, ok := r.UIDFor("freenode", "relay")
	if !ok || uid != "9AAAAAAAA" {
		t.Fatalf("expected bound UID, got %q %v", uid, ok)
	}
	if !r.IsService("freenode", "9AAAAAAAA") {
		t.Fatal("expected IsService true")
	}
}

func TestUnboundBotReturnsFalse(t *testing.T) {
	r := New([]Bot{{Name: "relay"}})
	_, ok := r.UIDFor("freenode", "relay")
	if ok {
		t.Fatal("expected no binding before BindUID is called")
	}
}

func TestUnbindNetworkClearsBindings(t *testing.T) {
	r := New([]Bot{{Name: "relay"}})
	r.BindUID("freenode", "relay", "9AAAAAAAA")
	r.UnbindNetwork("freenode")

	if _, ok := r.UIDFor("freenode", "relay"); ok {
		t.Fatal("expected binding cleared after UnbindNetwork")
	}
	if r.IsService("freenode", "9AAAAAAAA") {
		t.Fatal("expected IsService false after unbind")
	}
}

func TestNonServiceUIDIsNotAService(t *testing.T) {
	r := New([]Bot{{Name: "relay"}})
	r.BindUID("freenode", "relay", "9AAAAAAAA")
	if r.IsService("freenode", "9BBBBBBBB") {
		t.Fatal("expected unrelated UID to not be a service")
	}
}

func TestBotsAndLookup(t *testing.T) {
	r := New([]Bot{
		{Name: "relay", ExtraChannels: []string{"#status"}},
		{Name: "auto", Modes: "+B"},
	})
	if len(r.Bots()) != 2 {
		t.Fatalf("expected 2 bots, got %d", len(r.Bots()))
	}
	b, ok := r.Lookup("auto")
	if !ok || b.Modes != "+B" {
		t.Fatalf("unexpected lookup result: %+v ok=%v", b, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing bot lookup to fail")
	}
}
