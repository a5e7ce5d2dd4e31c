package relay

import "testing"

func TestNormalizeNickAppendsNoTagByDefault(t *testing.T) {
	got := NormalizeNick("othernet", "alice", NickRules{MaxNickLen: 30, SlashAllowed: true})
	if got != "alice" {
		t.Fatalf("expected untagged nick, got %q", got)
	}
}

func TestNormalizeNickForceTagAppendsNetwork(t *testing.T) {
	got := NormalizeNick("othernet", "alice", NickRules{MaxNickLen: 30, SlashAllowed: true, ForceTag: true})
	if got != "alice/othernet" {
		t.Fatalf("expected tagged nick, got %q", got)
	}
}

func TestNormalizeNickTruncatesForSuffix(t *testing.T) {
	got := NormalizeNick("verylongnetworkname", "areallylongnickname", NickRules{MaxNickLen: 20, SlashAllowed: true, ForceTag: true})
	if len(got) > 20 {
		t.Fatalf("expected nick within 20 chars, got %q (%d)", got, len(got))
	}
}

func TestNormalizeNickLeadingDigitGetsPrefixed(t *testing.T) {
	got := NormalizeNick("net", "1abc", NickRules{MaxNickLen: 30, SlashAllowed: true})
	if got[0] != '_' {
		t.Fatalf("expected leading underscore for digit-first nick, got %q", got)
	}
}

func TestNormalizeNickRetriesOnCollisionWithRealUser(t *testing.T) {
	calls := 0
	rules := NickRules{
		MaxNickLen:   30,
		SlashAllowed: true,
		IsUserTaken: func(nick string) (bool, bool) {
			calls++
			return false, nick == "alice"
		},
	}
	got := NormalizeNick("net", "alice", rules)
	if got != "alice/net" {
		t.Fatalf("expected collision to force a tag, got %q", got)
	}
	if calls < 2 {
		t.Fatalf("expected at least two collision checks, got %d", calls)
	}
}

func TestNormalizeNickDoesNotRetryAgainstItsOwnClone(t *testing.T) {
	rules := NickRules{
		MaxNickLen:   30,
		SlashAllowed: true,
		IsUserTaken: func(nick string) (bool, bool) { return true, true },
	}
	got := NormalizeNick("net", "alice", rules)
	if got != "alice" {
		t.Fatalf("expected no retry against a clone collision, got %q", got)
	}
}

func TestNormalizeHostStripsDisallowedBytes(t *testing.T) {
	got := NormalizeHost("host name!with$junk.example.com", false)
	if got != "hostnamewithjunk.example.com" {
		t.Fatalf("unexpected normalized host: %q", got)
	}
}

func TestNormalizeHostTruncatesTo63(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := NormalizeHost(long, false)
	if len(got) != 63 {
		t.Fatalf("expected 63-byte host, got %d", len(got))
	}
}
