package ids

import "testing"

func TestTS6GeneratorSequenceAndWidth(t *testing.T) {
	g := NewTS6("0AA", "test")

	first, err := g.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first != "0AAAAAAAA"[:9] {
		t.Errorf("expected first UID 0AAAAAAAA, got %s", first)
	}
	if !ValidateTS6UID(first) {
		t.Errorf("generated UID %s fails validation", first)
	}

	second, err := g.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second != "0AAAAAAAB" {
		t.Errorf("expected second UID 0AAAAAAAB, got %s", second)
	}
}

func TestTS6GeneratorCarry(t *testing.T) {
	g := &ts6Gen{sid: "0AA", started: true}
	// "ZZZZA9": incrementing wraps the final '9' and carries into the 'A'.
	for i := range g.counter {
		g.counter[i] = 25 // 'Z'
	}
	g.counter[ts6BodyWidth-2] = 0                          // 'A'
	g.counter[ts6BodyWidth-1] = byte(len(ts6Alphabet) - 1) // '9'

	uid, err := g.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if uid != "0AAZZZZBA" {
		t.Errorf("expected carry to 0AAZZZZBA, got %s", uid)
	}
}

func TestTS6GeneratorExhaustion(t *testing.T) {
	g := &ts6Gen{sid: "0AA", started: true}
	for i := range g.counter {
		g.counter[i] = byte(len(ts6Alphabet) - 1)
	}

	if _, err := g.Next(); err == nil {
		t.Fatal("expected exhaustion error, got nil")
	}
}

func TestP10GeneratorSequence(t *testing.T) {
	g := NewP10("AA", "test")
	first, err := g.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !ValidateP10UID(first) {
		t.Errorf("generated P10 UID %s fails validation", first)
	}
	if len(first) != 5 {
		t.Errorf("expected 5-char P10 UID, got %d: %s", len(first), first)
	}
}

func TestExpandSIDTemplate(t *testing.T) {
	sids := ExpandSIDTemplate("1#A")
	if len(sids) != 36 {
		t.Fatalf("expected 36 expansions for 1#A, got %d", len(sids))
	}
	seen := map[string]bool{}
	for _, s := range sids {
		if len(s) != 3 || s[0] != '1' {
			t.Errorf("unexpected SID from template: %s", s)
		}
		if seen[s] {
			t.Errorf("duplicate SID %s", s)
		}
		seen[s] = true
	}
}

func TestSIDRange(t *testing.T) {
	sids := SIDRange(0, 5)
	if len(sids) != 6 {
		t.Fatalf("expected 6 SIDs, got %d", len(sids))
	}
	for _, s := range sids {
		if len(s) != 2 {
			t.Errorf("expected 2-char P10 SID, got %s", s)
		}
	}
}

func TestValidateTS6SID(t *testing.T) {
	cases := map[string]bool{
		"0AA": true,
		"9ZZ": true,
		"AAA": false, // first char must be digit
		"0A":  false, // wrong length
		"0aa": false, // lowercase not valid in TS6 SID
	}
	for sid, want := range cases {
		if got := ValidateTS6SID(sid); got != want {
			t.Errorf("ValidateTS6SID(%q) = %v, want %v", sid, got, want)
		}
	}
}
