package hybrid

import (
	"testing"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/hooks"
)

func TestNewExcludesEUID(t *testing.T) {
	d := New(&config.Network{Name: "hyb", SID: "9AA"}, hooks.New(nil), nil)
	if d == nil {
		t.Fatal("expected a driver instance")
	}
	for _, c := range Capabilities {
		if c == "EUID" || c == "EOPMOD" || c == "MLOCK" {
			t.Fatalf("Hybrid capability set must not include %s", c)
		}
	}
}
