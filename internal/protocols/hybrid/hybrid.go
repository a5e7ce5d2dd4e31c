// Package hybrid wraps protocols/ts6 with the Hybrid capability subset.
// Hybrid speaks TS6 minus EUID and a few caps — a variant of the same
// wire grammar, not a new driver.
package hybrid

import (
	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/hooks"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/ts6"
)

// Capabilities is the Hybrid-safe subset of ts6.Capabilities: no EUID
// (Hybrid uses plain UID), no EOPMOD, no MLOCK.
var Capabilities = []string{"QS", "EX", "CHW", "IE", "KLN", "UNKLN", "ENCAP", "SERVICES", "SAVE", "TB"}

// New constructs a ts6.Driver parameterised for Hybrid's capability set.
func New(netcfg *config.Network, bus *hooks.Bus, mm *modes.ModeMap) *ts6.Driver {
	if mm == nil {
		mm = modes.NewTS6ModeMap()
	}
	return ts6.New(netcfg, bus, Capabilities, mm)
}
