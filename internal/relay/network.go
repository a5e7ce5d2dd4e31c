package relay

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ircrelay/relayd/internal/config"
	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/modes"
	"github.com/ircrelay/relayd/internal/protocols/base"
)

// NetworkHandle is everything the relay manager needs from one connected
// network: its driver (for the outgoing API), its entity index (for
// lookups), its mode map (for reverse_modes) and its config (for nick
// rules, CLAIM defaults, netsplit reason format). netmgr registers one of
// these per network through Manager.RegisterNetwork, which builds it, as
// links come up.
type NetworkHandle struct {
	Name    string
	Driver  base.Driver
	State   *entity.NetworkState
	Cfg     *config.Network
	ModeMap *modes.ModeMap

	spawnLock       *semaphore.Weighted
	spawnLockServer *semaphore.Weighted
}

func newNetworkHandle(name string, d base.Driver, st *entity.NetworkState, cfg *config.Network, mm *modes.ModeMap) *NetworkHandle {
	return &NetworkHandle{
		Name:            name,
		Driver:          d,
		State:           st,
		Cfg:             cfg,
		ModeMap:         mm,
		spawnLock:       semaphore.NewWeighted(1),
		spawnLockServer: semaphore.NewWeighted(1),
	}
}

// withSpawnLock acquires nh's per-network clone spawn lock for at most
// timeout, running fn while held. A simple exclusion lock suffices;
// nothing in this daemon recurses into it.
func (nh *NetworkHandle) withSpawnLock(timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := nh.spawnLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer nh.spawnLock.Release(1)
	return fn()
}

// withServerSpawnLock guards relay-subserver creation the same way.
func (nh *NetworkHandle) withServerSpawnLock(timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := nh.spawnLockServer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer nh.spawnLockServer.Release(1)
	return fn()
}

func (nh *NetworkHandle) nickRules(homeNet string, forceTag bool) NickRules {
	maxLen := nh.Cfg.MaxNickLen
	if maxLen <= 0 {
		maxLen = 30
	}
	return NickRules{
		MaxNickLen:   maxLen,
		SlashAllowed: true,
		ForceTag:     forceTag,
		IsUserTaken: func(nick string) (isClone bool, taken bool) {
			u, ok := nh.State.GetUserByNick(nick)
			if !ok {
				return false, false
			}
			return u.Remote != nil, true
		},
	}
}
