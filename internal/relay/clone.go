package relay

import (
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/ircrelay/relayd/internal/entity"
	"github.com/ircrelay/relayd/internal/ids"
)

// CloneKey identifies a home user by its origin network and UID.
type CloneKey struct {
	HomeNetwork string
	HomeUID     string
}

// whitelistedUmodes are the user modes a clone carries over from its home
// user; everything else stays home-network-local.
var whitelistedUmodes = map[string]struct{}{
	"bot": {}, "hidechans": {}, "hideoper": {}, "invisible": {}, "oper": {},
	"regdeaf": {}, "stripcolor": {}, "noctcp": {}, "wallops": {}, "hideidle": {},
}

func whitelistedModeArgs(u *entity.User) []string {
	var out []string
	for mv := range u.Modes {
		if _, ok := whitelistedUmodes[mv.Mode]; ok {
			out = append(out, "+"+mv.Mode)
		}
	}
	return out
}

// ensureRelaySubserver returns the SID of the relay subserver representing
// homeNet's clones on target, spawning it first if none exists yet,
// under the per-network server spawn lock.
func (m *Manager) ensureRelaySubserver(homeNet string, target *NetworkHandle) (string, error) {
	m.mu.RLock()
	if sid, ok := m.relayServers[target.Name][homeNet]; ok {
		m.mu.RUnlock()
		return sid, nil
	}
	m.mu.RUnlock()

	var sid string
	err := target.withServerSpawnLock(m.cfg.SpawnLockTimeoutDuration(), func() error {
		m.mu.RLock()
		if existing, ok := m.relayServers[target.Name][homeNet]; ok {
			sid = existing
			m.mu.RUnlock()
			return nil
		}
		m.mu.RUnlock()

		name := strings.ToLower(homeNet) + "." + target.Cfg.NetName
		candidates := ids.ExpandSIDTemplate(target.Cfg.SIDRange)
		chosen := ""
		for _, c := range candidates {
			if _, taken := target.State.GetServer(c); !taken {
				chosen = c
				break
			}
		}
		if chosen == "" {
			if len(candidates) > 0 {
				return errors.Errorf("relay: no free SID for %s subserver on %s", homeNet, target.Name)
			}
			// Networks without a configured sidrange (ngIRCd, Clientbot) key
			// their servers by name; the name doubles as the id there.
			chosen = name
		}
		if err := target.Driver.SpawnServer(chosen, name, homeNet+" relay subserver"); err != nil {
			return errors.Wrap(err, "spawning relay subserver")
		}
		// Some drivers key the new server by name rather than the id we
		// passed; record whichever id actually landed in state, and tag it
		// as this home network's subserver.
		if _, ok := target.State.GetServer(chosen); !ok {
			if srv, ok := target.State.GetServerByName(name); ok {
				chosen = srv.SID
			}
		}
		if srv, ok := target.State.GetServer(chosen); ok {
			srv.Remote = homeNet
		}
		sid = chosen

		m.mu.Lock()
		if m.relayServers[target.Name] == nil {
			m.relayServers[target.Name] = make(map[string]string)
		}
		m.relayServers[target.Name][homeNet] = sid
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		return "", err
	}
	return sid, nil
}

// cloneUID returns the UID already spawned for (homeNet, homeUID) on
// target, if any.
func (m *Manager) cloneUID(homeNet, homeUID, target string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTarget, ok := m.relayUsers[CloneKey{HomeNetwork: homeNet, HomeUID: homeUID}]
	if !ok {
		return "", false
	}
	uid, ok := byTarget[target]
	return uid, ok
}

// isKnownClone reports whether uid, as seen on network, is a clone this
// manager spawned there (as opposed to a real local user).
func (m *Manager) isKnownClone(network, uid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, byTarget := range m.relayUsers {
		if byTarget[network] == uid {
			return true
		}
	}
	return false
}

// SpawnCloneIfNeeded returns the clone UID for (homeNet, homeUser) on
// target, spawning one under target's spawn lock on first sighting: the
// clone lives on homeNet's relay subserver on target, which is created
// first if needed.
func (m *Manager) SpawnCloneIfNeeded(homeNet string, homeUser *entity.User, target *NetworkHandle) (string, error) {
	if uid, ok := m.cloneUID(homeNet, homeUser.UID, target.Name); ok {
		return uid, nil
	}

	var cloneUID string
	err := target.withSpawnLock(m.cfg.SpawnLockTimeoutDuration(), func() error {
		if uid, ok := m.cloneUID(homeNet, homeUser.UID, target.Name); ok {
			cloneUID = uid
			return nil
		}

		sid, err := m.ensureRelaySubserver(homeNet, target)
		if err != nil {
			return err
		}

		rules := target.nickRules(homeNet, m.forceTag(homeNet, target.Name, homeUser.Nick))
		nick := NormalizeNick(homeNet, homeUser.Nick, rules)
		host := NormalizeHost(homeUser.DisplayedHost, true)
		ident := homeUser.Ident
		umodes := whitelistedModeArgs(homeUser)
		if homeUser.OperType != "" {
			umodes = append(umodes, "+hideoper")
		}

		uid, err := target.Driver.SpawnClient(nick, ident, host, homeUser.Realname, homeUser.IP, umodes, entity.Now().Unix(), sid)
		if err != nil {
			return errors.Wrap(err, "spawning relay clone")
		}
		if u, ok := target.State.GetUser(uid); ok {
			u.Remote = &entity.RemoteTag{Network: homeNet, UID: homeUser.UID}
			if homeUser.OperType != "" {
				u.OperType = homeUser.OperType + " (on " + homeNet + ")"
			}
		}

		m.mu.Lock()
		key := CloneKey{HomeNetwork: homeNet, HomeUID: homeUser.UID}
		if m.relayUsers[key] == nil {
			m.relayUsers[key] = make(map[string]string)
		}
		m.relayUsers[key][target.Name] = uid
		m.mu.Unlock()

		cloneUID = uid
		return nil
	})
	if err != nil {
		return "", err
	}
	return cloneUID, nil
}

// forceTag reports whether nick (homed on homeNet) should always carry a
// /homenet tag when relayed to target, per the relay_tag_nicks global and
// per-network switches and the forcetag_nicks glob list.
func (m *Manager) forceTag(homeNet, target, nick string) bool {
	if m.cfg != nil {
		if m.cfg.RelayTagNicks {
			return true
		}
		for _, pat := range m.cfg.ForcetagNicks {
			if ok, err := path.Match(pat, nick); err == nil && ok {
				return true
			}
		}
	}
	if tn, ok := m.network(target); ok && tn.Cfg.RelayTagNicks {
		return true
	}
	return false
}

// QuitClone removes every clone of (homeNet, homeUID) across all target
// networks, firing Quit on each target's driver, for the QUIT/KILL of a
// home user.
func (m *Manager) QuitClone(homeNet, homeUID, reason string) {
	m.mu.Lock()
	key := CloneKey{HomeNetwork: homeNet, HomeUID: homeUID}
	byTarget := m.relayUsers[key]
	delete(m.relayUsers, key)
	m.mu.Unlock()

	for targetName, uid := range byTarget {
		target, ok := m.network(targetName)
		if !ok {
			continue
		}
		_ = target.Driver.Quit(uid, reason)
	}
}

// HandleCloneKilled reacts to a clone being KILLed on its target network:
// a clone killed externally is re-spawned if possible, else treated as
// quit. Re-spawn is deferred to the next relayed event that needs the
// clone; here we only forget the stale mapping so SpawnCloneIfNeeded will
// recreate it.
func (m *Manager) HandleCloneKilled(target, cloneUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, byTarget := range m.relayUsers {
		if byTarget[target] == cloneUID {
			delete(byTarget, target)
			if len(byTarget) == 0 {
				delete(m.relayUsers, key)
			}
		}
	}
}

// QuitCloneIfNoSharedChannels removes a single clone from target once it
// no longer shares any channel with its home user, keeping the target's
// /lusers honest.
func (m *Manager) QuitCloneIfNoSharedChannels(homeNet, homeUID, target string) {
	cloneUID, ok := m.cloneUID(homeNet, homeUID, target)
	if !ok {
		return
	}
	th, ok := m.network(target)
	if !ok {
		return
	}
	u, ok := th.State.GetUser(cloneUID)
	if !ok || len(u.Channels) > 0 {
		return
	}
	_ = th.Driver.Quit(cloneUID, "clone no longer shares a relayed channel")
	m.mu.Lock()
	key := CloneKey{HomeNetwork: homeNet, HomeUID: homeUID}
	delete(m.relayUsers[key], target)
	if len(m.relayUsers[key]) == 0 {
		delete(m.relayUsers, key)
	}
	m.mu.Unlock()
}
