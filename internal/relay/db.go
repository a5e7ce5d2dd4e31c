// Package relay implements the relay manager: the channel link table,
// clone/subserver lifecycle, nick/host normalisation, join/mode/text
// relaying, CLAIM enforcement, netsplit handling and nick collision
// handling. Registries are RWMutex-guarded maps keyed by id, snapshotted
// before cross-network iteration; the link table persists via
// gopkg.in/yaml.v3 like the rest of this daemon's on-disk state.
package relay

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LinkKey identifies a channel by its home network and name.
type LinkKey struct {
	Network string
	Channel string
}

// LinkEntry is one channel link table row.
type LinkEntry struct {
	HomeNetwork string    `yaml:"home_network"`
	Channel     string    `yaml:"channel"`
	Links       []LinkKey `yaml:"links"`
	Claim       []string  `yaml:"claim"`
	BlockedNets []string  `yaml:"blocked_nets"`
	Creator     string    `yaml:"creator"`
	TS          int64     `yaml:"ts"`
}

// HasLink reports whether (net, chan) is one of entry's linked leaves.
func (e *LinkEntry) HasLink(network, channel string) bool {
	for _, l := range e.Links {
		if l.Network == network && l.Channel == channel {
			return true
		}
	}
	return false
}

// ClaimedBy reports whether network is in entry's CLAIM set.
func (e *LinkEntry) ClaimedBy(network string) bool {
	for _, n := range e.Claim {
		if n == network {
			return true
		}
	}
	return false
}

// DB is the process-wide channel link table (a single global
// registry model: one lock, read/write under it).
type DB struct {
	mu      sync.RWMutex
	entries map[LinkKey]*LinkEntry
	path    string
}

// NewDB creates an empty, unpersisted link table.
func NewDB() *DB {
	return &DB{entries: make(map[LinkKey]*LinkEntry)}
}

// Load reads a previously-persisted table from path (the relay DB
// file). A missing file yields an empty table, not an error, since the
// first run of a freshly configured daemon has none yet.
func Load(path string) (*DB, error) {
	db := &DB{entries: make(map[LinkKey]*LinkEntry), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, errors.Wrap(err, "reading relay db")
	}
	var entries []*LinkEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "parsing relay db")
	}
	for _, e := range entries {
		db.entries[LinkKey{Network: e.HomeNetwork, Channel: e.Channel}] = e
	}
	return db, nil
}

// Save persists the table to its configured path.
func (db *DB) Save() error {
	db.mu.RLock()
	entries := make([]*LinkEntry, 0, len(db.entries))
	for _, e := range db.entries {
		entries = append(entries, e)
	}
	path := db.path
	db.mu.RUnlock()

	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "marshalling relay db")
	}
	return os.WriteFile(path, data, 0o600)
}

// CreateHome registers (network, channel) as a new home channel, owned by
// creator, with no links yet.
func (db *DB) CreateHome(network, channel, creator string, ts int64) *LinkEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	e := &LinkEntry{HomeNetwork: network, Channel: channel, Creator: creator, TS: ts}
	db.entries[LinkKey{Network: network, Channel: channel}] = e
	return e
}

// AddLink links (net, chan) to the home channel (homeNet, homeChan).
func (db *DB) AddLink(homeNet, homeChan, net, chanName string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[LinkKey{Network: homeNet, Channel: homeChan}]
	if !ok {
		return false
	}
	if e.HasLink(net, chanName) {
		return true
	}
	e.Links = append(e.Links, LinkKey{Network: net, Channel: chanName})
	return true
}

// GetRelay resolves (net, chan) to its canonical link key: it returns the
// canonical (home) key whose link set contains (net, chan), or (net,
// chan) itself if that pair is already a home. ok is false if neither a
// home nor a link entry exists for this pair.
func (db *DB) GetRelay(network, channel string) (homeNet, homeChan string, ok bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if e, exists := db.entries[LinkKey{Network: network, Channel: channel}]; exists {
		return e.HomeNetwork, e.Channel, true
	}
	for _, e := range db.entries {
		if e.HasLink(network, channel) {
			return e.HomeNetwork, e.Channel, true
		}
	}
	return "", "", false
}

// Entry returns the link entry for a home (network, channel) pair.
func (db *DB) Entry(homeNet, homeChan string) (*LinkEntry, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[LinkKey{Network: homeNet, Channel: homeChan}]
	return e, ok
}

// LeavesOf returns every (network, channel) linked to a home channel,
// safe to range over without holding db's lock.
func (db *DB) LeavesOf(homeNet, homeChan string) []LinkKey {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[LinkKey{Network: homeNet, Channel: homeChan}]
	if !ok {
		return nil
	}
	out := make([]LinkKey, len(e.Links))
	copy(out, e.Links)
	return out
}

// RemoveLink unlinks (net, chan) from its home entry.
func (db *DB) RemoveLink(homeNet, homeChan, net, chanName string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[LinkKey{Network: homeNet, Channel: homeChan}]
	if !ok {
		return
	}
	kept := e.Links[:0]
	for _, l := range e.Links {
		if !(l.Network == net && l.Channel == chanName) {
			kept = append(kept, l)
		}
	}
	e.Links = kept
}

// HomesWithNetwork returns every home entry whose home network is
// network, for disconnect-announcement purposes
// Announcements).
func (db *DB) HomesWithNetwork(network string) []*LinkEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*LinkEntry
	for _, e := range db.entries {
		if e.HomeNetwork == network {
			out = append(out, e)
		}
	}
	return out
}
