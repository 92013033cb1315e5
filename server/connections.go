package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Connections is the registry tying sockets to players and races. One
// mutex guards all four maps; every mutation keeps them consistent. A
// player holds at most one socket: re-authenticating from a new socket
// evicts the old one and moves its race subscriptions over.
type Connections struct {
	mu          sync.Mutex
	clients     map[string]*Client             // socketID -> client
	players     map[string]string              // playerID -> socketID
	identities  map[string]string              // socketID -> playerID
	races       map[string]map[string]struct{} // raceID -> socketIDs
	memberships map[string]map[string]struct{} // socketID -> raceIDs

	log zerolog.Logger
}

// NewConnections creates an empty registry.
func NewConnections(logger zerolog.Logger) *Connections {
	return &Connections{
		clients:     make(map[string]*Client),
		players:     make(map[string]string),
		identities:  make(map[string]string),
		races:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
		log:         logger.With().Str("component", "connections").Logger(),
	}
}

// Add registers a freshly upgraded client.
func (cs *Connections) Add(c *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.clients[c.ID] = c
	activeConnections.Set(float64(len(cs.clients)))
	cs.log.Debug().Str("socket_id", c.ID).Msg("socket connected")
}

// Remove unregisters a client and clears every mapping that referenced
// it. Idempotent.
func (cs *Connections) Remove(socketID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.clients[socketID]; !ok {
		return
	}
	delete(cs.clients, socketID)
	if playerID, ok := cs.identities[socketID]; ok {
		delete(cs.identities, socketID)
		if cs.players[playerID] == socketID {
			delete(cs.players, playerID)
		}
	}
	for raceID := range cs.memberships[socketID] {
		delete(cs.races[raceID], socketID)
		if len(cs.races[raceID]) == 0 {
			delete(cs.races, raceID)
		}
	}
	delete(cs.memberships, socketID)
	activeConnections.Set(float64(len(cs.clients)))
	cs.log.Debug().Str("socket_id", socketID).Msg("socket removed")
}

// Authenticate binds a socket to a player. If the player already held a
// different socket that socket is unbound and returned so the caller can
// notify and close it; its race subscriptions carry over to the new
// socket so the broadcast stream follows the player across a reconnect.
func (cs *Connections) Authenticate(socketID, playerID string) (evicted *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.clients[socketID]; !ok {
		return nil
	}
	if prior, ok := cs.players[playerID]; ok && prior != socketID {
		evicted = cs.clients[prior]
		cs.transferLocked(prior, socketID)
	}
	cs.players[playerID] = socketID
	cs.identities[socketID] = playerID
	return evicted
}

// transferLocked unbinds an evicted socket and hands its race
// memberships to the replacement.
func (cs *Connections) transferLocked(from, to string) {
	delete(cs.clients, from)
	if playerID, ok := cs.identities[from]; ok {
		delete(cs.identities, from)
		if cs.players[playerID] == from {
			delete(cs.players, playerID)
		}
	}
	for raceID := range cs.memberships[from] {
		delete(cs.races[raceID], from)
		cs.races[raceID][to] = struct{}{}
		if cs.memberships[to] == nil {
			cs.memberships[to] = make(map[string]struct{})
		}
		cs.memberships[to][raceID] = struct{}{}
	}
	delete(cs.memberships, from)
	activeConnections.Set(float64(len(cs.clients)))
}

// PlayerFor resolves the authenticated player behind a socket.
func (cs *Connections) PlayerFor(socketID string) (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	playerID, ok := cs.identities[socketID]
	return playerID, ok
}

// ClientFor resolves a player's current socket.
func (cs *Connections) ClientFor(playerID string) (*Client, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	socketID, ok := cs.players[playerID]
	if !ok {
		return nil, false
	}
	c, ok := cs.clients[socketID]
	return c, ok
}

// JoinRace subscribes a socket to a race's broadcast stream.
func (cs *Connections) JoinRace(socketID, raceID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.clients[socketID]; !ok {
		return
	}
	if cs.races[raceID] == nil {
		cs.races[raceID] = make(map[string]struct{})
	}
	cs.races[raceID][socketID] = struct{}{}
	if cs.memberships[socketID] == nil {
		cs.memberships[socketID] = make(map[string]struct{})
	}
	cs.memberships[socketID][raceID] = struct{}{}
}

// LeaveRace unsubscribes a socket from a race.
func (cs *Connections) LeaveRace(socketID, raceID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.races[raceID], socketID)
	if len(cs.races[raceID]) == 0 {
		delete(cs.races, raceID)
	}
	delete(cs.memberships[socketID], raceID)
}

// DropRace unsubscribes every socket from a race, after it completes.
func (cs *Connections) DropRace(raceID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for socketID := range cs.races[raceID] {
		delete(cs.memberships[socketID], raceID)
	}
	delete(cs.races, raceID)
}

// RaceFor reports the race a socket is subscribed to. False when the
// socket is in none (or, degenerately, several).
func (cs *Connections) RaceFor(socketID string) (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.memberships[socketID]) != 1 {
		return "", false
	}
	for raceID := range cs.memberships[socketID] {
		return raceID, true
	}
	return "", false
}

// Members snapshots the clients subscribed to a race.
func (cs *Connections) Members(raceID string) []*Client {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	members := make([]*Client, 0, len(cs.races[raceID]))
	for socketID := range cs.races[raceID] {
		if c, ok := cs.clients[socketID]; ok {
			members = append(members, c)
		}
	}
	return members
}

// All snapshots every registered client.
func (cs *Connections) All() []*Client {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return lo.Values(cs.clients)
}

// Count reports registered clients, for the health probe.
func (cs *Connections) Count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.clients)
}

// Stale returns clients whose last activity is older than olderThan.
// The caller disconnects them; Remove happens via the read pump exit.
func (cs *Connections) Stale(olderThan time.Duration, now time.Time) []*Client {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cutoff := now.Add(-olderThan)
	return lo.Filter(lo.Values(cs.clients), func(c *Client, _ int) bool {
		return c.LastSeen().Before(cutoff)
	})
}
