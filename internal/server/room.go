package server

import (
	"sync"

	"github.com/npezzotti/go-tweetchat/internal/stats"
)

// RoomRegistry maps a tweet id to the connections currently joined to it.
// Rooms are created on first join and dropped when their last member leaves.
type RoomRegistry struct {
	mu         sync.RWMutex
	rooms      map[string]map[*Client]struct{}
	membership map[*Client]map[string]struct{}
	stats      stats.StatsProvider
}

func NewRoomRegistry(su stats.StatsProvider) *RoomRegistry {
	return &RoomRegistry{
		rooms:      make(map[string]map[*Client]struct{}),
		membership: make(map[*Client]map[string]struct{}),
		stats:      su,
	}
}

// Add joins c to tweetId. It reports false if c was already a member.
func (r *RoomRegistry) Add(c *Client, tweetId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[tweetId]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[tweetId] = members
		r.stats.Incr(stats.NumActiveRooms)
	}

	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}

	joined, ok := r.membership[c]
	if !ok {
		joined = make(map[string]struct{})
		r.membership[c] = joined
	}
	joined[tweetId] = struct{}{}

	return true
}

// Remove takes c out of tweetId. It reports false if c was not a member.
func (r *RoomRegistry) Remove(c *Client, tweetId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.remove(c, tweetId)
}

// RemoveAll takes c out of every room and returns the rooms it left.
func (r *RoomRegistry) RemoveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]string, 0, len(r.membership[c]))
	for tweetId := range r.membership[c] {
		left = append(left, tweetId)
	}
	for _, tweetId := range left {
		r.remove(c, tweetId)
	}

	return left
}

func (r *RoomRegistry) remove(c *Client, tweetId string) bool {
	members, ok := r.rooms[tweetId]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}

	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, tweetId)
		r.stats.Decr(stats.NumActiveRooms)
	}

	if joined, ok := r.membership[c]; ok {
		delete(joined, tweetId)
		if len(joined) == 0 {
			delete(r.membership, c)
		}
	}

	return true
}

// Broadcast queues msg for every member of tweetId and returns how many
// members accepted it. An empty or unknown room is a no-op.
func (r *RoomRegistry) Broadcast(tweetId string, msg *ServerMessage) int {
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[tweetId]))
	for c := range r.rooms[tweetId] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.queueMessage(msg) {
			delivered++
		}
	}

	return delivered
}

func (r *RoomRegistry) IsMember(c *Client, tweetId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[tweetId][c]
	return ok
}

// Members returns the number of connections joined to tweetId.
func (r *RoomRegistry) Members(tweetId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[tweetId])
}

// Len returns the number of non-empty rooms.
func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// Rooms returns the ids of the rooms c has joined.
func (r *RoomRegistry) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.membership[c]))
	for tweetId := range r.membership[c] {
		ids = append(ids, tweetId)
	}
	return ids
}
