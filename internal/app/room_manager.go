package app

import (
	"sync"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
)

// RoomLoader builds the initial state of a room from durable storage.
type RoomLoader func() (domain.RoomInfo, []domain.ChatMessage, error)

type RoomSummary struct {
	GroupID     domain.GroupID `json:"group_id"`
	MemberCount int            `json:"member_count"`
}

// RoomManager keeps one live room per group. A room exists while it has at
// least one member; joins and leaves go through the manager so an emptied
// room is never handed to a new joiner.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.GroupID]core.RoomService
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.GroupID]core.RoomService)}
}

func (m *RoomManager) Get(group domain.GroupID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[group]
	return r, ok
}

func (m *RoomManager) IsLive(group domain.GroupID) bool {
	_, ok := m.Get(group)
	return ok
}

// Join adds ms to the group's room, creating the room with load on first use.
func (m *RoomManager) Join(group domain.GroupID, load RoomLoader, ms core.MemberSession) (core.RoomService, core.MemberSession, core.PublishResult, error) {
	var (
		info    domain.RoomInfo
		history []domain.ChatMessage
		loaded  bool
	)
	if !m.IsLive(group) {
		var err error
		if info, history, err = load(); err != nil {
			return nil, nil, core.PublishResult{}, err
		}
		loaded = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[group]
	if !ok {
		if !loaded {
			// dropped between the check and the lock
			var err error
			if info, history, err = load(); err != nil {
				return nil, nil, core.PublishResult{}, err
			}
		}
		room = core.NewRoomService(info, history)
		m.rooms[group] = room
	}
	replaced, res := room.Join(ms)
	return room, replaced, res, nil
}

// Leave removes pid and drops the room once it is empty.
func (m *RoomManager) Leave(group domain.GroupID, pid domain.ParticipantID) (core.RoomService, core.PublishResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[group]
	if !ok {
		return nil, core.PublishResult{}, false
	}
	_, res, left := room.Leave(pid)
	if room.MemberCount() == 0 {
		delete(m.rooms, group)
	}
	return room, res, left
}

func (m *RoomManager) List() []RoomSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomSummary, 0, len(m.rooms))
	for group, r := range m.rooms {
		out = append(out, RoomSummary{GroupID: group, MemberCount: r.MemberCount()})
	}
	return out
}

// StopRoom evicts everyone and forgets the room.
func (m *RoomManager) StopRoom(group domain.GroupID, reason string) []core.MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[group]
	if !ok {
		return nil
	}
	delete(m.rooms, group)
	return room.Evict(reason)
}
