package ws

import (
	"sync"
)

// RoomManager tracks which connections are subscribed to which room.
type RoomManager struct {
	rooms map[string]map[*Client]struct{} // room code → clients
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

func (rm *RoomManager) AddClient(code string, cl *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok {
		room = make(map[*Client]struct{})
		rm.rooms[code] = room
	}
	room[cl] = struct{}{}
}

func (rm *RoomManager) RemoveClient(code string, cl *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[code]; ok {
		delete(room, cl)
		if len(room) == 0 {
			delete(rm.rooms, code)
		}
	}
}

// RemoveRoom drops the room and returns the clients that were in it.
func (rm *RoomManager) RemoveRoom(code string) []*Client {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok {
		return nil
	}
	delete(rm.rooms, code)

	clients := make([]*Client, 0, len(room))
	for cl := range room {
		clients = append(clients, cl)
	}
	return clients
}

// Clients returns a copy of the room's subscribers.
func (rm *RoomManager) Clients(code string) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room := rm.rooms[code]
	clients := make([]*Client, 0, len(room))
	for cl := range room {
		clients = append(clients, cl)
	}
	return clients
}

func (rm *RoomManager) Len(code string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms[code])
}
