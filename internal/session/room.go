package session

import (
	"slices"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// observer is one registered notification callback.
// roomID and channel track its current location and change when a replay
// returns a different channel. Both are guarded by the Registry mutex.
type observer struct {
	interestedInSelf bool
	notify           func(protocol.Notification)

	roomID  string
	channel string
	removed bool
}

// room groups the observers of every channel sharing one server-side room.
type room struct {
	id       string
	channels map[string][]*observer
}

func newRoom(id string) *room {
	return &room{id: id, channels: make(map[string][]*observer)}
}

func (r *room) add(channel string, o *observer) {
	r.channels[channel] = append(r.channels[channel], o)
	o.roomID = r.id
	o.channel = channel
}

// remove detaches o and reports whether its channel is now empty.
func (r *room) remove(channel string, o *observer) bool {
	list := r.channels[channel]
	i := slices.Index(list, o)
	if i < 0 {
		return len(list) == 0
	}

	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(r.channels, channel)
		return true
	}
	r.channels[channel] = list
	return false
}

// take detaches and returns every observer of channel.
func (r *room) take(channel string) []*observer {
	list := r.channels[channel]
	delete(r.channels, channel)
	return list
}

// observers returns a snapshot safe to iterate outside the lock.
func (r *room) observers(channel string) []*observer {
	return slices.Clone(r.channels[channel])
}

func (r *room) empty() bool {
	return len(r.channels) == 0
}

func (r *room) total() int {
	n := 0
	for _, list := range r.channels {
		n += len(list)
	}
	return n
}

// RoomInfo describes one room.
type RoomInfo struct {
	RoomID     string
	Total      int
	PerChannel map[string]int
}

func (r *room) info() RoomInfo {
	info := RoomInfo{RoomID: r.id, PerChannel: make(map[string]int, len(r.channels))}
	for channel, list := range r.channels {
		info.PerChannel[channel] = len(list)
		info.Total += len(list)
	}
	return info
}
