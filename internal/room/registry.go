package room

import (
	"sort"
	"sync"
	"time"

	"cmelive/pkg/types"
)

// DefaultChatHistoryLimit bounds each room's chat buffer.
const DefaultChatHistoryLimit = 100

// IDForCourse derives the room identifier for a course.
func IDForCourse(courseID string) string {
	return "course-" + courseID
}

// state is the live record for one course's session. It is owned by the
// Registry and only ever touched under the Registry lock.
type state struct {
	id            string
	courseID      string
	participants  map[string]*types.Participant // connection id -> participant
	instructor    string                        // connection id, "" when vacant
	live          bool
	liveStartedAt *time.Time
	liveEndedAt   *time.Time
	chat          []types.ChatMessage
	createdAt     time.Time
}

// Registry is the authoritative in-memory map from room id to room state.
// It is exclusively owned by the session gateway; every method is atomic
// under one lock, and methods that mutate also capture their broadcast
// recipients in the same critical section, so no occupant can observe a
// broadcast inconsistent with room state at time of send.
//
// Invariants:
//   - a room exists iff it has at least one participant;
//   - the instructor slot is empty or names a present participant, and once
//     cleared is only refilled by a later instructor-capable join;
//   - the chat buffer never exceeds the configured limit (FIFO eviction).
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*state
	memberships map[string]map[string]struct{} // connection id -> room ids, for O(rooms joined) cleanup
	chatLimit   int
}

// NewRegistry creates an empty registry. A chatLimit of 0 or less selects
// the default.
func NewRegistry(chatLimit int) *Registry {
	if chatLimit <= 0 {
		chatLimit = DefaultChatHistoryLimit
	}
	return &Registry{
		rooms:       make(map[string]*state),
		memberships: make(map[string]map[string]struct{}),
		chatLimit:   chatLimit,
	}
}

// JoinResult is the snapshot captured atomically with a join.
type JoinResult struct {
	RoomID           string
	Participant      types.Participant
	Participants     []types.Participant
	IsLive           bool
	ChatHistory      []types.ChatMessage
	BecameInstructor bool
	Others           []string // connection ids of occupants present before the join
}

// Join adds the participant to the course's room, creating the room lazily
// on first join. An instructor-capable participant claims the instructor
// slot if it is vacant.
func (r *Registry) Join(courseID, connID string, p types.Participant) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID := IDForCourse(courseID)
	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &state{
			id:           roomID,
			courseID:     courseID,
			participants: make(map[string]*types.Participant),
			createdAt:    time.Now(),
		}
		r.rooms[roomID] = rm
	}

	// Exclude the joiner so a duplicate join never lists or notifies
	// itself.
	others := make([]string, 0, len(rm.participants))
	for id := range rm.participants {
		if id != connID {
			others = append(others, id)
		}
	}

	copied := p
	rm.participants[connID] = &copied

	became := false
	if p.IsInstructor && rm.instructor == "" {
		rm.instructor = connID
		became = true
	}

	if r.memberships[connID] == nil {
		r.memberships[connID] = make(map[string]struct{})
	}
	r.memberships[connID][roomID] = struct{}{}

	return JoinResult{
		RoomID:           roomID,
		Participant:      copied,
		Participants:     participantList(rm.participants),
		IsLive:           rm.live,
		ChatHistory:      append([]types.ChatMessage(nil), rm.chat...),
		BecameInstructor: became,
		Others:           others,
	}
}

// Departure describes one room a connection left, captured atomically with
// the removal.
type Departure struct {
	RoomID      string
	CourseID    string
	Participant types.Participant
	LiveEnded   bool // the leaver held the instructor slot of a live room
	EndedAt     time.Time
	Remaining   []string // connection ids still in the room
	RoomDeleted bool
}

// RemoveConnection removes the connection from every room it joined,
// returning one departure per room. Rooms left empty are deleted; if the
// departing connection held the instructor slot of a live room, the live
// flag is force-cleared.
func (r *Registry) RemoveConnection(connID string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.memberships[connID]
	if len(joined) == 0 {
		delete(r.memberships, connID)
		return nil
	}

	roomIDs := make([]string, 0, len(joined))
	for roomID := range joined {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)

	var departures []Departure
	for _, roomID := range roomIDs {
		if d, ok := r.removeLocked(roomID, connID); ok {
			departures = append(departures, d)
		}
	}
	return departures
}

func (r *Registry) removeLocked(roomID, connID string) (Departure, bool) {
	rm, exists := r.rooms[roomID]
	if !exists {
		return Departure{}, false
	}
	p, member := rm.participants[connID]
	if !member {
		return Departure{}, false
	}

	delete(rm.participants, connID)
	if members := r.memberships[connID]; members != nil {
		delete(members, roomID)
		if len(members) == 0 {
			delete(r.memberships, connID)
		}
	}

	d := Departure{
		RoomID:      roomID,
		CourseID:    rm.courseID,
		Participant: *p,
	}

	if rm.instructor == connID {
		rm.instructor = ""
		if rm.live {
			now := time.Now()
			rm.live = false
			rm.liveEndedAt = &now
			d.LiveEnded = true
			d.EndedAt = now
		}
	}

	d.Remaining = connIDs(rm.participants)

	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		d.RoomDeleted = true
	}

	return d, true
}

// LiveResult is captured atomically with a live-flag flip.
type LiveResult struct {
	Changed   bool
	By        *types.Participant // the caller's participant record, if a member
	At        time.Time
	Occupants []string // all occupant connection ids, caller included
}

// SetLive flips the room's live flag. Changed is false when the flag already
// had the requested value, which keeps concurrent duplicate calls from
// broadcasting twice.
func (r *Registry) SetLive(roomID, connID string, live bool) (LiveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return LiveResult{}, ErrRoomNotFound
	}

	result := LiveResult{
		At:        time.Now(),
		Occupants: connIDs(rm.participants),
	}
	if p, member := rm.participants[connID]; member {
		copied := *p
		result.By = &copied
	}

	if rm.live == live {
		return result, nil
	}

	rm.live = live
	if live {
		at := result.At
		rm.liveStartedAt = &at
	} else {
		at := result.At
		rm.liveEndedAt = &at
	}
	result.Changed = true

	return result, nil
}

// ChatResult is captured atomically with a chat append.
type ChatResult struct {
	Message   types.ChatMessage
	Occupants []string // all occupant connection ids, sender included
}

// AppendChat appends a message to the room's buffer, trimming the oldest
// entries beyond the limit. The sender must be a member.
func (r *Registry) AppendChat(roomID, connID string, msg types.ChatMessage) (ChatResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return ChatResult{}, ErrRoomNotFound
	}
	if _, member := rm.participants[connID]; !member {
		return ChatResult{}, ErrNotInRoom
	}

	rm.chat = append(rm.chat, msg)
	if len(rm.chat) > r.chatLimit {
		rm.chat = append([]types.ChatMessage(nil), rm.chat[len(rm.chat)-r.chatLimit:]...)
	}

	return ChatResult{
		Message:   msg,
		Occupants: connIDs(rm.participants),
	}, nil
}

// ToggleResult is captured atomically with a media-flag update.
type ToggleResult struct {
	Participant types.Participant
	Others      []string // occupant connection ids other than the caller
}

// SetVideo updates the participant's video flag.
func (r *Registry) SetVideo(roomID, connID string, enabled bool) (ToggleResult, error) {
	return r.setFlag(roomID, connID, func(p *types.Participant) { p.VideoEnabled = enabled })
}

// SetAudio updates the participant's audio flag.
func (r *Registry) SetAudio(roomID, connID string, enabled bool) (ToggleResult, error) {
	return r.setFlag(roomID, connID, func(p *types.Participant) { p.AudioEnabled = enabled })
}

// SetScreenShare updates the participant's screen-sharing flag.
func (r *Registry) SetScreenShare(roomID, connID string, enabled bool) (ToggleResult, error) {
	return r.setFlag(roomID, connID, func(p *types.Participant) { p.ScreenSharing = enabled })
}

func (r *Registry) setFlag(roomID, connID string, update func(*types.Participant)) (ToggleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return ToggleResult{}, ErrRoomNotFound
	}
	p, member := rm.participants[connID]
	if !member {
		return ToggleResult{}, ErrNotInRoom
	}

	update(p)

	others := make([]string, 0, len(rm.participants)-1)
	for id := range rm.participants {
		if id != connID {
			others = append(others, id)
		}
	}

	return ToggleResult{Participant: *p, Others: others}, nil
}

// Info returns the administrative projection of one room.
func (r *Registry) Info(roomID string) (types.RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return types.RoomInfo{}, false
	}
	return r.infoLocked(rm), true
}

// Rooms returns the administrative projection of every active room, ordered
// by room id.
func (r *Registry) Rooms() []types.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]types.RoomInfo, 0, len(r.rooms))
	for _, rm := range r.rooms {
		infos = append(infos, r.infoLocked(rm))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RoomID < infos[j].RoomID })
	return infos
}

func (r *Registry) infoLocked(rm *state) types.RoomInfo {
	info := types.RoomInfo{
		RoomID:           rm.id,
		CourseID:         rm.courseID,
		ParticipantCount: len(rm.participants),
		IsLive:           rm.live,
		CreatedAt:        rm.createdAt,
		LiveStartedAt:    rm.liveStartedAt,
	}
	if rm.instructor != "" {
		if p, ok := rm.participants[rm.instructor]; ok {
			info.Instructor = p.Name
		}
	}
	return info
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := 0
	liveRooms := 0
	for _, rm := range r.rooms {
		participants += len(rm.participants)
		if rm.live {
			liveRooms++
		}
	}

	return map[string]int{
		"total_rooms":        len(r.rooms),
		"total_participants": participants,
		"live_rooms":         liveRooms,
	}
}

func connIDs(participants map[string]*types.Participant) []string {
	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	return ids
}

func participantList(participants map[string]*types.Participant) []types.Participant {
	list := make([]types.Participant, 0, len(participants))
	for _, p := range participants {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.Before(list[j].JoinedAt) })
	return list
}
