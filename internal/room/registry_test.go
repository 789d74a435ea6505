package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"cmelive/pkg/types"
)

func participant(userID string, instructor bool) types.Participant {
	return types.Participant{
		UserID:       userID,
		Name:         "User " + userID,
		Email:        userID + "@example.com",
		Role:         "Learner",
		IsInstructor: instructor,
		VideoEnabled: true,
		AudioEnabled: true,
		JoinedAt:     time.Now(),
	}
}

func TestJoinCreatesRoomLazily(t *testing.T) {
	r := NewRegistry(0)

	if got := len(r.Rooms()); got != 0 {
		t.Fatalf("expected no rooms, got %d", got)
	}

	result := r.Join("course-1", "conn-1", participant("u1", false))

	if result.RoomID != "course-course-1" {
		t.Errorf("unexpected room id: %s", result.RoomID)
	}
	if len(result.Participants) != 1 {
		t.Errorf("expected 1 participant, got %d", len(result.Participants))
	}
	if len(result.Others) != 0 {
		t.Errorf("expected no prior occupants, got %d", len(result.Others))
	}
	if got := len(r.Rooms()); got != 1 {
		t.Fatalf("expected 1 room, got %d", got)
	}
}

func TestJoinSnapshotIncludesExistingOccupants(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", false))
	result := r.Join("course-1", "conn-2", participant("u2", false))

	if len(result.Participants) != 2 {
		t.Errorf("expected 2 participants, got %d", len(result.Participants))
	}
	if len(result.Others) != 1 || result.Others[0] != "conn-1" {
		t.Errorf("expected others [conn-1], got %v", result.Others)
	}
}

func TestInstructorSlotFirstClaimOnly(t *testing.T) {
	r := NewRegistry(0)

	first := r.Join("course-1", "conn-1", participant("u1", true))
	if !first.BecameInstructor {
		t.Error("first instructor-capable join should claim the slot")
	}

	second := r.Join("course-1", "conn-2", participant("u2", true))
	if second.BecameInstructor {
		t.Error("occupied slot must not be reclaimed")
	}
}

func TestInstructorSlotNotClaimedByLearner(t *testing.T) {
	r := NewRegistry(0)

	result := r.Join("course-1", "conn-1", participant("u1", false))
	if result.BecameInstructor {
		t.Error("learner must not claim the instructor slot")
	}

	info, ok := r.Info("course-course-1")
	if !ok {
		t.Fatal("room should exist")
	}
	if info.Instructor != "" {
		t.Errorf("expected vacant instructor slot, got %q", info.Instructor)
	}
}

func TestInstructorSlotVacatedNotReassigned(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", true))
	r.Join("course-1", "conn-2", participant("u2", true))

	if departures := r.RemoveConnection("conn-1"); len(departures) != 1 {
		t.Fatalf("expected 1 departure, got %d", len(departures))
	}

	// The remaining instructor-capable occupant does not inherit the slot.
	info, _ := r.Info("course-course-1")
	if info.Instructor != "" {
		t.Errorf("slot should stay vacant after instructor leaves, got %q", info.Instructor)
	}

	// A later instructor-capable join claims the vacant slot.
	third := r.Join("course-1", "conn-3", participant("u3", true))
	if !third.BecameInstructor {
		t.Error("vacant slot should be claimable by a new instructor join")
	}
}

func TestLastDepartureDeletesRoom(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", false))
	departures := r.RemoveConnection("conn-1")
	if len(departures) != 1 {
		t.Fatalf("expected 1 departure, got %d", len(departures))
	}
	if !departures[0].RoomDeleted {
		t.Error("room emptied by the departure should be deleted")
	}
	if got := len(r.Rooms()); got != 0 {
		t.Errorf("expected no rooms, got %d", got)
	}
}

func TestRejoinSameConnection(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", false))
	again := r.Join("course-1", "conn-1", participant("u1", false))

	if len(again.Others) != 0 {
		t.Errorf("rejoining connection must not appear in Others: %v", again.Others)
	}
	if len(again.Participants) != 1 {
		t.Errorf("rejoin must not duplicate the participant, got %d", len(again.Participants))
	}

	info, _ := r.Info("course-course-1")
	if info.ParticipantCount != 1 {
		t.Errorf("expected 1 participant, got %d", info.ParticipantCount)
	}
}

func TestSetLiveLifecycle(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", true))
	r.Join("course-1", "conn-2", participant("u2", false))

	result, err := r.SetLive("course-course-1", "conn-1", true)
	if err != nil {
		t.Fatalf("SetLive failed: %v", err)
	}
	if !result.Changed {
		t.Error("first start should report Changed")
	}
	if result.By == nil || result.By.UserID != "u1" {
		t.Errorf("expected caller participant in result, got %+v", result.By)
	}
	if len(result.Occupants) != 2 {
		t.Errorf("expected 2 occupants, got %d", len(result.Occupants))
	}

	// Duplicate start is a no-op.
	dup, err := r.SetLive("course-course-1", "conn-2", true)
	if err != nil {
		t.Fatalf("duplicate SetLive failed: %v", err)
	}
	if dup.Changed {
		t.Error("duplicate start must not report Changed")
	}

	ended, err := r.SetLive("course-course-1", "conn-1", false)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if !ended.Changed {
		t.Error("end should report Changed")
	}

	info, _ := r.Info("course-course-1")
	if info.IsLive {
		t.Error("room should no longer be live")
	}
}

func TestSetLiveUnknownRoom(t *testing.T) {
	r := NewRegistry(0)
	if _, err := r.SetLive("nope", "conn-1", true); err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAppendChatRequiresMembership(t *testing.T) {
	r := NewRegistry(0)
	r.Join("course-1", "conn-1", participant("u1", false))

	if _, err := r.AppendChat("course-course-1", "outsider", types.ChatMessage{Message: "hi"}); err != ErrNotInRoom {
		t.Errorf("expected ErrNotInRoom, got %v", err)
	}
	if _, err := r.AppendChat("nope", "conn-1", types.ChatMessage{Message: "hi"}); err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestChatBufferTrimsOldest(t *testing.T) {
	r := NewRegistry(3)
	r.Join("course-1", "conn-1", participant("u1", false))

	for i := 0; i < 5; i++ {
		msg := types.ChatMessage{ID: fmt.Sprintf("m%d", i), Message: fmt.Sprintf("message %d", i)}
		if _, err := r.AppendChat("course-course-1", "conn-1", msg); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	snapshot := r.Join("course-1", "conn-2", participant("u2", false))
	if len(snapshot.ChatHistory) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snapshot.ChatHistory))
	}
	if snapshot.ChatHistory[0].ID != "m2" || snapshot.ChatHistory[2].ID != "m4" {
		t.Errorf("oldest messages should be evicted first: %+v", snapshot.ChatHistory)
	}
}

func TestChatHistoryDiesWithRoom(t *testing.T) {
	// The last leave deletes the room, so a rejoin starts with empty chat.
	r := NewRegistry(0)
	r.Join("course-1", "conn-1", participant("u1", false))
	r.AppendChat("course-course-1", "conn-1", types.ChatMessage{ID: "m1", Message: "hello"})
	r.RemoveConnection("conn-1")

	rejoin := r.Join("course-1", "conn-2", participant("u2", false))
	if len(rejoin.ChatHistory) != 0 {
		t.Errorf("expected empty chat after room deletion, got %d messages", len(rejoin.ChatHistory))
	}
}

func TestRemoveConnectionCleansAllRooms(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", false))
	r.Join("course-2", "conn-1", participant("u1", false))
	r.Join("course-2", "conn-2", participant("u2", false))

	departures := r.RemoveConnection("conn-1")
	if len(departures) != 2 {
		t.Fatalf("expected 2 departures, got %d", len(departures))
	}

	// Departures are ordered by room id.
	if departures[0].RoomID != "course-course-1" || departures[1].RoomID != "course-course-2" {
		t.Errorf("unexpected departure order: %s, %s", departures[0].RoomID, departures[1].RoomID)
	}
	if !departures[0].RoomDeleted {
		t.Error("course-1 room should be deleted")
	}
	if departures[1].RoomDeleted {
		t.Error("course-2 room still has an occupant")
	}
	if len(departures[1].Remaining) != 1 || departures[1].Remaining[0] != "conn-2" {
		t.Errorf("expected remaining [conn-2], got %v", departures[1].Remaining)
	}

	if got := len(r.Rooms()); got != 1 {
		t.Errorf("expected 1 room left, got %d", got)
	}
}

func TestRemoveConnectionUnknown(t *testing.T) {
	r := NewRegistry(0)
	if departures := r.RemoveConnection("ghost"); departures != nil {
		t.Errorf("expected nil departures, got %v", departures)
	}
}

func TestInstructorDisconnectEndsLive(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", true))
	r.Join("course-1", "conn-2", participant("u2", false))
	if _, err := r.SetLive("course-course-1", "conn-1", true); err != nil {
		t.Fatalf("SetLive failed: %v", err)
	}

	departures := r.RemoveConnection("conn-1")
	if len(departures) != 1 {
		t.Fatalf("expected 1 departure, got %d", len(departures))
	}
	if !departures[0].LiveEnded {
		t.Error("instructor disconnect from a live room should end the session")
	}
	if departures[0].EndedAt.IsZero() {
		t.Error("EndedAt should be stamped")
	}

	info, _ := r.Info("course-course-1")
	if info.IsLive {
		t.Error("room should no longer be live")
	}
}

func TestNonInstructorDisconnectKeepsLive(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", true))
	r.Join("course-1", "conn-2", participant("u2", false))
	r.SetLive("course-course-1", "conn-1", true)

	departures := r.RemoveConnection("conn-2")
	if len(departures) != 1 {
		t.Fatalf("expected 1 departure, got %d", len(departures))
	}
	if departures[0].LiveEnded {
		t.Error("learner disconnect must not end the live session")
	}

	info, _ := r.Info("course-course-1")
	if !info.IsLive {
		t.Error("room should still be live")
	}
}

func TestToggleFlags(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", false))
	r.Join("course-1", "conn-2", participant("u2", false))

	result, err := r.SetVideo("course-course-1", "conn-1", false)
	if err != nil {
		t.Fatalf("SetVideo failed: %v", err)
	}
	if result.Participant.VideoEnabled {
		t.Error("video flag should be off")
	}
	if len(result.Others) != 1 || result.Others[0] != "conn-2" {
		t.Errorf("expected others [conn-2], got %v", result.Others)
	}

	if _, err := r.SetAudio("course-course-1", "conn-1", false); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}
	if _, err := r.SetScreenShare("course-course-1", "conn-1", true); err != nil {
		t.Fatalf("SetScreenShare failed: %v", err)
	}

	snapshot := r.Join("course-1", "conn-3", participant("u3", false))
	for _, p := range snapshot.Participants {
		if p.UserID != "u1" {
			continue
		}
		if p.VideoEnabled || p.AudioEnabled || !p.ScreenSharing {
			t.Errorf("flags not persisted on participant: %+v", p)
		}
	}
}

func TestStats(t *testing.T) {
	r := NewRegistry(0)

	r.Join("course-1", "conn-1", participant("u1", true))
	r.Join("course-1", "conn-2", participant("u2", false))
	r.Join("course-2", "conn-3", participant("u3", false))
	r.SetLive("course-course-1", "conn-1", true)

	stats := r.Stats()
	if stats["total_rooms"] != 2 {
		t.Errorf("expected 2 rooms, got %d", stats["total_rooms"])
	}
	if stats["total_participants"] != 3 {
		t.Errorf("expected 3 participants, got %d", stats["total_participants"])
	}
	if stats["live_rooms"] != 1 {
		t.Errorf("expected 1 live room, got %d", stats["live_rooms"])
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", n)
			r.Join("course-1", connID, participant(fmt.Sprintf("u%d", n), false))
			r.AppendChat("course-course-1", connID, types.ChatMessage{ID: connID, Message: "hi"})
			r.RemoveConnection(connID)
		}(i)
	}
	wg.Wait()

	if got := len(r.Rooms()); got != 0 {
		t.Errorf("expected all rooms cleaned up, got %d", got)
	}
}
