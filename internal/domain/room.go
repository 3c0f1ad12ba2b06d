package domain

type RoomName string

// Room is the relay-side view of a watch room. The catalog entry (video
// source, episodes, persistence) lives outside this core; the relay only
// needs a name and an owner for moderation.
type Room struct {
	Name  RoomName      `json:"name"`
	Owner ParticipantID `json:"owner"`
}
