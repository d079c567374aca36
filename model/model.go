package model

import (
	"encoding/json"
	"time"
)

// Phase gates quiz flow. It is owned by the server, clients only
// mirror it.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseReady    Phase = "ready"
	PhaseStarted  Phase = "started"
	PhaseFinished Phase = "finished"
)

// EventType is the closed vocabulary of domain events on the wire.
type EventType string

const (
	EventJoin         EventType = "join"
	EventClick        EventType = "click"
	EventHostSetState EventType = "host_set_state"
	EventState        EventType = "state"
	EventLeave        EventType = "leave"
	EventError        EventType = "error"
	EventCreateRoom   EventType = "create_room"
	EventJoinTeam     EventType = "join_team"
	EventCreateTeam   EventType = "create_team"
	EventAdminAuth    EventType = "admin_auth"

	EventRoomCreated           EventType = "room_created"
	EventJoinSuccess           EventType = "join_success"
	EventJoinError             EventType = "join_error"
	EventAdminReconnect        EventType = "admin_reconnect"
	EventAdminReconnectSuccess EventType = "admin_reconnect_success"
	EventAdminReconnectError   EventType = "admin_reconnect_error"
	EventTeamCreated           EventType = "team_created"
	EventPlayerJoined          EventType = "player_joined"
	EventPlayerLeft            EventType = "player_left"
	EventTeamJoined            EventType = "team_joined"
	EventPhaseChanged          EventType = "phase_changed"

	EventStartQuestion  EventType = "start_question"
	EventAnswerReceived EventType = "answer_received"
	EventShowAnswer     EventType = "show_answer"
	EventNextQuestion   EventType = "next_question"
)

// Role of a user within a room.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

type Player struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ButtonID    string    `json:"buttonId,omitempty"`
	Name        string    `json:"name"`
	ClickCount  int       `json:"clickCount"`
	FalseStarts int       `json:"falseStarts"`
	LastClick   time.Time `json:"lastClick"`
	Connected   bool      `json:"connected"`
}

type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Players   []string  `json:"players"` // member user IDs, in join order
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room is the authoritative server-side quiz session as mirrored by
// the client.
type Room struct {
	ID        string             `json:"id"`
	Code      string             `json:"code"`
	Phase     Phase              `json:"phase"`
	Players   map[string]*Player `json:"players"`
	Teams     map[string]*Team   `json:"teams"`
	EnableAt  time.Time          `json:"enableAt"`
	CreatedAt time.Time          `json:"createdAt"`

	QuestionActive    bool      `json:"questionActive"`
	FirstAnswerer     string    `json:"firstAnswerer"`
	CorrectAnswer     string    `json:"correctAnswer"`
	QuestionStartTime time.Time `json:"questionStartTime"`
	QuestionDuration  int       `json:"questionDuration,omitempty"` // seconds
	TimeRemaining     int       `json:"timeRemaining,omitempty"`    // seconds
}

// Clone returns a deep copy. Room snapshots handed to consumers must
// never alias a room still being patched.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.Players != nil {
		c.Players = make(map[string]*Player, len(r.Players))
		for id, p := range r.Players {
			cp := *p
			c.Players[id] = &cp
		}
	}
	if r.Teams != nil {
		c.Teams = make(map[string]*Team, len(r.Teams))
		for id, tm := range r.Teams {
			ct := *tm
			ct.Players = append([]string(nil), tm.Players...)
			c.Teams[id] = &ct
		}
	}
	return &c
}

// User is the local participant identity. It never travels as a
// whole object, its fields feed individual event fields.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
	RoomCode string `json:"roomCode,omitempty"`
	TeamID   string `json:"teamId,omitempty"`
}

// AdminRecord is the remembered admin identity used for room
// creation attribution and silent reconnection. Token is the
// one-time secret returned by room_created.
type AdminRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token,omitempty"`
}

// Event is the flat domain event exchanged with the server. Which
// fields are set depends on Type.
type Event struct {
	Type     EventType       `json:"type"`
	QuizID   string          `json:"quizId,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	ButtonID string          `json:"buttonId,omitempty"`
	Phase    Phase           `json:"phase,omitempty"`
	DelayMs  int             `json:"delayMs,omitempty"`
	TsClient int64           `json:"tsClient,omitempty"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	RoomCode   string `json:"roomCode,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	TeamID     string `json:"teamId,omitempty"`
	TeamName   string `json:"teamName,omitempty"`
	TeamColor  string `json:"teamColor,omitempty"`
	Password   string `json:"password,omitempty"`
	AdminToken string `json:"adminToken,omitempty"`
	AdminName  string `json:"adminName,omitempty"`
	AdminEmail string `json:"adminEmail,omitempty"`

	Answer        string `json:"answer,omitempty"`
	CorrectAnswer string `json:"correctAnswer,omitempty"`
	IsCorrect     bool   `json:"isCorrect,omitempty"`
}

// MessageType classifies transport envelopes delivered to message
// handlers.
type MessageType string

const (
	MessageEvent MessageType = "message"
	MessageError MessageType = "error"
	MessageClose MessageType = "close"
)

// Message is the envelope the transport hands to registered
// handlers. Data is set for MessageEvent, Error for MessageError.
type Message struct {
	Type  MessageType `json:"type"`
	Data  *Event      `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}
