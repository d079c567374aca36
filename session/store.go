package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adwski/quiz-session/model"
	"github.com/rs/zerolog"
)

const defaultAdminNickname = "Admin"

// ErrNoSnapshot is returned by Snapshots implementations when a
// durable record does not exist.
var ErrNoSnapshot = errors.New("snapshot not found")

type (
	// Snapshots is the durable keyed store behind the session: one
	// room snapshot and one admin identity record.
	Snapshots interface {
		SaveRoom(*model.Room) error
		LoadRoom() (*model.Room, error)
		SaveAdmin(*model.AdminRecord) error
		LoadAdmin() (*model.AdminRecord, error)
		Purge() error
	}

	// State is the canonical client-side view consumed by the
	// rendering layer. Pointers are shared, consumers must treat
	// them as read-only.
	State struct {
		Room      *model.Room
		User      *model.User
		Connected bool
		IsAdmin   bool
		Err       string
		AdminData *model.AdminRecord
	}

	StoreConfig struct {
		Logger *zerolog.Logger

		// Snapshots may be nil, persistence is then skipped.
		Snapshots Snapshots
	}

	// Store holds session state behind a small set of reducers.
	// Reducers are the only mutation path.
	Store struct {
		logger zerolog.Logger
		snaps  Snapshots

		mx    sync.Mutex
		state State
	}
)

func NewStore(cfg StoreConfig) *Store {
	s := &Store{
		logger: cfg.Logger.With().Str("component", "session-store").Logger(),
		snaps:  cfg.Snapshots,
	}
	s.hydrateAdmin()
	return s
}

// hydrateAdmin restores the remembered admin identity from durable
// storage so reconnected sessions keep their original nickname.
func (s *Store) hydrateAdmin() {
	if s.snaps == nil {
		return
	}
	rec, err := s.snaps.LoadAdmin()
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.logger.Warn().Err(err).Msg("unreadable admin record, starting fresh")
		}
		return
	}
	s.state.AdminData = rec
}

// State returns the current session view. The returned room pointer
// is a stable snapshot: reducers never mutate a room already handed
// out, they swap in a fresh copy instead.
func (s *Store) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// SetRoom replaces the room and clears any pending error. When a
// room arrives and no user exists yet, a default admin user bound to
// this room is synthesized, nicknamed after the remembered admin
// identity when one is present.
func (s *Store) SetRoom(room *model.Room) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.state.Room = room
	s.state.Err = ""
	if room != nil && s.state.User == nil {
		nickname := defaultAdminNickname
		if s.state.AdminData != nil && s.state.AdminData.Name != "" {
			nickname = s.state.AdminData.Name
		}
		s.state.User = &model.User{
			ID:       newUserID("admin"),
			Nickname: nickname,
			Role:     model.RoleAdmin,
			RoomCode: room.Code,
		}
		s.state.IsAdmin = true
		s.logger.Debug().Str("code", room.Code).Msg("synthesized admin user for room")
	}
}

// SetUser replaces the user and derives the admin flag from its role.
func (s *Store) SetUser(user *model.User) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.state.User = user
	s.state.IsAdmin = user != nil && user.Role == model.RoleAdmin
}

func (s *Store) SetError(msg string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.state.Err = msg
	if msg != "" {
		s.logger.Debug().Str("error", msg).Msg("session error set")
	}
}

func (s *Store) ClearError() {
	s.SetError("")
}

// SetConnected flips the connection flag. Going offline also drops
// any stale error.
func (s *Store) SetConnected(connected bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.state.Connected = connected
	if !connected {
		s.state.Err = ""
	}
}

// Disconnect marks the session offline. Room, user and the admin
// flag survive so a later reconnect can resume.
func (s *Store) Disconnect() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.state.Connected = false
}

// ResetQuiz clears everything and purges durable snapshots. This is
// the only full-reset path.
func (s *Store) ResetQuiz() {
	s.mx.Lock()
	s.state.Room = nil
	s.state.User = nil
	s.state.IsAdmin = false
	s.state.Err = ""
	s.state.AdminData = nil
	s.mx.Unlock()

	if s.snaps != nil {
		if err := s.snaps.Purge(); err != nil {
			s.logger.Error().Err(err).Msg("failed to purge snapshots")
		}
	}
	s.logger.Debug().Msg("session reset")
}

// SetAdminData records the pending admin identity and persists it
// immediately.
func (s *Store) SetAdminData(name, email string) {
	s.mx.Lock()
	rec := &model.AdminRecord{Name: name, Email: email}
	if s.state.AdminData != nil {
		rec.Token = s.state.AdminData.Token
	}
	s.state.AdminData = rec
	s.mx.Unlock()

	s.persistAdmin(rec)
}

// SetAdminToken stores the one-time admin token inside the durable
// admin record. Called only from the room_created transition.
func (s *Store) SetAdminToken(token string) {
	s.mx.Lock()
	if s.state.AdminData == nil {
		s.state.AdminData = &model.AdminRecord{}
	}
	s.state.AdminData.Token = token
	rec := *s.state.AdminData
	s.mx.Unlock()

	s.persistAdmin(&rec)
}

func (s *Store) persistAdmin(rec *model.AdminRecord) {
	if s.snaps == nil {
		return
	}
	if err := s.snaps.SaveAdmin(rec); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist admin record")
	}
}

// Patch reducers copy-on-write: they clone the room, mutate the
// clone and swap the pointer, so a snapshot already handed out by
// State never changes under its reader.

// SetPhase patches only the phase. Dropped when no room is loaded.
func (s *Store) SetPhase(phase model.Phase) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state.Room == nil {
		return
	}
	room := s.state.Room.Clone()
	room.Phase = phase
	s.state.Room = room
}

// StartQuestion marks a question active. Dropped when no room is
// loaded.
func (s *Store) StartQuestion(correctAnswer string, at time.Time) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state.Room == nil {
		return
	}
	room := s.state.Room.Clone()
	room.QuestionActive = true
	room.FirstAnswerer = ""
	room.CorrectAnswer = correctAnswer
	room.QuestionStartTime = at
	s.state.Room = room
}

// AnswerReceived records the first answerer and deactivates the
// question. Dropped when no room is loaded.
func (s *Store) AnswerReceived(userID, correctAnswer string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state.Room == nil {
		return
	}
	room := s.state.Room.Clone()
	room.QuestionActive = false
	room.FirstAnswerer = userID
	room.CorrectAnswer = correctAnswer
	s.state.Room = room
}

// NextQuestion clears the question-flow fields. Dropped when no room
// is loaded.
func (s *Store) NextQuestion() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state.Room == nil {
		return
	}
	room := s.state.Room.Clone()
	room.QuestionActive = false
	room.FirstAnswerer = ""
	room.CorrectAnswer = ""
	room.QuestionStartTime = time.Time{}
	s.state.Room = room
}

func newUserID(kind string) string {
	return fmt.Sprintf("%s_%d", kind, time.Now().UnixMilli())
}
