package dispatch

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/adwski/quiz-session/model"
	"github.com/adwski/quiz-session/session"
	"github.com/rs/zerolog"
)

// User-visible errors for intents that cannot reach the wire.
const (
	msgServiceUnavailable = "service unavailable"
	msgNotConnected       = "not connected"
	msgSendFailed         = "failed to send event"

	defaultAdminNickname = "Admin"
)

type (
	// Transport is the outbound half of the connection as the
	// dispatcher sees it.
	Transport interface {
		Send(*model.Event) error
		Connected() bool
	}

	Config struct {
		Logger    *zerolog.Logger
		Transport Transport
		Store     *session.Store
	}

	// Dispatcher turns intents into outbound protocol events. Every
	// intent is fire-and-forget: precondition and transport failures
	// are reported through the store, never returned or thrown.
	Dispatcher struct {
		logger zerolog.Logger
		tr     Transport
		store  *session.Store
		now    func() time.Time
	}
)

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		logger: cfg.Logger.With().Str("component", "dispatcher").Logger(),
		tr:     cfg.Transport,
		store:  cfg.Store,
		now:    time.Now,
	}
}

// CreateRoom asks the server for a fresh room. A non-empty admin
// name is remembered (and persisted) for attribution and silent
// reconnection.
func (d *Dispatcher) CreateRoom(adminName, adminEmail string) {
	if adminName != "" {
		d.store.SetAdminData(adminName, adminEmail)
	}
	d.send(&model.Event{Type: model.EventCreateRoom})
}

// JoinRoom registers a participant user locally and sends the join.
func (d *Dispatcher) JoinRoom(roomCode, nickname string) {
	userID := newUserID("user")
	d.store.SetUser(&model.User{
		ID:       userID,
		Nickname: nickname,
		Role:     model.RoleParticipant,
		RoomCode: roomCode,
	})
	d.send(&model.Event{
		Type:     model.EventJoin,
		QuizID:   roomCode,
		UserID:   userID,
		Nickname: nickname,
	})
}

// AuthenticateAdmin claims the admin role for an existing room using
// its one-time password.
func (d *Dispatcher) AuthenticateAdmin(roomCode, password string) {
	d.store.SetUser(&model.User{
		ID:       newUserID("admin"),
		Nickname: defaultAdminNickname,
		Role:     model.RoleAdmin,
		RoomCode: roomCode,
	})
	d.send(&model.Event{
		Type:     model.EventAdminAuth,
		RoomCode: roomCode,
		Password: password,
	})
}

// JoinTeam requires an existing user and is a no-op otherwise.
func (d *Dispatcher) JoinTeam(teamID string) {
	user := d.store.State().User
	if user == nil {
		return
	}
	d.send(&model.Event{
		Type:     model.EventJoinTeam,
		UserID:   user.ID,
		TeamID:   teamID,
		Nickname: user.Nickname,
	})
}

func (d *Dispatcher) CreateTeam(name, color string) {
	d.send(&model.Event{
		Type:      model.EventCreateTeam,
		TeamName:  name,
		TeamColor: color,
	})
}

// SetGamePhase moves the room through lobby/ready/started/finished.
// delayMs is forwarded opaquely, the server arms the buzzer after it.
func (d *Dispatcher) SetGamePhase(phase model.Phase, delayMs int) {
	d.send(&model.Event{
		Type:    model.EventHostSetState,
		Phase:   phase,
		DelayMs: delayMs,
	})
}

// SendClick requires an existing user and is a no-op otherwise.
func (d *Dispatcher) SendClick(buttonID string) {
	user := d.store.State().User
	if user == nil {
		return
	}
	d.send(&model.Event{
		Type:     model.EventClick,
		UserID:   user.ID,
		ButtonID: buttonID,
		TsClient: d.now().UnixMilli(),
	})
}

// LeaveRoom drops the local room and user, then notifies the server.
// Durable snapshots are kept, only ResetQuiz purges them.
func (d *Dispatcher) LeaveRoom() {
	user := d.store.State().User
	if user == nil {
		return
	}
	d.store.SetRoom(nil)
	d.store.SetUser(nil)
	d.send(&model.Event{
		Type:   model.EventLeave,
		QuizID: user.RoomCode,
		UserID: user.ID,
	})
}

// StartQuestion activates the buzzer round, optionally declaring the
// correct answer up front.
func (d *Dispatcher) StartQuestion(correctAnswer string) {
	d.send(&model.Event{
		Type:          model.EventStartQuestion,
		CorrectAnswer: correctAnswer,
	})
}

// SendAnswer requires an existing user and is a no-op otherwise.
func (d *Dispatcher) SendAnswer(answer string) {
	user := d.store.State().User
	if user == nil {
		return
	}
	d.send(&model.Event{
		Type:   model.EventAnswerReceived,
		UserID: user.ID,
		Answer: answer,
	})
}

func (d *Dispatcher) ShowAnswer() {
	d.send(&model.Event{Type: model.EventShowAnswer})
}

func (d *Dispatcher) NextQuestion() {
	d.send(&model.Event{Type: model.EventNextQuestion})
}

func (d *Dispatcher) send(ev *model.Event) {
	if d.tr == nil {
		d.store.SetError(msgServiceUnavailable)
		return
	}
	if !d.tr.Connected() {
		d.store.SetError(msgNotConnected)
		return
	}
	if err := d.tr.Send(ev); err != nil {
		d.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("send failed")
		d.store.SetError(msgSendFailed)
		return
	}
	d.logger.Debug().Str("type", string(ev.Type)).Msg("intent dispatched")
}

const idCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

func newUserID(kind string) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idCharset[rand.Intn(len(idCharset))]
	}
	return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixMilli(), suffix)
}
