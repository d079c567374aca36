package session

import (
	"encoding/json"
	"time"

	"github.com/adwski/quiz-session/model"
	"github.com/rs/zerolog"
)

const (
	msgUnknownError    = "unknown error"
	msgConnectionError = "connection error"
	msgJoinFailed      = "failed to join room"
	msgReconnectFailed = "failed to reconnect as admin"
)

type (
	ReconcilerConfig struct {
		Logger *zerolog.Logger
		Store  *Store

		// Snapshots may be nil, full snapshots are then not
		// mirrored to durable storage.
		Snapshots Snapshots

		// Now is used for question start timestamps. Defaults to
		// time.Now.
		Now func() time.Time
	}

	// Reconciler interprets inbound transport envelopes and applies
	// them to the store, one transition per event.
	//
	// Only full-snapshot events (state, room_created, join_success,
	// admin_reconnect_success) may create a room from nothing.
	// Incremental patches are dropped while no room is loaded so a
	// late-arriving patch cannot revive a room the user already
	// left. The protocol carries no version tag distinguishing the
	// two, the classification lives entirely in this switch.
	Reconciler struct {
		logger zerolog.Logger
		store  *Store
		snaps  Snapshots
		now    func() time.Time
	}
)

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		logger: cfg.Logger.With().Str("component", "reconciler").Logger(),
		store:  cfg.Store,
		snaps:  cfg.Snapshots,
		now:    now,
	}
}

// Handle is the transport message handler. It never panics and never
// returns an error, failures surface through the store.
func (r *Reconciler) Handle(msg model.Message) {
	switch msg.Type {
	case model.MessageEvent:
		if msg.Data == nil {
			r.logger.Debug().Msg("message envelope without event")
			return
		}
		r.apply(msg.Data)
	case model.MessageError:
		errMsg := msg.Error
		if errMsg == "" {
			errMsg = msgConnectionError
		}
		r.store.SetError(errMsg)
	case model.MessageClose:
		r.store.SetConnected(false)
	default:
		r.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring unknown envelope type")
	}
}

func (r *Reconciler) apply(ev *model.Event) {
	r.logger.Debug().Str("type", string(ev.Type)).Msg("applying event")

	switch ev.Type {
	case model.EventState:
		if room, ok := r.decodeRoom(ev); ok {
			r.store.SetRoom(room)
			r.mirror(room)
		}

	case model.EventRoomCreated:
		room, ok := r.decodeRoom(ev)
		if !ok {
			return
		}
		r.store.SetRoom(room)
		if ev.AdminToken != "" {
			r.bindAdminUser(room)
			r.store.SetAdminToken(ev.AdminToken)
		}
		r.mirror(room)

	case model.EventJoinSuccess:
		// SetRoom preserves an existing user, join set one already.
		if room, ok := r.decodeRoom(ev); ok {
			r.store.SetRoom(room)
			r.mirror(room)
		}

	case model.EventAdminReconnectSuccess:
		if room, ok := r.decodeRoom(ev); ok {
			r.store.SetRoom(room)
			r.bindAdminUser(room)
			r.mirror(room)
		}

	case model.EventError:
		r.store.SetError(messageOr(ev, msgUnknownError))

	case model.EventJoinError:
		r.store.SetError(messageOr(ev, msgJoinFailed))

	case model.EventAdminReconnectError:
		// Keep the stale room/user view, the UI decides what to do.
		r.store.SetError(messageOr(ev, msgReconnectFailed))

	case model.EventPhaseChanged:
		r.store.SetPhase(ev.Phase)

	case model.EventStartQuestion:
		r.store.StartQuestion(ev.CorrectAnswer, r.now())

	case model.EventAnswerReceived:
		r.store.AnswerReceived(ev.UserID, ev.CorrectAnswer)

	case model.EventNextQuestion:
		r.store.NextQuestion()

	case model.EventShowAnswer,
		model.EventTeamCreated,
		model.EventPlayerJoined,
		model.EventPlayerLeft,
		model.EventTeamJoined:
		// Informational only, the authoritative update arrives with
		// the accompanying state broadcast.

	default:
		r.logger.Debug().Str("type", string(ev.Type)).Msg("ignoring unknown event type")
	}
}

// bindAdminUser rebinds the local user as the room admin using the
// remembered identity for the nickname.
func (r *Reconciler) bindAdminUser(room *model.Room) {
	st := r.store.State()
	nickname := defaultAdminNickname
	if st.AdminData != nil && st.AdminData.Name != "" {
		nickname = st.AdminData.Name
	}
	user := &model.User{
		ID:       newUserID("admin"),
		Nickname: nickname,
		Role:     model.RoleAdmin,
		RoomCode: room.Code,
	}
	if st.User != nil {
		user.ID = st.User.ID
	}
	r.store.SetUser(user)
}

func (r *Reconciler) decodeRoom(ev *model.Event) (*model.Room, bool) {
	if len(ev.Data) == 0 {
		r.logger.Error().Str("type", string(ev.Type)).Msg("snapshot event without room payload")
		return nil, false
	}
	var room model.Room
	if err := json.Unmarshal(ev.Data, &room); err != nil {
		r.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to decode room payload")
		return nil, false
	}
	return &room, true
}

func (r *Reconciler) mirror(room *model.Room) {
	if r.snaps == nil {
		return
	}
	if err := r.snaps.SaveRoom(room); err != nil {
		r.logger.Error().Err(err).Msg("failed to mirror room snapshot")
	}
}

func messageOr(ev *model.Event, fallback string) string {
	if ev.Message != "" {
		return ev.Message
	}
	return fallback
}
