package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/adwski/quiz-session/model"
	"github.com/adwski/quiz-session/session"
	"github.com/rs/zerolog"
)

var errFake = errors.New("fake send failure")

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// fakeTransport records sent events.
type fakeTransport struct {
	connected bool
	sendErr   error
	sent      []*model.Event
}

func (f *fakeTransport) Send(ev *model.Event) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTransport) Connected() bool { return f.connected }

func newTestDispatcher(tr Transport) (*Dispatcher, *session.Store) {
	store := session.NewStore(session.StoreConfig{Logger: testLogger()})
	return New(Config{Logger: testLogger(), Transport: tr, Store: store}), store
}

func lastSent(t *testing.T, tr *fakeTransport) *model.Event {
	t.Helper()
	if len(tr.sent) == 0 {
		t.Fatalf("expected an event to be sent")
	}
	return tr.sent[len(tr.sent)-1]
}

func TestCreateRoomRemembersAdminIdentity(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)

	d.CreateRoom("Alice", "alice@example.com")

	ev := lastSent(t, tr)
	if ev.Type != model.EventCreateRoom {
		t.Fatalf("expected create_room, got %q", ev.Type)
	}
	ad := store.State().AdminData
	if ad == nil || ad.Name != "Alice" || ad.Email != "alice@example.com" {
		t.Fatalf("expected admin identity remembered, got %+v", ad)
	}
}

func TestCreateRoomWithoutIdentity(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)

	d.CreateRoom("", "")

	if store.State().AdminData != nil {
		t.Fatalf("empty admin name must not be remembered")
	}
	if ev := lastSent(t, tr); ev.Type != model.EventCreateRoom {
		t.Fatalf("expected create_room, got %q", ev.Type)
	}
}

func TestJoinRoomSetsParticipantAndSendsJoin(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)

	d.JoinRoom("ABCD", "bob")

	user := store.State().User
	if user == nil || user.Role != model.RoleParticipant || user.Nickname != "bob" || user.RoomCode != "ABCD" {
		t.Fatalf("unexpected local user: %+v", user)
	}
	if !strings.HasPrefix(user.ID, "user_") {
		t.Fatalf("unexpected user id: %q", user.ID)
	}

	ev := lastSent(t, tr)
	if ev.Type != model.EventJoin || ev.QuizID != "ABCD" || ev.Nickname != "bob" || ev.UserID != user.ID {
		t.Fatalf("unexpected join event: %+v", ev)
	}
}

func TestAuthenticateAdmin(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)

	d.AuthenticateAdmin("ABCD", "secret")

	user := store.State().User
	if user == nil || user.Role != model.RoleAdmin || !store.State().IsAdmin {
		t.Fatalf("expected local admin user, got %+v", user)
	}
	ev := lastSent(t, tr)
	if ev.Type != model.EventAdminAuth || ev.RoomCode != "ABCD" || ev.Password != "secret" {
		t.Fatalf("unexpected admin_auth event: %+v", ev)
	}
}

func TestUserScopedIntentsAreNoopsWithoutUser(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)

	d.JoinTeam("team_1")
	d.SendClick("btn_1")
	d.SendAnswer("42")
	d.LeaveRoom()

	if len(tr.sent) != 0 {
		t.Fatalf("expected no events without a user, got %d", len(tr.sent))
	}
	if store.State().Err != "" {
		t.Fatalf("user-scoped no-ops must not raise errors, got %q", store.State().Err)
	}
}

func TestSendClickCarriesClientTimestamp(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)
	store.SetUser(&model.User{ID: "user_1", Nickname: "bob", Role: model.RoleParticipant})

	d.SendClick("btn_1")

	ev := lastSent(t, tr)
	if ev.Type != model.EventClick || ev.UserID != "user_1" || ev.ButtonID != "btn_1" {
		t.Fatalf("unexpected click event: %+v", ev)
	}
	if ev.TsClient == 0 {
		t.Fatalf("click must carry tsClient")
	}
}

func TestJoinTeamCarriesIdentity(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)
	store.SetUser(&model.User{ID: "user_1", Nickname: "bob", Role: model.RoleParticipant})

	d.JoinTeam("team_9")

	ev := lastSent(t, tr)
	if ev.Type != model.EventJoinTeam || ev.TeamID != "team_9" || ev.UserID != "user_1" || ev.Nickname != "bob" {
		t.Fatalf("unexpected join_team event: %+v", ev)
	}
}

func TestLeaveRoomClearsLocalState(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)
	store.SetUser(&model.User{ID: "user_1", Role: model.RoleParticipant, RoomCode: "ABCD"})
	store.SetRoom(&model.Room{Code: "ABCD"})

	d.LeaveRoom()

	st := store.State()
	if st.Room != nil || st.User != nil || st.IsAdmin {
		t.Fatalf("leave must clear room and user, got %+v", st)
	}
	ev := lastSent(t, tr)
	if ev.Type != model.EventLeave || ev.QuizID != "ABCD" || ev.UserID != "user_1" {
		t.Fatalf("unexpected leave event: %+v", ev)
	}
}

func TestQuestionFlowIntents(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, store := newTestDispatcher(tr)
	store.SetUser(&model.User{ID: "user_1", Role: model.RoleParticipant})

	d.StartQuestion("42")
	d.SendAnswer("41")
	d.ShowAnswer()
	d.NextQuestion()

	if len(tr.sent) != 4 {
		t.Fatalf("expected 4 events, got %d", len(tr.sent))
	}
	if tr.sent[0].Type != model.EventStartQuestion || tr.sent[0].CorrectAnswer != "42" {
		t.Fatalf("unexpected start_question: %+v", tr.sent[0])
	}
	if tr.sent[1].Type != model.EventAnswerReceived || tr.sent[1].Answer != "41" || tr.sent[1].UserID != "user_1" {
		t.Fatalf("unexpected answer event: %+v", tr.sent[1])
	}
	if tr.sent[2].Type != model.EventShowAnswer || tr.sent[3].Type != model.EventNextQuestion {
		t.Fatalf("unexpected tail events: %+v %+v", tr.sent[2], tr.sent[3])
	}
}

func TestSetGamePhaseForwardsDelay(t *testing.T) {
	tr := &fakeTransport{connected: true}
	d, _ := newTestDispatcher(tr)

	d.SetGamePhase(model.PhaseReady, 3000)

	ev := lastSent(t, tr)
	if ev.Type != model.EventHostSetState || ev.Phase != model.PhaseReady || ev.DelayMs != 3000 {
		t.Fatalf("unexpected host_set_state event: %+v", ev)
	}
}

func TestNilTransportReportsServiceUnavailable(t *testing.T) {
	d, store := newTestDispatcher(nil)

	d.CreateTeam("red team", "#ff0000")

	if got := store.State().Err; got != "service unavailable" {
		t.Fatalf("expected service unavailable, got %q", got)
	}
}

func TestDisconnectedTransportReportsNotConnected(t *testing.T) {
	tr := &fakeTransport{connected: false}
	d, store := newTestDispatcher(tr)

	d.CreateTeam("red team", "#ff0000")

	if got := store.State().Err; got != "not connected" {
		t.Fatalf("expected not connected, got %q", got)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("precondition failure must block the send")
	}
}

func TestSendFailureSurfacesAsSessionError(t *testing.T) {
	tr := &fakeTransport{connected: true, sendErr: errFake}
	d, store := newTestDispatcher(tr)

	d.CreateTeam("red team", "#ff0000")

	if got := store.State().Err; got != "failed to send event" {
		t.Fatalf("expected send failure surfaced, got %q", got)
	}
}
