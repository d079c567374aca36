package client

import (
	"errors"
	"sync"
	"time"

	"github.com/adwski/quiz-session/model"
	"github.com/adwski/quiz-session/session"
	"github.com/rs/zerolog"
)

// defaultSettleDelay is how long the coordinator waits after a
// socket open before claiming the admin role, giving the server time
// to finish the session handshake.
const defaultSettleDelay = 2 * time.Second

type (
	// sender is the outbound slice of the transport the coordinator
	// needs.
	sender interface {
		Send(*model.Event) error
	}

	coordinatorConfig struct {
		logger      *zerolog.Logger
		transport   sender
		snapshots   session.Snapshots
		settleDelay time.Duration
	}

	// coordinator drives best-effort silent admin reconnection:
	// after every transport open, if both a durable room snapshot
	// and a durable admin identity exist, it sends exactly one
	// admin_reconnect once the settle delay has passed.
	coordinator struct {
		logger zerolog.Logger
		tr     sender
		snaps  session.Snapshots
		settle time.Duration

		mx    sync.Mutex
		timer *time.Timer
	}
)

func newCoordinator(cfg coordinatorConfig) *coordinator {
	settle := cfg.settleDelay
	if settle == 0 {
		settle = defaultSettleDelay
	}
	return &coordinator{
		logger: cfg.logger.With().Str("component", "reconnect-coordinator").Logger(),
		tr:     cfg.transport,
		snaps:  cfg.snapshots,
		settle: settle,
	}
}

func (c *coordinator) onOpen() {
	room, err := c.snaps.LoadRoom()
	if err != nil {
		c.logSnapshotErr(err, "room")
		return
	}
	admin, err := c.snaps.LoadAdmin()
	if err != nil {
		c.logSnapshotErr(err, "admin")
		return
	}
	if room.Code == "" || admin.Name == "" {
		c.logger.Debug().Msg("incomplete snapshots, no reconnection needed")
		return
	}

	ev := &model.Event{
		Type:       model.EventAdminReconnect,
		RoomCode:   room.Code,
		AdminName:  admin.Name,
		AdminEmail: admin.Email,
	}

	c.mx.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.settle, func() {
		if sendErr := c.tr.Send(ev); sendErr != nil {
			c.logger.Error().Err(sendErr).Msg("failed to send admin reconnect")
			return
		}
		c.logger.Info().
			Str("roomCode", ev.RoomCode).
			Str("adminName", ev.AdminName).
			Msg("admin reconnect sent")
	})
	c.mx.Unlock()
}

// stop cancels a pending settle timer so no admin_reconnect fires
// after teardown.
func (c *coordinator) stop() {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *coordinator) logSnapshotErr(err error, kind string) {
	if errors.Is(err, session.ErrNoSnapshot) {
		c.logger.Debug().Str("snapshot", kind).Msg("no snapshot, no reconnection needed")
		return
	}
	// Unreadable snapshots count as absent, reconnection stays
	// best-effort.
	c.logger.Warn().Err(err).Str("snapshot", kind).Msg("unreadable snapshot, skipping reconnection")
}
