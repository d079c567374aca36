// Package client wires the transport, session store, dispatcher and
// reconnection coordinator into one quiz room session.
package client

import (
	"context"
	"time"

	"github.com/adwski/quiz-session/dispatch"
	"github.com/adwski/quiz-session/session"
	"github.com/adwski/quiz-session/transport"
	"github.com/rs/zerolog"
)

const msgConnectFailed = "failed to connect to server"

type (
	Config struct {
		Logger *zerolog.Logger
		URL    string

		// Snapshots enables durable persistence and silent admin
		// reconnection. May be nil.
		Snapshots session.Snapshots

		// Zero values fall back to package defaults.
		SettleDelay          time.Duration
		ReconnectBaseDelay   time.Duration
		MaxReconnectAttempts int
	}

	// Client is the composition root owned by the application. The
	// rendering layer reads State() and invokes Intents().
	Client struct {
		logger     zerolog.Logger
		tr         *transport.Transport
		store      *session.Store
		dispatcher *dispatch.Dispatcher
		coord      *coordinator

		unsubMsg   func()
		unsubFlag  func()
		unsubCoord func()
	}
)

func New(cfg Config) *Client {
	store := session.NewStore(session.StoreConfig{
		Logger:    cfg.Logger,
		Snapshots: cfg.Snapshots,
	})
	tr := transport.New(transport.Config{
		Logger:               cfg.Logger,
		URL:                  cfg.URL,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	rec := session.NewReconciler(session.ReconcilerConfig{
		Logger:    cfg.Logger,
		Store:     store,
		Snapshots: cfg.Snapshots,
	})

	c := &Client{
		logger: cfg.Logger.With().Str("component", "client").Logger(),
		tr:     tr,
		store:  store,
		dispatcher: dispatch.New(dispatch.Config{
			Logger:    cfg.Logger,
			Transport: tr,
			Store:     store,
		}),
	}

	c.unsubMsg = tr.OnMessage(rec.Handle)
	c.unsubFlag = tr.OnOpen(func() { store.SetConnected(true) })
	if cfg.Snapshots != nil {
		c.coord = newCoordinator(coordinatorConfig{
			logger:      cfg.Logger,
			transport:   tr,
			snapshots:   cfg.Snapshots,
			settleDelay: cfg.SettleDelay,
		})
		c.unsubCoord = tr.OnOpen(c.coord.onOpen)
	}
	return c
}

// Connect dials the room server. Connection failures both surface as
// a session error and are returned, callers may retry.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.tr.Connect(ctx); err != nil {
		c.store.SetError(msgConnectFailed)
		return err
	}
	return nil
}

// Disconnect cleanly closes the connection. Room, user and admin
// state survive for a later resume.
func (c *Client) Disconnect() {
	c.tr.Disconnect()
	c.store.Disconnect()
}

// Close tears the session down including its handler registrations
// and any reconnect attempt still waiting out its settle delay.
func (c *Client) Close() {
	c.Disconnect()
	c.unsubMsg()
	c.unsubFlag()
	if c.coord != nil {
		c.coord.stop()
		c.unsubCoord()
	}
}

// State returns the current session view.
func (c *Client) State() session.State {
	return c.store.State()
}

// Store exposes the session store, mainly for ResetQuiz.
func (c *Client) Store() *session.Store {
	return c.store
}

// Intents exposes the dispatcher.
func (c *Client) Intents() *dispatch.Dispatcher {
	return c.dispatcher
}
