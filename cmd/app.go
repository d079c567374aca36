package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adwski/quiz-session/client"
	"github.com/adwski/quiz-session/session"
	fileStore "github.com/adwski/quiz-session/storage/file"
	"github.com/caarlos0/env/v11"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type envConfig struct {
	WSURL    string `env:"QUIZ_WS_URL" envDefault:"ws://localhost:8081/ws"`
	StateDir string `env:"QUIZ_STATE_DIR"`
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse environment")
	}
	if envCfg.StateDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve state directory")
		}
		envCfg.StateDir = filepath.Join(cacheDir, "quiz-session")
	}

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	var (
		wsURL      = fs.StringP("url", "u", envCfg.WSURL, "room server websocket url")
		stateDir   = fs.StringP("state-dir", "s", envCfg.StateDir, "durable snapshot directory")
		logLevel   = fs.StringP("log-level", "l", "debug", "log level")
		createRoom = fs.Bool("create", false, "create a new room on connect")
		adminName  = fs.String("admin-name", "", "admin name for room creation")
		adminEmail = fs.String("admin-email", "", "admin email for room creation")
		roomCode   = fs.String("room", "", "room code to join")
		nickname   = fs.String("nickname", "", "nickname to join with")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	snaps, err := fileStore.NewStore(*stateDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", *stateDir).Msg("failed to open snapshot store")
	}

	c := client.New(client.Config{
		Logger:    &logger,
		URL:       *wsURL,
		Snapshots: snaps,
	})
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Str("url", *wsURL).Msg("failed to connect")
	}

	switch {
	case *createRoom:
		c.Intents().CreateRoom(*adminName, *adminEmail)
	case *roomCode != "" && *nickname != "":
		c.Intents().JoinRoom(*roomCode, *nickname)
	}

	watch(ctx, &logger, c)
	logger.Warn().Msg("interrupted")
}

// watch prints the session view whenever it changes, standing in for
// the rendering layer.
func watch(ctx context.Context, logger *zerolog.Logger, c *client.Client) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := c.State()
			dump := spew.Sdump(st)
			if dump == last {
				continue
			}
			last = dump
			logState(logger, st)
			if st.Room != nil {
				logger.Debug().Msg(spew.Sdump(st.Room))
			}
		}
	}
}

func logState(logger *zerolog.Logger, st session.State) {
	ev := logger.Info().
		Bool("connected", st.Connected).
		Bool("isAdmin", st.IsAdmin)
	if st.Room != nil {
		ev = ev.Str("room", st.Room.Code).Str("phase", string(st.Room.Phase))
	}
	if st.User != nil {
		ev = ev.Str("user", st.User.Nickname)
	}
	if st.Err != "" {
		ev = ev.Str("error", st.Err)
	}
	ev.Msg("session state")
}
