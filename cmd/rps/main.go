package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rps-client/internal/api"
	"rps-client/internal/config"
	"rps-client/internal/logging"
)

var errUsage = errors.New("usage")

const usage = `Usage: rps <command> [flags]

Commands:
  new          create a match and print its id
  leaderboard  show the players leaderboard
  play         join a live match and play from the terminal
  history      list matches archived by play
  sandbox      run a local match server on $PORT
`

type app struct {
	cfg config.Config
	log *zap.Logger
	out io.Writer
}

func (a *app) apiClient() *api.Client {
	return api.NewClient(a.cfg.Host,
		api.WithHTTPClient(&http.Client{Timeout: a.cfg.RequestTimeout}),
		api.WithToken(a.cfg.Token),
		api.WithLogger(a.log))
}

func main() {
	err := run(os.Args[1:])
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "rps:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a := &app{cfg: cfg, log: logger, out: os.Stdout}

	switch args[0] {
	case "new":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.runNew(ctx, args[1:])
	case "leaderboard":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.runLeaderboard(ctx, args[1:])
	case "play":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.runPlay(ctx, os.Stdin, args[1:])
	case "history":
		return a.runHistory(context.Background(), args[1:])
	case "sandbox":
		return a.runSandbox(args[1:])
	case "help", "-h", "--help":
		return errUsage
	default:
		return fmt.Errorf("unknown command %q (run rps help)", args[0])
	}
}
