package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rps-client/internal/format"
	"rps-client/internal/history"
	"rps-client/internal/livematch"
	"rps-client/internal/notify"
	"rps-client/internal/session"
)

var (
	errQuit         = errors.New("quit")
	errSocketClosed = errors.New("socket closed")
)

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdReady
	cmdMove
	cmdStatus
	cmdHelp
	cmdQuit
)

const playHelp = `Commands: ready, rock, paper, scissors, lizard, spock, status, help, quit`

func parseCommand(line string) (commandKind, livematch.Move) {
	word := strings.ToLower(strings.TrimSpace(line))
	switch word {
	case "ready":
		return cmdReady, ""
	case "status", "s":
		return cmdStatus, ""
	case "help", "?":
		return cmdHelp, ""
	case "quit", "exit", "q":
		return cmdQuit, ""
	}
	if m, err := livematch.ParseMove(word); err == nil {
		return cmdMove, m
	}
	return cmdUnknown, ""
}

func printState(w io.Writer, st livematch.MatchState) {
	fmt.Fprintln(w, format.BestOf(st.BestOf))
	fmt.Fprintf(w, "  %s   %s\n", format.GameLog(st.BestOf, st.Games), format.Score(st.Tally()))

	if st.Opponent == nil {
		fmt.Fprintln(w, "  waiting for an opponent")
	} else {
		presence := "connected"
		if !st.Opponent.IsConnected {
			presence = "disconnected"
		}
		fmt.Fprintf(w, "  vs %s (%s)\n", st.Opponent.Username, presence)
	}

	b := st.Board()
	switch {
	case st.MatchOutcome != nil:
		fmt.Fprintf(w, "  %s\n", format.MatchOutcome(*st.MatchOutcome))
	case b.OpponentPending:
		fmt.Fprintf(w, "  you picked %s, waiting for the opponent\n", *b.SelfMove)
	case st.IsReady:
		fmt.Fprintln(w, "  pick a move")
	case b.SelfMove != nil && b.OpponentMove != nil:
		last, _ := st.LastGame()
		fmt.Fprintf(w, "  %s vs %s: %s. Type ready for the next game\n", *b.SelfMove, *b.OpponentMove, format.GameOutcome(last.Outcome))
	default:
		fmt.Fprintln(w, "  type ready to start")
	}
}

func (a *app) runPlay(ctx context.Context, in io.Reader, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	matchID := fs.String("match", "", "match id (or pass it as the first argument)")
	noHistory := fs.Bool("no-history", false, "do not archive the finished match")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *matchID == "" && fs.NArg() > 0 {
		*matchID = fs.Arg(0)
	}
	if a.cfg.Username == "" && a.cfg.Token == "" {
		return errors.New("set RPS_USERNAME or RPS_TOKEN to play")
	}

	var archive session.Archive
	if !*noHistory {
		store, err := history.Open(a.cfg.HistoryDriver, a.cfg.HistoryDSN)
		if err != nil {
			a.log.Warn("Match history disabled", zap.Error(err))
		} else {
			defer store.Close()
			archive = store
		}
	}

	s, err := session.Start(ctx, session.Config{
		Host:        a.cfg.Host,
		MatchID:     *matchID,
		Username:    a.cfg.Username,
		Token:       a.cfg.Token,
		DialTimeout: a.cfg.RequestTimeout,
		Logger:      a.log,
		Notifier:    &notify.WriterNotifier{W: a.out},
		Archive:     archive,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.AwaitOpen(ctx); err != nil {
		return fmt.Errorf("connect to match %s: %w", *matchID, err)
	}
	fmt.Fprintf(a.out, "Joined match %s\n%s\n", *matchID, playHelp)

	var announced atomic.Bool
	s.Subscribe(func(st livematch.MatchState) {
		if st.MatchOutcome != nil && announced.CompareAndSwap(false, true) {
			fmt.Fprintf(a.out, "%s %s\n", format.MatchOutcome(*st.MatchOutcome), format.Splash(*st.MatchOutcome, nil))
		}
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-s.Done():
			if err := s.Err(); err != nil {
				return err
			}
			return errSocketClosed
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := a.handleLine(gctx, s, line); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, errSocketClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) handleLine(ctx context.Context, s *session.Session, line string) error {
	kind, move := parseCommand(line)
	var err error
	switch kind {
	case cmdQuit:
		return errQuit
	case cmdHelp:
		fmt.Fprintln(a.out, playHelp)
	case cmdStatus:
		printState(a.out, s.State())
	case cmdReady:
		err = s.Ready(ctx)
	case cmdMove:
		err = s.Move(ctx, move)
	default:
		if strings.TrimSpace(line) != "" {
			fmt.Fprintf(a.out, "unknown command %q\n%s\n", line, playHelp)
		}
	}
	if errors.Is(err, livematch.ErrPrecondition) {
		fmt.Fprintln(a.out, "not now:", err)
		return nil
	}
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
	}
	return nil
}
