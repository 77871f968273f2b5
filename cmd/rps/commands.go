package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"rps-client/internal/api"
	"rps-client/internal/format"
	"rps-client/internal/history"
	"rps-client/internal/sandbox"
)

func (a *app) runNew(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	bestOf := fs.Int("best-of", 0, "games in the match (odd; server default when 0)")
	extended := fs.Bool("extended", false, "allow lizard and spock")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := url.Values{}
	if *bestOf > 0 {
		params.Set("best_of", strconv.Itoa(*bestOf))
	}
	if *extended {
		params.Set("extended", "true")
	}

	resp, err := a.apiClient().NewMatch(ctx, params)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	fmt.Fprintln(a.out, resp.MatchID)
	return nil
}

func (a *app) runLeaderboard(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaderboard", flag.ContinueOnError)
	page := fs.Int("page", 0, "zero-based page number")
	pageSize := fs.Int("page-size", api.DefaultPageSize, "rows per page")
	ordering := fs.String("ordering", api.DefaultOrdering, "sort field, prefix with - for descending")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := api.LeaderboardQuery{Page: *page, PageSize: *pageSize, Ordering: *ordering}
	board, err := a.apiClient().FetchLeaderboard(ctx, q)
	if err != nil {
		return fmt.Errorf("fetch leaderboard: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPLAYER\tWINS\tLOSSES\tWIN %")
	for i, p := range board.Results {
		rank := q.Page*q.PageSize + i + 1
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.1f\n", rank, p.Username, p.MatchWinCount, p.MatchLossCount, p.MatchWinPct)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d players\n", board.Count)
	return nil
}

func (a *app) runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "most recent matches to show (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := history.Open(a.cfg.HistoryDriver, a.cfg.HistoryDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tOPPONENT\tRESULT\tSCORE\tGAMES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.FinishedAt.Local().Format(time.DateTime),
			r.Opponent,
			format.PastTense(r.Outcome),
			format.Score(r.Tally),
			format.GameLog(r.BestOf, r.Games))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	totals, err := store.Totals(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Matches: %s\n", format.Score(totals))
	return nil
}

func gracefulShutdown(log *zap.Logger, sb *sandbox.Server, httpServer *http.Server, done chan<- struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("Shutdown signal received, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sb.Shutdown(ctx); err != nil {
		log.Warn("Sandbox shutdown incomplete", zap.Error(err))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("HTTP server forced to shutdown", zap.Error(err))
	}

	close(done)
}

func (a *app) runSandbox(args []string) error {
	fs := flag.NewFlagSet("sandbox", flag.ContinueOnError)
	rate := fs.Int("rate", 20, "socket frames allowed per connection per second")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sb := sandbox.New(a.log.Named("sandbox"), sandbox.WithRateLimit(*rate, time.Second))
	httpServer := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      sb.Handler(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan struct{})
	go gracefulShutdown(a.log, sb, httpServer, done)

	a.log.Info("Sandbox listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}

	<-done
	a.log.Info("Graceful shutdown complete")
	return nil
}
