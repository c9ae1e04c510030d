package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/jrsteele09/go-store-claimer/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: claimer [run | once | test-notify | clear <account>]`

func main() {
	os.Exit(claim(os.Args[1:]))
}

// claim runs one subcommand and returns the process exit code.
func claim(args []string) int {
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger := newLogger(cfg)

	switch cmd {
	case "run":
		if err := run(cfg, logger); err != nil {
			logger.Error().Err(err).Msg("Error running claimer")
			return 1
		}
		logger.Info().Msg("Claimer stopped")
	case "once":
		ok, err := once(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("cycle failed")
			return 1
		}
		if !ok {
			return 1
		}
	case "test-notify":
		if err := testNotify(cfg, logger); err != nil {
			logger.Error().Err(err).Msg("test notification failed")
			return 1
		}
	case "clear":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		if err := clearAccount(cfg, args[0]); err != nil {
			logger.Error().Err(err).Msg("clear failed")
			return 1
		}
		logger.Info().Str("account", args[0]).Msg("stored credentials removed")
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	return 0
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return log.Logger.With().Str("app", cfg.GetAppName()).Logger()
}

func run(cfg config.Config, logger zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(cfg.GetAppName())

	// Escalation links are useless without the callback listener.
	ln, err := listen(cfg.GetPort())
	if err != nil {
		return err
	}
	server := &http.Server{Addr: ln.Addr().String()}
	defer ln.Close() //nolint:errcheck

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	server.Handler = a.server

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := runner.NewScheduler(a.runner, cfg, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- serve(server, ln, logger) }()

	select {
	case <-waitForStopSignal():
	case err := <-serveErr:
		returnError = err
	}

	// In-flight escalations and browser pages see the cancellation before cron waits on them.
	cancel()
	stopped := scheduler.Stop()
	if err := shutdown(server); err != nil && returnError == nil {
		returnError = err
	}
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("cycle still running at shutdown")
	}
	return returnError
}

func once(cfg config.Config, logger zerolog.Logger) (bool, error) {
	// A human resolving an escalation needs the callback listener, so no cycle without it.
	ln, err := listen(cfg.GetPort())
	if err != nil {
		return false, err
	}
	defer ln.Close() //nolint:errcheck

	a, err := newApp(cfg, logger)
	if err != nil {
		return false, err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := &http.Server{Addr: ln.Addr().String(), Handler: a.server}
	go func() {
		if err := serve(server, ln, logger); err != nil {
			logger.Error().Err(err).Msg("callback server")
			cancel()
		}
	}()
	defer func() { _ = shutdown(server) }()

	go func() {
		<-waitForStopSignal()
		cancel()
	}()

	report := a.runner.RunOnce(ctx)
	for _, acc := range report.Accounts {
		ev := logger.Info()
		if !acc.OK() {
			ev = logger.Warn().AnErr("error", acc.Err)
		}
		ev.Str("account", acc.Account).Str("tier", string(acc.Tier)).Int("claims", len(acc.Claims)).Msg("account finished")
	}
	return report.OK(), nil
}

func testNotify(cfg config.Config, logger zerolog.Logger) error {
	dispatcher, err := notify.FromConfig(cfg, http.DefaultClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = dispatcher.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetRequestTimeout())
	defer cancel()
	var failed []string
	for _, acc := range cfg.GetAccounts() {
		if err := dispatcher.Deliver(ctx, acc.Email, notify.ReasonTest, cfg.GetBaseURL()); err != nil {
			logger.Error().Err(err).Str("account", acc.Email).Msg("test notification")
			failed = append(failed, acc.Email)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("no channel delivered for %s", strings.Join(failed, ", "))
	}
	return nil
}

func clearAccount(cfg config.Config, account string) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return store.Clear(account)
}

func listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("callback listener %s: %w", addr, err)
	}
	return ln, nil
}

func serve(server *http.Server, ln net.Listener, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.Serve %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
