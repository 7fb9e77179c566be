package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/devmate/go/internal/reservation/gateway"
	"github.com/mcdev12/devmate/go/internal/reservation/notify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// watch runs the sync engine and serves it through the gateway until ctx is done.
func (a *app) watch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(a.out)
	addr := fs.String("gateway-addr", a.cfg.Gateway.Addr, "gateway listen address")
	if _, err := parseInterspersed(fs, args); err != nil {
		return 1
	}

	if level, err := zerolog.ParseLevel(a.cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	session := a.newSession()

	if a.cfg.NATS.URL != "" {
		natsCfg := notify.DefaultConfig()
		natsCfg.URL = a.cfg.NATS.URL
		natsCfg.SubjectPrefix = a.cfg.NATS.SubjectPrefix
		publisher, err := notify.Connect(natsCfg)
		if err != nil {
			// Publishing is optional; the engine runs without it.
			log.Warn().Err(err).Str("nats_url", natsCfg.URL).Msg("event publishing disabled")
		} else {
			publisher.Attach(session)
			defer publisher.Close()
		}
	}

	svc := gateway.NewService(gateway.DefaultConfig(), session)
	defer svc.Stop()

	server := &http.Server{
		Addr:         *addr,
		Handler:      svc.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := session.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return session.Stop()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown failed")
		}
		return nil
	})

	fmt.Fprintf(a.out, "Watching %s, gateway on %s. Press Ctrl+C to stop.\n", a.cfg.BaseURL(), *addr)
	if err := g.Wait(); err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return 1
	}
	log.Info().Msg("watch stopped")
	return 0
}
