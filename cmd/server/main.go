package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dncdante911/worldmates-calls/internal/adapters/http"
	"github.com/dncdante911/worldmates-calls/internal/adapters/rtc"
	sigchan "github.com/dncdante911/worldmates-calls/internal/adapters/signal"
	"github.com/dncdante911/worldmates-calls/internal/call"
	"github.com/dncdante911/worldmates-calls/internal/config"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

const reconnectDelay = 3 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	endpoint := sigchan.NewEndpoint()
	defer endpoint.Close()

	coord := call.NewCoordinator(call.Options{
		Self:        domain.UserID(cfg.UserID),
		Engines:     rtc.Factory(rtc.ConfigFromURLs(cfg.ICEServers)),
		Emitter:     endpoint,
		RingTimeout: cfg.RingTimeout,
		OnIncoming: func(in call.IncomingCall) {
			log.Info().Int64("from", int64(in.Peer.ID)).Str("room", string(in.Room)).Msg("incoming call")
		},
	})
	group := call.NewGroupCoordinator(call.Options{
		Self:        domain.UserID(cfg.UserID),
		Engines:     rtc.Factory(rtc.ConfigFromURLs(cfg.ICEServers)),
		Emitter:     endpoint,
		RingTimeout: cfg.RingTimeout,
	})
	mux := &call.Mux{Coordinator: coord, Group: group}

	go runSignal(ctx, cfg, endpoint, coord, mux)

	r := router.SetupRouter(cfg, coord, group)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Calls server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	coord.End()
	group.EndGroup()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// runSignal keeps one signaling connection alive, re-dialing with a flat delay
// when it drops. Every fresh connection re-registers this endpoint.
func runSignal(ctx context.Context, cfg *config.Config, endpoint *sigchan.Endpoint, coord *call.Coordinator, mux *call.Mux) {
	for {
		ch, err := sigchan.Dial(ctx, sigchan.Options{
			URL:        cfg.SignalURL,
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
		})
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.SignalURL).Msg("signal dial failed")
		} else {
			endpoint.Bind(ch)
			coord.Register()
			log.Info().Str("url", cfg.SignalURL).Msg("signal channel connected")
			ch.Run(ctx, mux)
			endpoint.Bind(nil)
			log.Warn().Msg("signal channel lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
