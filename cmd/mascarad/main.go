package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/161chihuahuas/mascara"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to daemon config.toml (defaults built in if omitted)")
	flag.Parse()

	logger := mascara.NewLogger("mascarad")
	log.Logger = logger

	cfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load daemon config")
	}

	handlers := map[string]mascara.Handler{
		"echo": handleEcho,
		"stream/tail": handleTail,
		"stream/upload": handleUpload,
	}

	srv := mascara.NewServer(handlers, nil, mascara.ServerOptions{
		Scheme:       cfg.Scheme,
		StreamBuffer: cfg.StreamBuffer,
		Logger:       logger,
		Observer:     daemonObserver{},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("network", cfg.Network).Str("address", cfg.Address).Msg("mascarad listening")
	if err := srv.Listen(ctx, cfg.Network, cfg.Address); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("mascarad stopped")
	}
}

// handleEcho returns its first positional argument unchanged, exercising
// the plain request/response path.
func handleEcho(ctx context.Context, params []json.RawMessage, reply mascara.Reply) {
	if len(params) == 0 {
		reply(nil, nil)
		return
	}
	var v any
	if err := json.Unmarshal(params[0], &v); err != nil {
		reply(fmt.Errorf("echo: %w", err))
		return
	}
	reply(nil, v)
}

// handleTail mints a readable stream that emits a timestamp once a
// second until the connection closes or the server shuts down,
// exercising the minted-Producer path (spec.md §4.3).
func handleTail(ctx context.Context, params []json.RawMessage, reply mascara.Reply) {
	p := mascara.NewProducer(16)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.Send(ctx, time.Now().Format(time.RFC3339)); err != nil {
					return
				}
			case <-ctx.Done():
				p.End()
				return
			}
		}
	}()
	reply(nil, p)
}

// handleUpload mints a writable stream that logs each chunk pushed to it,
// exercising the minted-Consumer path.
func handleUpload(ctx context.Context, params []json.RawMessage, reply mascara.Reply) {
	c := mascara.NewConsumer(16)
	go func() {
		for {
			v, ok, err := c.Recv(ctx)
			if !ok {
				if err != nil {
					log.Error().Err(err).Msg("upload stream ended in error")
				}
				return
			}
			log.Info().Interface("chunk", v).Msg("upload chunk received")
		}
	}()
	reply(nil, c)
}

type daemonObserver struct{}

func (daemonObserver) Unhandled(connID string, msg *mascara.Message) {
	log.Warn().Str("conn", connID).Str("method", msg.Method).Msg("unhandled message")
}

func (daemonObserver) Errorf(connID string, err error) {
	log.Error().Str("conn", connID).Err(err).Msg("connection error")
}
