package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticd/internal/config"
	"ticd/internal/exporter"
	"ticd/internal/logging"
	"ticd/internal/meter"
	"ticd/internal/replay"
	"ticd/internal/serialin"
	"ticd/internal/udp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./ticd.yaml", "Path to YAML config")
	flag.Parse()

	log := logging.New("ticd")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline := meter.NewPipeline(meter.Options{
		Cached:       cfg.Decode.Mode == "cached",
		LFTerminated: cfg.Decode.LFTerminated,
	})

	var serial *serialin.Service
	var recorder *replay.Writer
	if cfg.Record.Enable {
		recorder, err = replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("record open failed")
		}
		defer recorder.Close()
		log.Info().Str("path", cfg.Record.Path).Msg("recording capture")
	}

	// The pipeline has a single writer: whichever source goroutine runs.
	push := func(chunk []byte) {
		if recorder != nil {
			if err := recorder.WriteChunk(time.Now(), chunk); err != nil {
				log.Warn().Err(err).Msg("capture write failed")
			}
		}
		pipeline.PushBytes(chunk)
	}

	log.Info().
		Str("source", cfg.Source).
		Str("dialect", cfg.Decode.Dialect).
		Str("mode", cfg.Decode.Mode).
		Msg("ticd starting")

	switch cfg.Source {
	case "serial":
		serial = serialin.New(serialin.Config{
			Device: cfg.Serial.Device,
			Baud:   cfg.DefaultBaud(),
		}, log)
		go func() {
			err := serial.Run(ctx, func(chunk []byte) { push(chunk) })
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("serial source stopped")
				cancel()
			}
		}()

	case "replay":
		records, err := replay.ReadFile(cfg.Replay.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("replay load failed")
		}
		log.Info().Str("path", cfg.Replay.Path).Int("records", len(records)).Msg("replaying capture")
		go func() {
			err := replay.Play(records, cfg.Replay.Speed, cfg.Replay.Loop, nil, func(chunk []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				push(chunk)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("replay stopped")
			}
			if !cfg.Replay.Loop && ctx.Err() == nil {
				log.Info().Msg("replay finished")
			}
		}()
	}

	if cfg.HTTP.Listen != "" {
		status := func() any {
			doc := map[string]any{"meter": pipeline.Snapshot()}
			if serial != nil {
				doc["serial"] = serial.Snapshot()
			}
			return doc
		}
		handler, err := exporter.Handler(pipeline.Snapshot, status)
		if err != nil {
			log.Fatal().Err(err).Msg("exporter init failed")
		}
		go func() {
			log.Info().Str("listen", cfg.HTTP.Listen).Msg("http server up")
			if err := exporter.Serve(ctx, cfg.HTTP.Listen, handler); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("http server stopped")
				cancel()
			}
		}()
	}

	if cfg.UDP.Dest != "" {
		broadcaster, err := udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			log.Fatal().Err(err).Msg("udp broadcaster init failed")
		}
		defer broadcaster.Close()
		go func() {
			log.Info().Str("dest", cfg.UDP.Dest).Dur("interval", cfg.UDP.Interval).Msg("udp publisher up")
			err := broadcaster.Run(ctx, cfg.UDP.Interval, func() []byte {
				b, err := json.Marshal(pipeline.Snapshot())
				if err != nil {
					return nil
				}
				return b
			})
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("udp publisher stopped")
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("ticd stopping")
}
