package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/errgroup"

	"github.com/replayd/replayd/internal/capture"
	"github.com/replayd/replayd/internal/clock"
	"github.com/replayd/replayd/internal/config"
	"github.com/replayd/replayd/internal/encode"
	"github.com/replayd/replayd/internal/export"
	"github.com/replayd/replayd/internal/media"
	"github.com/replayd/replayd/internal/recorder"
	"github.com/replayd/replayd/internal/trigger"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(); err != nil {
		slog.Error("replayd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("REPLAYD_CONFIG")
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	cfg, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		return err
	}

	slog.Info("replayd starting",
		"version", version,
		"window_seconds", cfg.MaxSeconds,
		"encoder", cfg.Encoder,
		"use_mic", cfg.UseMic,
		"output_dir", cfg.OutputDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Save trigger over the session bus.
	conn, err := dbus.SessionBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	trig := trigger.NewService(nil)
	if err := trig.Export(conn); err != nil {
		return err
	}
	slog.Info("save trigger registered", "bus_name", trigger.BusName)

	// Screen share negotiation; blocks on user approval.
	portal, err := capture.OpenPortalSession(nil)
	if err != nil {
		return err
	}
	defer portal.Close()

	videoSrc, err := capture.NewGstVideoSource(portal, nil)
	if err != nil {
		return err
	}
	defer videoSrc.Close()

	audioSrc, err := capture.NewPWRecordAudioSource(
		encode.OpusSampleRate, encode.OpusChannels, cfg.UseMic, nil)
	if err != nil {
		return err
	}
	defer audioSrc.Close()

	venc, err := encode.NewH264Encoder(encode.H264Config{
		Codec:       cfg.Encoder,
		Width:       portal.Width,
		Height:      portal.Height,
		FrameRate:   cfg.FrameRate,
		GOPInterval: cfg.GOPInterval,
	}, nil)
	if err != nil {
		return err
	}
	defer venc.Close()

	aenc, err := encode.NewOpusEncoder(nil)
	if err != nil {
		return err
	}
	defer aenc.Close()

	// One shared clock origin for both capture workers, captured after
	// all collaborators are up so elapsed timestamps start near zero.
	clk := clock.New()
	var ready clock.Readiness

	rawVideo := make(chan media.RawVideo, media.RawVideoBufferSize)
	rawAudio := make(chan media.RawAudio, media.RawAudioBufferSize)

	rec := recorder.New(
		recorder.Config{MaxSpanMicros: cfg.MaxSpanMicros()},
		venc, aenc,
		export.NewWriter(cfg.OutputDir, cfg.FrameRate, nil),
		rawVideo, rawAudio,
		trig.Saves(),
		nil,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return capture.RunVideoWorker(ctx, videoSrc, clk, &ready, rawVideo, nil)
	})
	g.Go(func() error {
		return capture.RunAudioWorker(ctx, audioSrc, clk, &ready, rawAudio, nil)
	})
	g.Go(func() error {
		return rec.Run(ctx)
	})

	// Unblock the capture sources' blocking reads on shutdown.
	g.Go(func() error {
		<-ctx.Done()
		videoSrc.Close()
		audioSrc.Close()
		return nil
	})

	return g.Wait()
}
