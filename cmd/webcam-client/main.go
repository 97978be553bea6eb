package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
	"webcamhead/internal/infrastructure/camera"
	"webcamhead/internal/infrastructure/compositor"
	"webcamhead/internal/infrastructure/logger"
	"webcamhead/internal/infrastructure/streaming"
	"webcamhead/internal/infrastructure/transcoder"
	"webcamhead/internal/presentation/cli"
)

func main() {
	// Парсим флаги
	config, err := cli.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(2)
	}

	// Инициализируем логгер
	log := logger.NewLogrusLogger(config.Debug, "client")

	layout, err := config.PixelLayout()
	if err != nil {
		log.Error("%v", err)
		os.Exit(2)
	}
	local, err := config.LocalIdentity()
	if err != nil {
		log.Error("%v", err)
		os.Exit(2)
	}

	// Инициализируем инфраструктурные компоненты
	cameraManager := camera.NewMediaDevicesManager(log.With("camera"))
	comp := compositor.NewCompositor(layout, transcoder.FilterBilinear, log.With("compositor"))

	var bases compositor.Chain
	if config.SkinsDir != "" {
		bases = append(bases, compositor.DirProvider{Dir: config.SkinsDir})
	}
	if config.SkinURL != "" {
		bases = append(bases, compositor.NewHTTPProvider(config.SkinURL, application.DefaultBaseImageTimeout))
	}
	bases = append(bases, compositor.StaticProvider{Image: compositor.FallbackSkin()})

	var orch *application.Orchestrator

	var uploader application.TargetUploader
	if config.SnapshotDir != "" {
		snapshots, err := compositor.NewSnapshotUploader(config.SnapshotDir, config.SnapshotInterval)
		if err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		snapshots.Label = func(h domain.TargetHandle) string {
			if p, ok := orch.Cache().Owner(h); ok {
				return p.DisplayName
			}
			return ""
		}
		uploader = snapshots
	}

	sessionLog := log.With("session")
	orch = application.NewOrchestrator(application.Dependencies{
		Cameras: cameraManager,
		NewSession: func() application.SignalingSession {
			return streaming.NewWebSocketSession(nil, streaming.DefaultBackoff(), sessionLog)
		},
		Transcoder: transcoder.NewJPEGTranscoder(local),
		Compositor: comp,
		Bases:      bases,
		Uploader:   uploader,
		Logger:     log.With("orchestrator"),
		Notify:     cli.Notifier(os.Stdout),
	}, application.Options{
		Placement: compositor.DefaultSkinPlacement(),
		Fallback:  compositor.FallbackSkin(),
		Strict:    config.Strict,
	})

	// Настраиваем обработку сигналов завершения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Запускаем CLI
	cliApp := cli.NewCLI(orch, cameraManager, log, config, os.Stdout)
	if err := cliApp.Run(ctx, os.Stdin); err != nil {
		log.Error("Ошибка: %v", err)
		os.Exit(1)
	}
}
