package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"webcamhead/internal/infrastructure/logger"
	"webcamhead/internal/relay"
)

func main() {
	// Парсинг флагов командной строки
	port := flag.Int("port", 3000, "порт для запуска сервера")
	recordDir := flag.String("record", "", "директория для сохранения пересылаемых кадров (пусто - не записывать)")
	recordEvery := flag.Int("record-every", 1, "сохранять каждый N-й кадр")
	debug := flag.Bool("debug", false, "включить отладочные сообщения")
	flag.Parse()

	log := logger.NewLogrusLogger(*debug, "relay")

	var recorder *relay.FrameRecorder
	if *recordDir != "" {
		var err error
		recorder, err = relay.NewFrameRecorder(*recordDir, *recordEvery, log.With("recorder"))
		if err != nil {
			log.Error("Не удалось создать запись: %v", err)
			os.Exit(1)
		}
		log.Info("Директория для записей: %s", *recordDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(recorder, log.With("hub"))
	server := relay.NewServer(hub, log)

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Статус сервера доступен по адресу http://localhost%s", addr)
	if err := server.Run(ctx, addr); err != nil {
		log.Error("Ошибка сервера: %v", err)
		os.Exit(1)
	}
	log.Info("Сервер остановлен")
}
