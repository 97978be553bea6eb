package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
)

// recording каталог с кадрами одного участника
type recording struct {
	dir    string
	frames uint64
	saved  uint64
}

// FrameRecorder сохраняет пересылаемые JPEG-кадры на диск,
// по каталогу на каждый вход участника
type FrameRecorder struct {
	outputDir string
	every     uint64
	logger    application.Logger

	mutex      sync.Mutex
	recordings map[uuid.UUID]*recording
}

// NewFrameRecorder создает запись в outputDir. every > 1 сохраняет каждый every-й кадр.
func NewFrameRecorder(outputDir string, every int, logger application.Logger) (*FrameRecorder, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &FrameRecorder{
		outputDir:  outputDir,
		every:      uint64(every),
		logger:     logger,
		recordings: make(map[uuid.UUID]*recording),
	}, nil
}

// Write сохраняет кадр участника
func (r *FrameRecorder) Write(peer domain.PeerIdentity, jpeg []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.recordings[peer.ID]
	if !ok {
		// Каталог именуется по времени входа, как файлы записи
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		dir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s_%s", timestamp, safeName(peer.DisplayName), peer.ID.String()[:8]))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("не удалось создать директорию: %w", err)
		}
		rec = &recording{dir: dir}
		r.recordings[peer.ID] = rec
		r.logger.Info("Запись кадров %s в %s", peer, dir)
	}

	rec.frames++
	if (rec.frames-1)%r.every != 0 {
		return nil
	}

	path := filepath.Join(rec.dir, fmt.Sprintf("frame_%06d.jpg", rec.frames))
	if err := os.WriteFile(path, jpeg, 0644); err != nil {
		return err
	}
	rec.saved++
	return nil
}

// Forget завершает запись участника
func (r *FrameRecorder) Forget(peer domain.PeerIdentity) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if rec, ok := r.recordings[peer.ID]; ok {
		r.logger.Info("Запись %s завершена: сохранено %d из %d кадров", peer, rec.saved, rec.frames)
		delete(r.recordings, peer.ID)
	}
}

// Dir каталог текущей записи участника
func (r *FrameRecorder) Dir(peer domain.PeerIdentity) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.recordings[peer.ID]
	if !ok {
		return "", false
	}
	return rec.dir, true
}

// OutputDir корневой каталог записей
func (r *FrameRecorder) OutputDir() string {
	return r.outputDir
}

func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
