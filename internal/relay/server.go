package relay

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"webcamhead/internal/application"
)

const shutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true // Разрешаем все подключения
	},
}

// Server HTTP-обертка над Hub
type Server struct {
	hub     *Hub
	logger  application.Logger
	started time.Time
}

// NewServer создает сервер
func NewServer(hub *Hub, logger application.Logger) *Server {
	return &Server{hub: hub, logger: logger, started: time.Now()}
}

// Handler маршруты ретранслятора
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/rooms/{roomId}/players", s.handlePlayers)
	mux.HandleFunc("GET /{$}", s.handleStatus)
	return mux
}

// Run слушает addr до отмены ctx, затем закрывает подключения
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Запуск сервера на %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Остановка сервера...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Подключения WebSocket не отслеживаются http.Server
		s.hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}

	c := newClient(s.hub, conn)
	s.hub.register(c)
	s.logger.Debug("Новое подключение: %s", c.addr)

	go c.writeLoop()
	go c.readLoop()
}

type healthResponse struct {
	Status          string  `json:"status"`
	Uptime          float64 `json:"uptime"`
	Players         int     `json:"players"`
	Rooms           int     `json:"rooms"`
	FramesForwarded uint64  `json:"framesForwarded"`
	FramesDropped   uint64  `json:"framesDropped"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.hub.Stats()
	writeJSON(w, healthResponse{
		Status:          "ok",
		Uptime:          time.Since(s.started).Seconds(),
		Players:         st.Players,
		Rooms:           st.Rooms,
		FramesForwarded: st.FramesForwarded,
		FramesDropped:   st.FramesDropped,
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"rooms": s.hub.Rooms()})
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	writeJSON(w, map[string]any{"roomId": roomID, "players": s.hub.Players(roomID)})
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Ретранслятор веб-камер</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		.status { padding: 20px; background-color: #e0f7fa; border-radius: 5px; }
	</style>
</head>
<body>
	<h1>Ретранслятор веб-камер</h1>
	<div class="status">
		<p>✅ Сервер запущен и принимает соединения</p>
		<p>Участников: {{.Stats.Players}}, комнат: {{.Stats.Rooms}}</p>
		<p>Переслано кадров: {{.Stats.FramesForwarded}}, отброшено: {{.Stats.FramesDropped}}</p>
		{{if .RecordDir}}<p>Директория для записей: <code>{{.RecordDir}}</code></p>{{end}}
	</div>
	<ul>
	{{range .Rooms}}<li>{{.ID}}: {{.PlayerCount}}</li>
	{{end}}</ul>
</body>
</html>
`))

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Stats     HubStats
		Rooms     []RoomInfo
		RecordDir string
	}{Stats: s.hub.Stats(), Rooms: s.hub.Rooms()}
	if s.hub.recorder != nil {
		data.RecordDir = s.hub.recorder.OutputDir()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage.Execute(w, data); err != nil {
		s.logger.Warn("Ошибка страницы статуса: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
