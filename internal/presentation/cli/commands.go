package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
)

const helpText = `Команды:
  toggle | on | off   включить/выключить отправку кадров
  device N            переключиться на камеру с индексом N
  join ROOM           перейти в другую комнату
  start | stop        запустить/остановить конвейер
  stats               счетчики кадров
  state               состояние соединения и участники комнаты
  info                цели рендеринга участников
  list                список камер
  quit                выход`

// CLI представляет CLI интерфейс приложения
type CLI struct {
	orch    *application.Orchestrator
	cameras application.CameraManager
	logger  application.Logger
	config  *Config
	out     io.Writer

	mutex      sync.Mutex
	deviceCfg  domain.DeviceConfig
	sessionCfg domain.SessionConfig
}

// NewCLI создает новый CLI интерфейс
func NewCLI(orch *application.Orchestrator, cameras application.CameraManager, logger application.Logger, config *Config, out io.Writer) *CLI {
	return &CLI{
		orch:    orch,
		cameras: cameras,
		logger:  logger,
		config:  config,
		out:     out,
	}
}

// Notifier печатает уведомления конвейера
func Notifier(out io.Writer) application.Notifier {
	var mutex sync.Mutex
	return func(message string) {
		mutex.Lock()
		defer mutex.Unlock()
		fmt.Fprintf(out, "» %s\n", message)
	}
}

// Run запускает конвейер, цикл рендеринга и чтение команд до отмены ctx
// или команды quit
func (c *CLI) Run(ctx context.Context, in io.Reader) error {
	// Если нужно вывести список устройств
	if c.config.ListDevices {
		return c.listDevices()
	}

	local, err := c.config.LocalIdentity()
	if err != nil {
		return err
	}
	c.mutex.Lock()
	c.deviceCfg = c.config.DeviceConfig()
	c.sessionCfg = c.config.SessionConfig(local)
	c.mutex.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.renderLoop(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		// Ошибка запуска не завершает клиент: камеру можно сменить командой device
		c.start(gctx)
		fmt.Fprintln(c.out, "Введите help для списка команд")
		c.commandLoop(gctx, in)
		return nil
	})

	g.Wait()
	c.logger.Info("Прерывание получено, закрытие...")
	return c.orch.Stop()
}

// renderLoop вызывает OnTick с частотой TickRate
func (c *CLI) renderLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.orch.OnTick(now)
		}
	}
}

// commandLoop читает команды построчно. Конец ввода не завершает клиент.
func (c *CLI) commandLoop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if c.Execute(ctx, line) {
				return
			}
		}
	}
}

// Execute выполняет одну команду и возвращает true для выхода
func (c *CLI) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true

	case "help", "?":
		fmt.Fprintln(c.out, helpText)

	case "toggle":
		c.setWebcam(!c.orch.WebcamActive())
	case "on":
		c.setWebcam(true)
	case "off":
		c.setWebcam(false)

	case "device":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "Использование: device N")
			return false
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil || index < 0 {
			fmt.Fprintf(c.out, "Некорректный индекс: %s\n", fields[1])
			return false
		}
		c.switchDevice(ctx, index)

	case "join":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "Использование: join ROOM")
			return false
		}
		c.switchRoom(ctx, fields[1])

	case "start":
		c.start(ctx)
	case "stop":
		if err := c.orch.Stop(); err != nil {
			fmt.Fprintf(c.out, "Ошибка остановки: %v\n", err)
		}

	case "stats":
		c.printStats()
	case "state":
		c.printState()
	case "info":
		c.printTargets()
	case "list":
		if err := c.listDevices(); err != nil {
			fmt.Fprintf(c.out, "Ошибка: %v\n", err)
		}

	default:
		fmt.Fprintf(c.out, "Неизвестная команда: %s\n", fields[0])
	}
	return false
}

func (c *CLI) start(ctx context.Context) {
	c.mutex.Lock()
	deviceCfg, sessionCfg := c.deviceCfg, c.sessionCfg
	c.mutex.Unlock()

	if err := c.orch.Start(ctx, deviceCfg, sessionCfg); err != nil {
		fmt.Fprintf(c.out, "Не удалось запустить: %v\n", err)
	}
}

func (c *CLI) setWebcam(active bool) {
	if err := c.orch.SetWebcamActive(active); err != nil {
		fmt.Fprintf(c.out, "Ошибка: %v\n", err)
		return
	}
	if active {
		fmt.Fprintln(c.out, "Отправка кадров включена")
	} else {
		fmt.Fprintln(c.out, "Отправка кадров выключена")
	}
}

// switchDevice перезапускает конвейер с другой камерой
func (c *CLI) switchDevice(ctx context.Context, index int) {
	c.mutex.Lock()
	c.deviceCfg.DeviceIndex = index
	c.deviceCfg.DeviceID = ""
	c.mutex.Unlock()

	if err := c.orch.Stop(); err != nil {
		c.logger.Warn("Ошибка остановки: %v", err)
	}
	c.start(ctx)
}

func (c *CLI) switchRoom(ctx context.Context, room string) {
	c.mutex.Lock()
	c.sessionCfg.RoomID = room
	c.mutex.Unlock()

	if !c.orch.Running() {
		c.start(ctx)
		return
	}
	if err := c.orch.SwitchRoom(ctx, room); err != nil {
		fmt.Fprintf(c.out, "Не удалось перейти в комнату %s: %v\n", room, err)
	}
}

func (c *CLI) printStats() {
	s := c.orch.Stats()
	fmt.Fprintf(c.out, "Отправлено: %d кадров (%d байт, в среднем %d)\n", s.FramesSent, s.BytesSent, s.AverageFrameSize())
	fmt.Fprintf(c.out, "Получено: %d кадров\n", s.FramesReceived)
	fmt.Fprintf(c.out, "Отброшено: %d, ошибки кодирования: %d, декодирования: %d, протокола: %d\n",
		s.DroppedFrames, s.EncodeErrors, s.DecodeErrors, s.ProtocolErrors)
}

func (c *CLI) printState() {
	st := c.orch.Session()
	fmt.Fprintf(c.out, "Соединение: %s, комната: %s, камера: %v\n", st.Status, st.RoomID, c.orch.WebcamActive())

	peers := make([]domain.PeerIdentity, 0, len(st.Roster))
	for _, p := range st.Roster {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].DisplayName < peers[j].DisplayName })

	fmt.Fprintf(c.out, "Участники (%d):\n", len(peers))
	for _, p := range peers {
		fmt.Fprintf(c.out, "  %s\n", p)
	}
}

func (c *CLI) printTargets() {
	states := c.orch.Cache().Snapshot()
	fmt.Fprintf(c.out, "Цели рендеринга (%d):\n", len(states))
	for _, st := range states {
		last := "-"
		if !st.LastFrameAt.IsZero() {
			last = st.LastFrameAt.Format("15:04:05.000")
		}
		fmt.Fprintf(c.out, "  [%d] %s %dx%d активна=%v кадр=%s #%d\n",
			st.Target, st.Identity.DisplayName, st.Width, st.Height, st.Active, last, st.LastSeq)
	}
}

// listDevices выводит список доступных устройств
func (c *CLI) listDevices() error {
	devices, err := c.cameras.ListDevices()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, "Доступные устройства:")
	for _, device := range devices {
		fmt.Fprintf(c.out, "[%d] %s (%s)\n", device.Index, device.Label, device.Kind)
	}
	return nil
}
