package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"webcamhead/internal/domain"
)

// Config представляет конфигурацию CLI
type Config struct {
	ServerURL   string
	Room        string
	Name        string
	Identity    string
	Width       int
	Height      int
	FPS         int
	SendFPS     int
	Quality     float64
	Device      int
	DeviceID    string
	ListDevices bool
	Debug       bool
	Strict      bool

	SnapshotDir      string
	SnapshotInterval time.Duration
	SkinsDir         string
	SkinURL          string
	Layout           string
	TickRate         int
}

// ParseFlags парсит аргументы командной строки
func ParseFlags(args []string, output io.Writer) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("webcam-client", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&config.ServerURL, "server", domain.DefaultServerURL, "адрес ретранслятора (ws:// или wss://)")
	fs.StringVar(&config.Room, "room", domain.DefaultRoomID, "комната")
	fs.StringVar(&config.Name, "name", "", "имя участника")
	fs.StringVar(&config.Identity, "id", "", "UUID участника (по умолчанию случайный)")
	fs.IntVar(&config.Width, "width", domain.DefaultCaptureWidth, "ширина видео")
	fs.IntVar(&config.Height, "height", domain.DefaultCaptureHeight, "высота видео")
	fs.IntVar(&config.FPS, "fps", domain.DefaultCaptureFPS, "частота захвата")
	fs.IntVar(&config.SendFPS, "send-fps", domain.DefaultSendFPS, "максимальная частота отправки")
	fs.Float64Var(&config.Quality, "quality", domain.DefaultQuality, "качество JPEG (0..1]")
	fs.IntVar(&config.Device, "device", 0, "индекс камеры")
	fs.StringVar(&config.DeviceID, "device-id", "", "ID устройства камеры, имеет приоритет над индексом")
	fs.BoolVar(&config.ListDevices, "list-devices", false, "показать список доступных камер и выйти")
	fs.BoolVar(&config.Debug, "debug", false, "включить отладочные сообщения")
	fs.BoolVar(&config.Strict, "strict", false, "паника при нарушении целостности кэша")
	fs.StringVar(&config.SnapshotDir, "snapshot-dir", "", "сохранять цели в PNG в этот каталог")
	fs.DurationVar(&config.SnapshotInterval, "snapshot-interval", time.Second, "минимальный интервал между снимками одной цели")
	fs.StringVar(&config.SkinsDir, "skins-dir", "", "каталог со скинами <uuid>.png или <имя>.png")
	fs.StringVar(&config.SkinURL, "skin-url", "", "шаблон URL скина с {uuid} и {name}")
	fs.StringVar(&config.Layout, "layout", "rgba", "порядок каналов целей: rgba или bgra")
	fs.IntVar(&config.TickRate, "tick-rate", 30, "частота цикла рендеринга")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if config.Name == "" && !config.ListDevices {
		return nil, fmt.Errorf("не задано имя участника (-name)")
	}
	if config.TickRate <= 0 {
		return nil, fmt.Errorf("некорректная частота цикла рендеринга: %d", config.TickRate)
	}
	// Идентичность фиксируется один раз на запуск
	if config.Identity == "" {
		config.Identity = uuid.NewString()
	}
	return config, nil
}

// LocalIdentity идентичность участника из флагов
func (c *Config) LocalIdentity() (domain.PeerIdentity, error) {
	id, err := uuid.Parse(c.Identity)
	if err != nil {
		return domain.PeerIdentity{}, fmt.Errorf("некорректный UUID %q: %w", c.Identity, err)
	}
	return domain.PeerIdentity{ID: id, DisplayName: c.Name}, nil
}

// DeviceConfig параметры камеры
func (c *Config) DeviceConfig() domain.DeviceConfig {
	return domain.DeviceConfig{
		DeviceIndex: c.Device,
		DeviceID:    c.DeviceID,
		Width:       c.Width,
		Height:      c.Height,
		FPS:         c.FPS,
	}
}

// SessionConfig параметры сессии
func (c *Config) SessionConfig(local domain.PeerIdentity) domain.SessionConfig {
	return domain.SessionConfig{
		ServerURL: c.ServerURL,
		RoomID:    c.Room,
		Local:     local,
		SendFPS:   c.SendFPS,
		Quality:   c.Quality,
	}
}

// PixelLayout порядок каналов целей
func (c *Config) PixelLayout() (domain.PixelLayout, error) {
	switch strings.ToLower(c.Layout) {
	case "rgba":
		return domain.LayoutRGBA, nil
	case "bgra":
		return domain.LayoutBGRA, nil
	}
	return 0, fmt.Errorf("неизвестный порядок каналов %q", c.Layout)
}

// TickInterval период цикла рендеринга
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
