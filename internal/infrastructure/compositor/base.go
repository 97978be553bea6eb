package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
)

// ErrNoBaseImage поставщик не знает изображения для участника
var ErrNoBaseImage = errors.New("базовое изображение не найдено")

// maxBaseImageBytes предел размера загружаемого скина
const maxBaseImageBytes = 1 << 20

// DirProvider читает скины из каталога: <uuid>.png, затем <имя>.png
type DirProvider struct {
	Dir string
}

// BaseImage реализует application.BaseImageProvider
func (p DirProvider) BaseImage(ctx context.Context, peer domain.PeerIdentity) (image.Image, error) {
	candidates := []string{peer.ID.String() + ".png"}
	if name := safeName(peer.DisplayName); name != "" {
		candidates = append(candidates, name+".png")
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := decodePNGFile(filepath.Join(p.Dir, c))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return img, err
	}
	return nil, ErrNoBaseImage
}

func decodePNGFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	return img, nil
}

// safeName убирает из имени разделители пути
func safeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}

// HTTPProvider загружает скин по шаблону URL. В шаблоне подставляются
// {uuid} и {name}.
type HTTPProvider struct {
	URLTemplate string
	Client      *http.Client
}

// NewHTTPProvider создает поставщик с клиентом, ограниченным по времени
func NewHTTPProvider(urlTemplate string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		URLTemplate: urlTemplate,
		Client:      &http.Client{Timeout: timeout},
	}
}

// BaseImage реализует application.BaseImageProvider
func (p *HTTPProvider) BaseImage(ctx context.Context, peer domain.PeerIdentity) (image.Image, error) {
	url := strings.NewReplacer(
		"{uuid}", peer.ID.String(),
		"{name}", peer.DisplayName,
	).Replace(p.URLTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "base-image", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoBaseImage
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("сервер скинов вернул %s", resp.Status)
	}

	img, err := png.Decode(io.LimitReader(resp.Body, maxBaseImageBytes))
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования скина: %w", err)
	}
	return img, nil
}

// StaticProvider отдает одно и то же изображение всем участникам
type StaticProvider struct {
	Image image.Image
}

// BaseImage реализует application.BaseImageProvider
func (p StaticProvider) BaseImage(context.Context, domain.PeerIdentity) (image.Image, error) {
	if p.Image == nil {
		return nil, ErrNoBaseImage
	}
	return p.Image, nil
}

// Chain опрашивает поставщиков по порядку до первого успеха
type Chain []application.BaseImageProvider

// BaseImage реализует application.BaseImageProvider
func (c Chain) BaseImage(ctx context.Context, peer domain.PeerIdentity) (image.Image, error) {
	var errs []error
	for _, p := range c {
		img, err := p.BaseImage(ctx, peer)
		if err == nil {
			return img, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNoBaseImage
	}
	return nil, errors.Join(errs...)
}
