package relay

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
	"webcamhead/internal/infrastructure/compositor"
	"webcamhead/internal/infrastructure/logger"
	"webcamhead/internal/infrastructure/streaming"
	"webcamhead/internal/infrastructure/transcoder"
)

// patternCamera отдает новый кадр 320x240 при каждом чтении
type patternCamera struct {
	seq atomic.Int64
}

func (c *patternCamera) ListDevices() ([]domain.VideoDevice, error) {
	return []domain.VideoDevice{{ID: "pattern", Label: "Pattern", Kind: "videoinput"}}, nil
}

func (c *patternCamera) OpenCamera(context.Context, domain.DeviceConfig) (application.CaptureDevice, error) {
	return c, nil
}

func (c *patternCamera) LatestFrame() (domain.RawFrame, bool) {
	n := c.seq.Add(1)
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(n), A: 0xFF})
		}
	}
	return transcoder.ToRawFrame(img, time.Unix(0, n)), true
}

func (c *patternCamera) Failed() bool { return false }
func (c *patternCamera) Close() error { return nil }

type e2eClient struct {
	local domain.PeerIdentity
	orch  *application.Orchestrator
	comp  *compositor.Compositor
}

func newE2EClient(t *testing.T, name string) *e2eClient {
	t.Helper()
	log := logger.NewDiscardLogger()
	local := domain.NewPeerIdentity(name)
	comp := compositor.NewCompositor(domain.LayoutRGBA, transcoder.FilterBilinear, log)

	orch := application.NewOrchestrator(application.Dependencies{
		Cameras: &patternCamera{},
		NewSession: func() application.SignalingSession {
			return streaming.NewWebSocketSession(nil, streaming.DefaultBackoff(), log)
		},
		Transcoder: transcoder.NewJPEGTranscoder(local),
		Compositor: comp,
		Logger:     log,
	}, application.Options{
		Placement: compositor.DefaultSkinPlacement(),
		Fallback:  compositor.FallbackSkin(),
		Strict:    true,
	})
	t.Cleanup(func() { orch.Stop() })

	return &e2eClient{local: local, orch: orch, comp: comp}
}

func (c *e2eClient) start(t *testing.T, serverURL, room string) {
	t.Helper()
	cfg := domain.DefaultSessionConfig(c.local)
	cfg.ServerURL = serverURL
	cfg.RoomID = room
	require.NoError(t, c.orch.Start(context.Background(), domain.DefaultDeviceConfig(), cfg))
}

func TestEndToEnd_FrameReachesPeerCache(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := newE2EClient(t, "alice")
	bob := newE2EClient(t, "bob")

	alice.start(t, wsURL(srv), "r1")
	bob.start(t, wsURL(srv), "r1")

	require.Eventually(t, func() bool {
		_, bobSeesAlice := bob.orch.Session().Roster[alice.local.ID]
		_, aliceSeesBob := alice.orch.Session().Roster[bob.local.ID]
		return bobSeesAlice && aliceSeesBob
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, hub.Players("r1"), 2)

	// Время тиков идет быстрее реального, чтобы не упираться в SendFPS
	now := time.Now()
	step := 0
	var target domain.TargetHandle
	require.Eventually(t, func() bool {
		step++
		at := now.Add(time.Duration(step) * 200 * time.Millisecond)
		alice.orch.Tick(at)
		bob.orch.Tick(at)

		st, ok := bob.orch.Cache().Get(alice.local.ID)
		if !ok || !st.Active || st.LastSeq == 0 {
			return false
		}
		target = st.Target
		return true
	}, 5*time.Second, 20*time.Millisecond)

	surface, ok := bob.comp.Surface(target)
	require.True(t, ok)
	assert.Equal(t, compositor.SkinTargetSize, surface.Width)
	assert.Greater(t, alice.orch.Stats().FramesSent, uint64(0))
	assert.Greater(t, bob.orch.Stats().FramesReceived, uint64(0))

	require.NoError(t, alice.orch.Stop())

	require.Eventually(t, func() bool {
		bob.orch.Tick(time.Now())
		_, ok := bob.orch.Cache().Get(alice.local.ID)
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	_, ok = bob.comp.Surface(target)
	assert.False(t, ok, "цель ушедшего участника уничтожена")
	assert.Equal(t, 1, bob.comp.Live())
	assert.NotContains(t, bob.orch.Session().Roster, alice.local.ID)
}
