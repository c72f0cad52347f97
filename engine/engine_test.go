package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func headlessGame(frames uint64) *Game {
	config := DefaultApplicationConfig()
	config.Name = "engine-test"
	config.Backend = "headless"
	config.AssetsDir = ""
	config.Workers = 2
	config.Frames = frames
	return &Game{ApplicationConfig: &config}
}

func newEngine(t *testing.T, g *Game) *Engine {
	t.Helper()
	e, err := New(g)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() {
		if e.currentStage != EngineStageShuttingDown {
			_ = e.Shutdown()
		}
	})
	if err := e.Initialize(); err != nil {
		t.Fatalf("failed to initialize engine: %v", err)
	}
	return e
}

func TestNewRejectsSecondEngine(t *testing.T) {
	first, err := New(headlessGame(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(headlessGame(0)); !errors.Is(err, core.ErrEngineExists) {
		t.Fatalf("expected ErrEngineExists, got %v", err)
	}
	if err := first.Shutdown(); err != nil {
		t.Fatal(err)
	}

	second, err := New(headlessGame(0))
	if err != nil {
		t.Fatalf("expected a new engine after shutdown, got %v", err)
	}
	if err := second.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestRunStopsAfterConfiguredFrames(t *testing.T) {
	g := headlessGame(5)
	updates, renders := 0, 0
	g.FnUpdate = func(float64) error { updates++; return nil }
	g.FnRender = func(float64) error { renders++; return nil }
	e := newEngine(t, g)

	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	if e.FrameCount() != 5 || updates != 5 || renders != 5 {
		t.Fatalf("expected 5 frames, got %d frames, %d updates, %d renders", e.FrameCount(), updates, renders)
	}
	if g.SystemManager == nil {
		t.Fatalf("expected the game to receive the system manager")
	}
}

func TestQuitEventStopsRun(t *testing.T) {
	g := headlessGame(0)
	var e *Engine
	g.FnUpdate = func(float64) error {
		if e.FrameCount() == 2 {
			e.Events().Fire(core.EventContext{Type: core.EventCodeApplicationQuit})
		}
		return nil
	}
	e = newEngine(t, g)

	done := make(chan error, 1)
	go func() { done <- e.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after the quit event")
	}
	if e.FrameCount() != 3 {
		t.Fatalf("expected 3 frames, got %d", e.FrameCount())
	}
}

func TestFrameDeliversAsyncCreation(t *testing.T) {
	g := headlessGame(0)
	var (
		got     *metadata.Texture
		gotErr  error
		handled int
	)
	g.FnInitialize = func() error {
		g.SystemManager.Resources.AsyncCreateTexture(1, metadata.TextureOptions{
			Pixels: make([]uint8, 2*2*4),
			Width:  2,
			Height: 2,
			Format: metadata.TextureFormatRGBA8,
		}, func(tex *metadata.Texture, err error) {
			got, gotErr = tex, err
			handled++
		})
		return nil
	}
	e := newEngine(t, g)

	deadline := time.After(5 * time.Second)
	for handled == 0 {
		select {
		case <-deadline:
			t.Fatalf("completion was never delivered")
		default:
		}
		if err := e.Frame(0); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	if gotErr != nil || got == nil {
		t.Fatalf("expected a texture, got %v, %v", got, gotErr)
	}
	if handled != 1 {
		t.Fatalf("expected the handler to run once, ran %d times", handled)
	}
	if total, _ := e.Metrics().Drained(); total == 0 {
		t.Fatalf("expected metrics to count the drained completion")
	}
}

func TestInitializeRejectsBootConfig(t *testing.T) {
	g := headlessGame(0)
	g.FnBoot = func() error {
		g.ApplicationConfig.Backend = "software"
		return nil
	}
	e, err := New(g)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if err := e.Initialize(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage, got %v", err)
	}
}

func TestFrameBeforeInitialize(t *testing.T) {
	e, err := New(headlessGame(0))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if err := e.Frame(0); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage, got %v", err)
	}
}
