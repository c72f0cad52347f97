package systems

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func newTestManager(t *testing.T, events *core.EventSystem) (*SystemManager, *headless.Backend) {
	t.Helper()
	backend := headless.New(headless.Options{})
	sm, err := NewSystemManager(SystemManagerConfig{
		AppName:            t.Name(),
		AppWidth:           640,
		AppHeight:          480,
		Workers:            2,
		ResizeSettleFrames: 3,
	}, backend, events)
	if err != nil {
		t.Fatalf("failed to create system manager: %v", err)
	}
	return sm, backend
}

func TestSystemManagerAppliesSettledResize(t *testing.T) {
	events := core.NewEventSystem()
	sm, backend := newTestManager(t, events)
	defer sm.Shutdown()

	if _, err := sm.Resources.CreatePipeline(1, metadata.PipelineOptions{Layout: quadLayout, Stages: shaderStages()}); err != nil {
		t.Fatal(err)
	}
	rp, err := sm.Resources.CreateRenderPass(1, metadata.RenderPassOptions{Stages: []metadata.RenderStageConfig{
		{Pipeline: 1, Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}}},
		{Pipeline: 1, Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatR8}, Width: 64, Height: 64}},
		{Pipeline: 1, Target: metadata.RenderTargetConfig{Window: true}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	events.Fire(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{Width: 800, Height: 600}})
	for frame := 1; frame < 3; frame++ {
		if _, err := sm.Update(); err != nil {
			t.Fatal(err)
		}
		if w := rp.Stage(0).Target.Width; w != 640 {
			t.Fatalf("frame %d: expected the resize to wait, width is %d", frame, w)
		}
	}
	if _, err := sm.Update(); err != nil {
		t.Fatal(err)
	}

	if w, h := rp.Stage(0).Target.Width, rp.Stage(0).Target.Height; w != 800 || h != 600 {
		t.Fatalf("expected the window sized target to be 800x600, got %dx%d", w, h)
	}
	if w := rp.Stage(1).Target.Width; w != 64 {
		t.Fatalf("expected the fixed size target to keep its width, got %d", w)
	}
	if w, h := backend.FramebufferSize(); w != 800 || h != 600 {
		t.Fatalf("expected the backend to be resized, got %dx%d", w, h)
	}
	if sm.RendererSystem.Resizing {
		t.Fatal("expected the resize to be finished")
	}
}

func TestRendererSystemWaitsForNonZeroSize(t *testing.T) {
	backend := headless.New(headless.Options{})
	rs, err := NewRendererSystem(RendererSystemConfig{AppWidth: 320, AppHeight: 200, ResizeSettleFrames: 1}, backend)
	if err != nil {
		t.Fatal(err)
	}
	if err := rs.Initialize(); err != nil {
		t.Fatal(err)
	}

	rs.OnResized(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{}})
	for i := 0; i < 5; i++ {
		if applied, _ := rs.Update(nil); applied {
			t.Fatal("expected a minimized window not to be applied")
		}
	}
	rs.OnResized(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{Width: 100, Height: 50}})
	if applied, err := rs.Update(nil); !applied || err != nil {
		t.Fatalf("expected the resize to be applied, got %t (%v)", applied, err)
	}
	if w, h := backend.FramebufferSize(); w != 100 || h != 50 {
		t.Fatalf("expected 100x50, got %dx%d", w, h)
	}

	if handled := rs.OnResized(core.EventContext{Type: core.EventCodeResized, Data: "nope"}); handled || rs.Resizing {
		t.Fatal("expected a malformed payload to be ignored")
	}
}

func TestSystemManagerUpdateDeliversCompletions(t *testing.T) {
	sm, _ := newTestManager(t, nil)
	defer sm.Shutdown()

	var mesh *metadata.Mesh
	sm.Resources.AsyncCreateMesh(1, metadata.MeshOptions{Layout: quadLayout, Vertices: make([]uint8, 16)}, func(m *metadata.Mesh, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		mesh = m
	})
	waitIdle(t, sm.JobSystem)

	n, err := sm.Update()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || mesh == nil {
		t.Fatalf("expected one delivered completion, got %d", n)
	}
}

func TestSystemManagerShutdown(t *testing.T) {
	events := core.NewEventSystem()
	sm, backend := newTestManager(t, events)

	if _, err := sm.Resources.CreateTexture(1, pixelOptions(2, 2)); err != nil {
		t.Fatal(err)
	}
	var delivered *metadata.Texture
	sm.Resources.AsyncCreateTexture(2, pixelOptions(2, 2), func(tex *metadata.Texture, _ error) { delivered = tex })
	waitIdle(t, sm.JobSystem)

	if err := sm.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if delivered == nil {
		t.Fatal("expected the finished build to be delivered during shutdown")
	}
	if live := backend.Live(metadata.ResourceKindTexture); live != 0 {
		t.Fatalf("expected every texture to be destroyed, %d live", live)
	}

	var gotErr error
	sm.Resources.AsyncCreateTexture(3, pixelOptions(1, 1), func(_ *metadata.Texture, err error) { gotErr = err })
	if !errors.Is(gotErr, core.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", gotErr)
	}

	// the listener is gone, nothing may touch the stopped renderer system
	events.Fire(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{Width: 1, Height: 1}})
	if sm.RendererSystem.Resizing {
		t.Fatal("expected the resize listener to be unregistered")
	}
}
