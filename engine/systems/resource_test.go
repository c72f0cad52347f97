package systems

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var quadLayout = metadata.VertexLayout{
	Stride: 8,
	Attributes: []metadata.VertexAttribute{
		{Location: 0, Format: metadata.VertexFormatFloat32x2},
	},
}

type testEnv struct {
	backend   *headless.Backend
	scheduler *StrandScheduler
	resources *ResourceManager
}

func newTestEnv(t *testing.T, workers int, opts headless.Options, config ResourceManagerConfig, am *assets.AssetManager) *testEnv {
	t.Helper()
	b := headless.New(opts)
	if err := b.Initialize(metadata.RendererBackendConfig{ApplicationName: t.Name(), FramebufferWidth: 640, FramebufferHeight: 480}); err != nil {
		t.Fatal(err)
	}
	s := newTestScheduler(t, workers)
	rm, err := NewResourceManager(config, b, s, am)
	if err != nil {
		t.Fatalf("failed to create resource manager: %v", err)
	}
	return &testEnv{backend: b, scheduler: s, resources: rm}
}

func (e *testEnv) drain(t *testing.T) int {
	t.Helper()
	waitIdle(t, e.scheduler)
	return e.scheduler.Drain()
}

func pixelOptions(w, h uint32) metadata.TextureOptions {
	return metadata.TextureOptions{
		Pixels: make([]uint8, w*h*4),
		Width:  w,
		Height: h,
		Format: metadata.TextureFormatRGBA8,
	}
}

func shaderStages() []metadata.ShaderSource {
	return []metadata.ShaderSource{
		{Stage: metadata.ShaderStageVertex, Code: []uint8("void main(){}")},
		{Stage: metadata.ShaderStageFragment, Code: []uint8("void main(){}")},
	}
}

func TestCreateTextureDuplicateKeyReturnsExisting(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)

	first, err := env.resources.CreateTexture(1, pixelOptions(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.resources.CreateTexture(1, pixelOptions(2, 2))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected a duplicate key to return the registered texture")
	}
	if second.Width != 1 {
		t.Fatalf("expected the new options to be ignored, width is %d", second.Width)
	}
	if first.Refs() != 2 {
		t.Fatalf("expected 2 references, got %d", first.Refs())
	}
	if live := env.backend.Live(metadata.ResourceKindTexture); live != 1 {
		t.Fatalf("expected one native texture, got %d", live)
	}
}

func TestCreateEveryKindDuplicateKey(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	p1, err := rm.CreatePipeline(1, metadata.PipelineOptions{Layout: quadLayout, Stages: shaderStages()})
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := rm.CreatePipeline(1, metadata.PipelineOptions{Layout: quadLayout, Stages: shaderStages()[:1]})
	if p1 != p2 {
		t.Error("expected the same pipeline for key 1")
	}

	m1, err := rm.CreateMesh(1, metadata.MeshOptions{Layout: quadLayout, Vertices: make([]uint8, 32), Indices: []uint32{0, 1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	m2, _ := rm.CreateMesh(1, metadata.MeshOptions{Layout: quadLayout, Vertices: make([]uint8, 8)})
	if m1 != m2 || m2.VertexCount != 4 || m2.IndexCount != 3 {
		t.Error("expected the same mesh for key 1")
	}

	b1, err := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 16, Slots: 2})
	if err != nil {
		t.Fatal(err)
	}
	b2, _ := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 64, Slots: 9})
	if b1 != b2 || b2.Stride != 16 {
		t.Error("expected the same buffer for key 1")
	}

	opts := metadata.RenderPassOptions{Stages: []metadata.RenderStageConfig{{Pipeline: 1, Target: metadata.RenderTargetConfig{Window: true}}}}
	rp1, err := rm.CreateRenderPass(1, opts)
	if err != nil {
		t.Fatal(err)
	}
	rp2, _ := rm.CreateRenderPass(1, metadata.RenderPassOptions{})
	if rp1 != rp2 {
		t.Error("expected the same render pass for key 1")
	}
}

func TestAsyncCreateTexture(t *testing.T) {
	for _, multithreaded := range []bool{false, true} {
		env := newTestEnv(t, 2, headless.Options{Multithreaded: multithreaded}, ResourceManagerConfig{}, nil)

		var got *metadata.Texture
		var gotErr error
		calls := 0
		env.resources.AsyncCreateTexture(5, pixelOptions(4, 4), func(tex *metadata.Texture, err error) {
			calls++
			got, gotErr = tex, err
		})
		if calls != 0 {
			t.Fatalf("multithreaded=%t: expected the handler to wait for a drain", multithreaded)
		}
		env.drain(t)

		if calls != 1 || gotErr != nil || got == nil {
			t.Fatalf("multithreaded=%t: expected one successful delivery, got %d calls, err %v", multithreaded, calls, gotErr)
		}
		if registered, ok := env.resources.LookupTexture(5); !ok || registered != got {
			t.Fatalf("multithreaded=%t: expected the texture to be registered", multithreaded)
		}
		if got.Refs() != 1 {
			t.Fatalf("multithreaded=%t: expected 1 reference, got %d", multithreaded, got.Refs())
		}
	}
}

func TestAsyncCreateLosesRaceToSyncCreate(t *testing.T) {
	for _, multithreaded := range []bool{false, true} {
		env := newTestEnv(t, 1, headless.Options{Multithreaded: multithreaded}, ResourceManagerConfig{}, nil)

		var delivered *metadata.Texture
		env.resources.AsyncCreateTexture(7, pixelOptions(2, 2), func(tex *metadata.Texture, err error) {
			if err != nil {
				t.Errorf("unexpected error %v", err)
			}
			delivered = tex
		})
		waitIdle(t, env.scheduler)

		registered, err := env.resources.CreateTexture(7, pixelOptions(1, 1))
		if err != nil {
			t.Fatal(err)
		}
		env.scheduler.Drain()

		if delivered != registered {
			t.Fatalf("multithreaded=%t: expected the async handler to receive the registered texture", multithreaded)
		}
		if live := env.backend.Live(metadata.ResourceKindTexture); live != 1 {
			t.Fatalf("multithreaded=%t: expected the losing build to be destroyed, %d native textures live", multithreaded, live)
		}
		if registered.Refs() != 2 {
			t.Fatalf("multithreaded=%t: expected 2 references, got %d", multithreaded, registered.Refs())
		}
	}
}

func TestAsyncCreateExistingKeyIsDeliveredOnDrain(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)

	tex, err := env.resources.CreateTexture(3, pixelOptions(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	var delivered *metadata.Texture
	env.resources.AsyncCreateTexture(3, pixelOptions(8, 8), func(got *metadata.Texture, _ error) { delivered = got })
	if delivered != nil {
		t.Fatal("expected delivery to wait for a drain")
	}
	env.drain(t)
	if delivered != tex {
		t.Fatal("expected the registered texture to be delivered")
	}
}

func TestAsyncCreateWithoutWorkersBuildsInPlace(t *testing.T) {
	env := newTestEnv(t, 0, headless.Options{}, ResourceManagerConfig{}, nil)

	var delivered *metadata.Mesh
	env.resources.AsyncCreateMesh(2, metadata.MeshOptions{Layout: quadLayout, Vertices: make([]uint8, 24)}, func(m *metadata.Mesh, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		delivered = m
	})
	if delivered == nil || delivered.VertexCount != 3 {
		t.Fatal("expected the handler to run synchronously without workers")
	}
}

func TestAsyncCreateFailure(t *testing.T) {
	env := newTestEnv(t, 2, headless.Options{}, ResourceManagerConfig{}, nil)
	env.backend.FailNext(metadata.ResourceKindTexture, 1)

	var gotErr error
	env.resources.AsyncCreateTexture(9, pixelOptions(1, 1), func(tex *metadata.Texture, err error) {
		if tex != nil {
			t.Error("expected no texture on failure")
		}
		gotErr = err
	})
	env.drain(t)

	if !errors.Is(gotErr, core.ErrConstructionFailure) {
		t.Fatalf("expected ErrConstructionFailure, got %v", gotErr)
	}
	if _, ok := env.resources.LookupTexture(9); ok {
		t.Fatal("expected a failed build not to be registered")
	}

	env.resources.AsyncCreateTexture(10, metadata.TextureOptions{}, func(_ *metadata.Texture, err error) { gotErr = err })
	env.drain(t)
	if !errors.Is(gotErr, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for empty options, got %v", gotErr)
	}
}

func TestTransientKey(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	a, err := rm.CreateTexture(metadata.TransientKey, pixelOptions(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := rm.CreateTexture(metadata.TransientKey, pixelOptions(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected transient creations to build distinct textures")
	}
	if _, ok := rm.LookupTexture(metadata.TransientKey); ok {
		t.Fatal("expected transient textures not to be registered")
	}
	if rm.Count(metadata.ResourceKindTexture) != 2 {
		t.Fatalf("expected 2 tracked textures, got %d", rm.Count(metadata.ResourceKindTexture))
	}

	a.Release()
	if n := rm.CollectUnused(); n != 1 {
		t.Fatalf("expected 1 collected texture, got %d", n)
	}
	if live := env.backend.Live(metadata.ResourceKindTexture); live != 1 {
		t.Fatalf("expected 1 native texture left, got %d", live)
	}
}

func TestCollectUnusedHonorsPassReferences(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	p, err := rm.CreatePipeline(1, metadata.PipelineOptions{Layout: quadLayout, Stages: shaderStages()})
	if err != nil {
		t.Fatal(err)
	}
	p.Release()
	rp, err := rm.CreateRenderPass(2, metadata.RenderPassOptions{Stages: []metadata.RenderStageConfig{{
		Pipeline: 1,
		Target:   metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}},
	}}})
	if err != nil {
		t.Fatal(err)
	}

	if n := rm.CollectUnused(); n != 0 {
		t.Fatalf("expected nothing to be collected while the pass is referenced, got %d", n)
	}
	rp.Release()
	if n := rm.CollectUnused(); n != 2 {
		t.Fatalf("expected the pass and its pipeline to be collected, got %d", n)
	}
	for _, kind := range []metadata.ResourceKind{metadata.ResourceKindPipeline, metadata.ResourceKindTexture, metadata.ResourceKindRenderPass} {
		if live := env.backend.Live(kind); live != 0 {
			t.Errorf("expected no live %s objects, got %d", kind, live)
		}
	}
}

// A buffer created with 4 slots grows to hand out 10 distinct indices.
func TestBufferGrowsToTenSlots(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)

	buf, err := env.resources.CreateBuffer(1, metadata.BufferOptions{Usage: metadata.BufferUsageStorage, Stride: 16, Slots: 4})
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		index, err := env.resources.BufferAcquireSlot(buf)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		if seen[index] {
			t.Fatalf("index %d handed out twice", index)
		}
		seen[index] = true
	}
	for i := 0; i < 10; i++ {
		if !seen[i] {
			t.Errorf("expected index %d to be handed out", i)
		}
	}
	if buf.Slots.Capacity() < 10 {
		t.Fatalf("expected capacity >= 10, got %d", buf.Slots.Capacity())
	}
	if live := env.backend.Live(metadata.ResourceKindBuffer); live != 1 {
		t.Fatalf("expected growth to replace the native buffer, %d live", live)
	}
	obj := buf.InternalData.(*headless.Object)
	if len(obj.Data) != buf.Size() {
		t.Fatalf("expected the native buffer to match the storage size %d, got %d", buf.Size(), len(obj.Data))
	}
}

func TestBufferWriteSurvivesGrowth(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	buf, err := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 4, Slots: 2})
	if err != nil {
		t.Fatal(err)
	}
	index, _ := rm.BufferAcquireSlot(buf)
	if err := rm.BufferWriteSlot(buf, index, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := rm.BufferWriteSlot(buf, index, []byte{1, 2, 3, 4, 5}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for an oversized write, got %v", err)
	}
	if err := rm.BufferResize(buf, 8); err != nil {
		t.Fatal(err)
	}
	obj := buf.InternalData.(*headless.Object)
	if len(obj.Data) != 32 || obj.Data[0] != 1 || obj.Data[3] != 4 {
		t.Fatalf("expected slot 0 to be re-uploaded after growth, got %v", obj.Data[:4])
	}
	if err := rm.BufferReleaseSlot(buf, 99); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for an out of range release, got %v", err)
	}
}

func TestBufferExhaustion(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{MaxBufferSlots: 4}, nil)
	rm := env.resources

	buf, err := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 4, Slots: 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := rm.BufferAcquireSlot(buf); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if _, err := rm.BufferAcquireSlot(buf); !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted past the limit, got %v", err)
	}

	other, err := rm.CreateBuffer(2, metadata.BufferOptions{Stride: 4, Slots: 2})
	if err != nil {
		t.Fatal(err)
	}
	rm.BufferAcquireSlot(other)
	rm.BufferAcquireSlot(other)
	env.backend.FailNext(metadata.ResourceKindBuffer, 1)
	if _, err := rm.BufferAcquireSlot(other); !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted when the native buffer cannot grow, got %v", err)
	}
	if !other.Failed {
		t.Fatal("expected the buffer to be marked as failed")
	}
	if err := rm.BufferWriteSlot(other, 0, []byte{1}); !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("expected a failed buffer to stay unusable, got %v", err)
	}
	if buf.Failed {
		t.Fatal("expected the failure to concern only the buffer that hit it")
	}
	if _, err := rm.CreateBuffer(3, metadata.BufferOptions{Stride: 4, Slots: 2}); err != nil {
		t.Fatalf("expected other buffers to stay creatable, got %v", err)
	}
}

func TestBufferResizePastLimit(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{MaxBufferSlots: 8}, nil)
	rm := env.resources

	buf, err := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 16, Slots: 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := rm.BufferResize(buf, 10); !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted resizing past the limit, got %v", err)
	}
	if buf.Slots.Capacity() != 4 || buf.Failed {
		t.Fatalf("expected a rejected resize to leave the buffer untouched, capacity %d failed %t", buf.Slots.Capacity(), buf.Failed)
	}
	if err := rm.BufferResize(buf, 8); err != nil || buf.Slots.Capacity() != 8 {
		t.Fatalf("expected a resize to the limit to succeed, capacity %d (%v)", buf.Slots.Capacity(), err)
	}
}

func TestCreateBufferRejectsOversizedStorage(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	if _, err := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 64, Slots: 1 << 58}); !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted for an oversized buffer, got %v", err)
	}
	if _, ok := rm.LookupBuffer(1); ok {
		t.Fatal("expected the oversized buffer not to be registered")
	}

	buf, err := rm.CreateBuffer(2, metadata.BufferOptions{Stride: 2, Slots: 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := rm.BufferResize(buf, 1<<62); !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted for an oversized resize, got %v", err)
	}
	if buf.Failed {
		t.Fatal("expected a rejected resize to keep the buffer usable")
	}
}

func TestAsyncCreateAfterShutdownReportsFailure(t *testing.T) {
	env := newTestEnv(t, 2, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	tex, err := rm.CreateTexture(1, pixelOptions(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	refs := tex.Refs()
	if err := env.scheduler.Shutdown(); err != nil {
		t.Fatal(err)
	}

	calls := 0
	var gotErr error
	rm.AsyncCreateTexture(3, pixelOptions(1, 1), func(got *metadata.Texture, err error) {
		calls++
		gotErr = err
		if got != nil {
			t.Error("expected no texture after shutdown")
		}
	})
	env.scheduler.Drain()
	if calls != 1 || !errors.Is(gotErr, core.ErrShutdown) {
		t.Fatalf("expected one ErrShutdown delivery, got %d calls (%v)", calls, gotErr)
	}

	// a registered key takes a reference before posting, it must be given back
	calls, gotErr = 0, nil
	rm.AsyncCreateTexture(1, pixelOptions(1, 1), func(_ *metadata.Texture, err error) {
		calls++
		gotErr = err
	})
	env.scheduler.Drain()
	if calls != 1 || !errors.Is(gotErr, core.ErrShutdown) {
		t.Fatalf("expected one ErrShutdown delivery for a registered key, got %d calls (%v)", calls, gotErr)
	}
	if tex.Refs() != refs {
		t.Fatalf("expected the reference count to stay %d, got %d", refs, tex.Refs())
	}
}

func TestSingleSlotBuffer(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	buf, err := rm.CreateBuffer(1, metadata.BufferOptions{Usage: metadata.BufferUsageUniform, Stride: 64})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		index, err := rm.BufferAcquireSlot(buf)
		if err != nil || index != 0 {
			t.Fatalf("expected slot 0, got %d (%v)", index, err)
		}
	}
	if err := rm.BufferResize(buf, 10); err != nil || buf.Slots.Capacity() != 1 {
		t.Fatalf("expected resize of a single slot buffer to be a no-op, capacity %d (%v)", buf.Slots.Capacity(), err)
	}
}

func TestCreateFromAssets(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(dir, "tile.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := os.WriteFile(filepath.Join(dir, "basic.vert"), []byte("void main(){}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "quad.bin"), make([]byte, 32), 0o644); err != nil {
		t.Fatal(err)
	}

	am, err := assets.NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Initialize(dir, false); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, 2, headless.Options{}, ResourceManagerConfig{}, am)
	rm := env.resources

	var tex *metadata.Texture
	rm.AsyncCreateTexture(1, metadata.TextureOptions{Path: "tile.png"}, func(got *metadata.Texture, _ error) { tex = got })
	var pipeline *metadata.Pipeline
	rm.AsyncCreatePipeline(1, metadata.PipelineOptions{
		Layout: quadLayout,
		Stages: []metadata.ShaderSource{{Stage: metadata.ShaderStageVertex, Path: "basic.vert"}},
	}, func(p *metadata.Pipeline, _ error) { pipeline = p })
	var mesh *metadata.Mesh
	rm.AsyncCreateMesh(1, metadata.MeshOptions{Layout: quadLayout, Path: "quad.bin"}, func(m *metadata.Mesh, _ error) { mesh = m })
	env.drain(t)

	if tex == nil || tex.Width != 3 || tex.Height != 2 || tex.Label != "tile.png" {
		t.Fatalf("expected a 3x2 texture decoded from tile.png, got %+v", tex)
	}
	if tex.Flags&metadata.TextureFlagHasTransparency == 0 {
		t.Error("expected the transparent pixels to be detected")
	}
	if pipeline == nil {
		t.Fatal("expected the pipeline to be built from basic.vert")
	}
	if mesh == nil || mesh.VertexCount != 4 {
		t.Fatalf("expected a 4 vertex mesh from quad.bin, got %+v", mesh)
	}

	if _, err := rm.CreateTexture(2, metadata.TextureOptions{Path: "missing.png"}); !errors.Is(err, core.ErrConstructionFailure) {
		t.Fatalf("expected ErrConstructionFailure for a missing asset, got %v", err)
	}
}

func TestCreateRejectsInvalidOptions(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	tests := []struct {
		name string
		fn   func() error
	}{
		{"mesh index out of range", func() error {
			_, err := rm.CreateMesh(1, metadata.MeshOptions{Layout: quadLayout, Vertices: make([]uint8, 16), Indices: []uint32{0, 2}})
			return err
		}},
		{"mesh ragged vertices", func() error {
			_, err := rm.CreateMesh(2, metadata.MeshOptions{Layout: quadLayout, Vertices: make([]uint8, 12)})
			return err
		}},
		{"pipeline without stages", func() error {
			_, err := rm.CreatePipeline(1, metadata.PipelineOptions{Layout: quadLayout})
			return err
		}},
		{"pipeline duplicate stage", func() error {
			stages := shaderStages()
			_, err := rm.CreatePipeline(2, metadata.PipelineOptions{Stages: append(stages, stages[0])})
			return err
		}},
		{"pipeline path without assets", func() error {
			_, err := rm.CreatePipeline(3, metadata.PipelineOptions{Stages: []metadata.ShaderSource{{Path: "a.vert"}}})
			return err
		}},
		{"buffer zero stride", func() error {
			_, err := rm.CreateBuffer(1, metadata.BufferOptions{Slots: 2})
			return err
		}},
		{"texture wrong pixel count", func() error {
			_, err := rm.CreateTexture(1, metadata.TextureOptions{Pixels: make([]uint8, 3), Width: 1, Height: 1})
			return err
		}},
		{"pass window stage first", func() error {
			_, err := rm.CreateRenderPass(1, metadata.RenderPassOptions{Stages: []metadata.RenderStageConfig{
				{Target: metadata.RenderTargetConfig{Window: true}},
				{Target: metadata.RenderTargetConfig{Window: true}},
			}})
			return err
		}},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, core.ErrInvalidUsage) {
			t.Errorf("%s: expected ErrInvalidUsage, got %v", tt.name, err)
		}
	}
	for _, kind := range []metadata.ResourceKind{metadata.ResourceKindMesh, metadata.ResourceKindPipeline, metadata.ResourceKindBuffer, metadata.ResourceKindTexture, metadata.ResourceKindRenderPass} {
		if n := rm.Count(kind); n != 0 {
			t.Errorf("expected no %s to be registered, got %d", kind, n)
		}
	}
}

func TestAsyncCreateRenderPass(t *testing.T) {
	env := newTestEnv(t, 2, headless.Options{Multithreaded: true}, ResourceManagerConfig{}, nil)
	rm := env.resources

	if _, err := rm.CreatePipeline(4, metadata.PipelineOptions{Layout: quadLayout, Stages: shaderStages()}); err != nil {
		t.Fatal(err)
	}
	var rp *renderer.RenderPass
	rm.AsyncCreateRenderPass(1, metadata.RenderPassOptions{
		Stages: []metadata.RenderStageConfig{
			{Pipeline: 4, Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}, Depth: true}},
			{Pipeline: 4, Target: metadata.RenderTargetConfig{Window: true}},
		},
		AutoClear: true,
	}, func(p *renderer.RenderPass, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		rp = p
	})
	env.drain(t)

	if rp == nil || rp.StageCount() != 2 {
		t.Fatal("expected a two stage pass")
	}
	if w, h := rp.Stage(0).Target.Width, rp.Stage(0).Target.Height; w != 640 || h != 480 {
		t.Fatalf("expected framebuffer sized targets, got %dx%d", w, h)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := rp.Execute(); err != nil {
		t.Fatal(err)
	}
	if env.backend.Presented() != 1 {
		t.Fatal("expected the window pass to present")
	}
}

func TestShutdownDestroysEverything(t *testing.T) {
	env := newTestEnv(t, 1, headless.Options{}, ResourceManagerConfig{}, nil)
	rm := env.resources

	if _, err := rm.CreateTexture(1, pixelOptions(1, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := rm.CreatePipeline(1, metadata.PipelineOptions{Layout: quadLayout, Stages: shaderStages()}); err != nil {
		t.Fatal(err)
	}
	if _, err := rm.CreateRenderPass(1, metadata.RenderPassOptions{Stages: []metadata.RenderStageConfig{{
		Pipeline: 1,
		Target:   metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}},
	}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := rm.CreateBuffer(1, metadata.BufferOptions{Stride: 4, Slots: 4}); err != nil {
		t.Fatal(err)
	}

	if err := rm.Shutdown(); err != nil {
		t.Fatal(err)
	}
	for _, kind := range []metadata.ResourceKind{metadata.ResourceKindRenderPass, metadata.ResourceKindPipeline, metadata.ResourceKindTexture, metadata.ResourceKindBuffer} {
		if live := env.backend.Live(kind); live != 0 {
			t.Errorf("expected no live %s objects after shutdown, got %d", kind, live)
		}
	}
	if _, err := rm.CreateTexture(2, pixelOptions(1, 1)); !errors.Is(err, core.ErrShutdown) {
		t.Fatalf("expected ErrShutdown after shutdown, got %v", err)
	}
}
