package renderer

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var testLayout = metadata.VertexLayout{
	Stride: 20,
	Attributes: []metadata.VertexAttribute{
		{Location: 0, Format: metadata.VertexFormatFloat32x3, Offset: 0},
		{Location: 1, Format: metadata.VertexFormatFloat32x2, Offset: 12},
	},
}

func newTestPipeline(t *testing.T, b *headless.Backend, key metadata.Key, layout metadata.VertexLayout) *metadata.Pipeline {
	t.Helper()
	p := &metadata.Pipeline{
		Resource: metadata.Resource{Key: key, Kind: metadata.ResourceKindPipeline},
		Layout:   layout,
	}
	stages := []metadata.ShaderSource{{Stage: metadata.ShaderStageVertex, Code: []uint8("void main(){}")}}
	if err := b.PipelineCreate(p, stages); err != nil {
		t.Fatalf("pipeline create failed: %v", err)
	}
	return p
}

func newTestMesh(t *testing.T, b *headless.Backend, layout metadata.VertexLayout, vertices, indices uint32) *metadata.Mesh {
	t.Helper()
	m := &metadata.Mesh{
		Resource:    metadata.Resource{Key: 1, Kind: metadata.ResourceKindMesh},
		Layout:      layout,
		VertexCount: vertices,
		IndexCount:  indices,
	}
	if err := b.MeshCreate(m, make([]uint8, vertices*layout.Stride), make([]uint32, indices)); err != nil {
		t.Fatalf("mesh create failed: %v", err)
	}
	return m
}

func newTestPass(t *testing.T, b *headless.Backend, opts metadata.RenderPassOptions) *RenderPass {
	t.Helper()
	pipelines := make([]*metadata.Pipeline, len(opts.Stages))
	for i := range pipelines {
		pipelines[i] = newTestPipeline(t, b, metadata.Key(i), testLayout)
	}
	rp, err := NewRenderPass(b, 1, opts, pipelines, 640, 480)
	if err != nil {
		t.Fatalf("render pass create failed: %v", err)
	}
	return rp
}

func offscreenStages(n int) []metadata.RenderStageConfig {
	stages := make([]metadata.RenderStageConfig, n)
	for i := range stages {
		stages[i] = metadata.RenderStageConfig{
			Target: metadata.RenderTargetConfig{
				ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8},
			},
		}
	}
	return stages
}

func TestRenderPassStartReachesLastSubpass(t *testing.T) {
	b := headless.New(headless.Options{FenceDelay: 20 * time.Millisecond})
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(3), Label: "chain"})

	if rp.CurrentSubpass() != NotStarted {
		t.Fatalf("expected a new pass to be at %d, got %d", NotStarted, rp.CurrentSubpass())
	}
	for i := 0; i < rp.StageCount(); i++ {
		if err := rp.Start(0); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		if rp.CurrentSubpass() != i {
			t.Fatalf("expected subpass %d, got %d", i, rp.CurrentSubpass())
		}
	}

	if err := rp.Start(0); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for a start at the last subpass, got %v", err)
	}
	if rp.CurrentSubpass() != rp.StageCount()-1 {
		t.Fatalf("expected the extra start to be a no-op, subpass is %d", rp.CurrentSubpass())
	}

	if err := rp.Execute(); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rp.CurrentSubpass() != NotStarted {
		t.Fatalf("expected execute to return to %d, got %d", NotStarted, rp.CurrentSubpass())
	}
	if !rp.Wait(time.Second) {
		t.Fatal("expected wait to return true within a second")
	}
}

func TestRenderPassExecuteBeforeLastSubpass(t *testing.T) {
	b := headless.New(headless.Options{})
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(2)})

	if err := rp.Execute(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage before start, got %v", err)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := rp.Execute(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage at subpass 0 of 2, got %v", err)
	}
	if rp.CurrentSubpass() != 0 {
		t.Fatalf("expected the early execute to change nothing, subpass is %d", rp.CurrentSubpass())
	}
	if !rp.Wait(0) {
		t.Fatal("expected wait without an execution to report nothing pending")
	}
}

func TestRenderPassChainsPreviousAttachments(t *testing.T) {
	b := headless.New(headless.Options{})
	stages := []metadata.RenderStageConfig{
		{Target: metadata.RenderTargetConfig{
			ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8, metadata.TextureFormatRGBA16F},
			Depth:        true,
		}},
		{Target: metadata.RenderTargetConfig{Window: true}},
	}
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: stages})
	first := rp.Stage(0).Target

	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if n := len(b.Bindings()); n != 0 {
		t.Fatalf("expected no input bindings for the first subpass, got %d", n)
	}
	if err := rp.Start(4); err != nil {
		t.Fatal(err)
	}

	want := []*metadata.Texture{first.Colors[0], first.Colors[1], first.Depth}
	got := b.Bindings()
	if len(got) != len(want) {
		t.Fatalf("expected %d input bindings, got %d", len(want), len(got))
	}
	for i, binding := range got {
		if binding.Slot != uint32(4+i) {
			t.Errorf("binding %d: expected slot %d, got %d", i, 4+i, binding.Slot)
		}
		if binding.Resource != want[i] {
			t.Errorf("binding %d: expected %s, got %s", i, want[i].String(), binding.Resource.Base().String())
		}
	}

	if err := rp.Execute(); err != nil {
		t.Fatal(err)
	}
	if b.Presented() != 1 {
		t.Fatalf("expected a window pass to present once, got %d", b.Presented())
	}
	if len(rp.Output()) != 0 {
		t.Fatal("expected a window pass to expose no output")
	}
}

func TestRenderPassMissingPipeline(t *testing.T) {
	b := headless.New(headless.Options{})
	rp, err := NewRenderPass(b, 1, metadata.RenderPassOptions{Stages: offscreenStages(1)}, []*metadata.Pipeline{nil}, 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := rp.Start(0); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage without a pipeline, got %v", err)
	}
	if rp.CurrentSubpass() != NotStarted {
		t.Fatalf("expected no state change, subpass is %d", rp.CurrentSubpass())
	}
	if n := len(b.Commands()); n != 0 {
		t.Fatalf("expected no commands to be submitted, got %d", n)
	}

	p := newTestPipeline(t, b, 9, testLayout)
	if err := rp.SetPipeline(0, p); err != nil {
		t.Fatal(err)
	}
	if p.Refs() != 1 {
		t.Fatalf("expected the pass to retain its pipeline, refs = %d", p.Refs())
	}
	if err := rp.Start(0); err != nil {
		t.Fatalf("expected start to succeed once a pipeline is set, got %v", err)
	}
}

func TestRenderPassBind(t *testing.T) {
	b := headless.New(headless.Options{})
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(1)})
	other := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(1)})

	tex := &metadata.Texture{Resource: metadata.Resource{Key: 3, Kind: metadata.ResourceKindTexture}, Width: 1, Height: 1}
	if err := b.TextureCreate(tex, []uint8{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}

	if err := rp.Bind(0, tex); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for bind before start, got %v", err)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := rp.Bind(0, tex); err != nil {
		t.Fatalf("texture bind failed: %v", err)
	}
	if err := rp.Bind(1, rp); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for binding the pass to itself, got %v", err)
	}
	if err := rp.Bind(1, other); err != nil {
		t.Fatalf("binding another pass output failed: %v", err)
	}
	if err := rp.Bind(2, nil); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for a nil resource, got %v", err)
	}

	bindings := b.Bindings()
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}
	if bindings[1].Resource != other.Output()[0] {
		t.Fatal("expected the other pass output to be bound at slot 1")
	}
}

func TestRenderPassRejectsBindingOwnAttachment(t *testing.T) {
	b := headless.New(headless.Options{})
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(2)})

	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	written := rp.Stage(0).Target.Colors[0]
	if err := rp.Bind(0, written); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage reading the attachment being written, got %v", err)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	// the previous subpass output is an input now
	if err := rp.Bind(1, written); err != nil {
		t.Fatalf("expected the previous subpass output to be bindable, got %v", err)
	}
	if err := rp.Bind(2, rp.Output()[0]); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage binding the pass output while it is written, got %v", err)
	}
}

func TestRenderPassAbortsAfterFailedStart(t *testing.T) {
	b := headless.New(headless.Options{})
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(2)})

	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	// the next start binds this attachment as an input and fails
	b.TextureDestroy(rp.Stage(0).Target.Colors[0])
	b.Reset()
	if err := rp.Start(0); !errors.Is(err, core.ErrConstructionFailure) {
		t.Fatalf("expected ErrConstructionFailure, got %v", err)
	}
	if rp.CurrentSubpass() != NotStarted {
		t.Fatalf("expected the pass to return to NotStarted, got %d", rp.CurrentSubpass())
	}
	cmds := b.Commands()
	if len(cmds) == 0 {
		t.Fatal("expected recorded commands")
	}
	if _, ok := cmds[len(cmds)-1].(metadata.Abort); !ok {
		t.Fatalf("expected the backend to be told to abort, last command was %v", cmds[len(cmds)-1])
	}
	if err := rp.Start(0); err != nil {
		t.Fatalf("expected the pass to start over, got %v", err)
	}
}

func TestRenderPassInvokeRange(t *testing.T) {
	b := headless.New(headless.Options{})
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: offscreenStages(1)})
	mesh := newTestMesh(t, b, testLayout, 4, 6)

	if err := rp.Invoke(mesh, 0, 0); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for draw before start, got %v", err)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		start     uint32
		count     uint32
		wantErr   bool
		wantCount uint32
	}{
		{"whole mesh", 0, 0, false, 6},
		{"to the end", 4, 0, false, 2},
		{"exact range", 2, 3, false, 3},
		{"start past end", 6, 0, true, 0},
		{"count past end", 2, 5, true, 0},
		{"overflow", 1, ^uint32(0), true, 0},
	}
	for _, tt := range tests {
		b.Reset()
		err := rp.Invoke(mesh, tt.start, tt.count)
		if tt.wantErr {
			if !errors.Is(err, core.ErrInvalidUsage) {
				t.Errorf("%s: expected ErrInvalidUsage, got %v", tt.name, err)
			}
			if len(b.Commands()) != 0 {
				t.Errorf("%s: expected the rejected draw to submit nothing", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		cmds := b.Commands()
		draw, ok := cmds[len(cmds)-1].(metadata.Draw)
		if !ok {
			t.Errorf("%s: expected a draw command, got %v", tt.name, cmds[len(cmds)-1])
			continue
		}
		if draw.First != tt.start || draw.Count != tt.wantCount {
			t.Errorf("%s: expected draw(%d, %d), got draw(%d, %d)", tt.name, tt.start, tt.wantCount, draw.First, draw.Count)
		}
	}

	other := metadata.VertexLayout{Stride: 12, Attributes: []metadata.VertexAttribute{{Format: metadata.VertexFormatFloat32x3}}}
	mismatched := newTestMesh(t, b, other, 3, 0)
	if err := rp.Invoke(mismatched, 0, 0); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for a mismatched vertex layout, got %v", err)
	}
	if rp.CurrentSubpass() != 0 {
		t.Fatal("expected a rejected draw to leave the pass active")
	}
	if err := rp.Execute(); err != nil {
		t.Fatalf("expected the pass to stay usable after rejected draws, got %v", err)
	}
}

func TestRenderPassAutoClearAndViewport(t *testing.T) {
	b := headless.New(headless.Options{})
	stages := []metadata.RenderStageConfig{{Target: metadata.RenderTargetConfig{
		ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8},
		Depth:        true,
	}}}
	color := metadata.Color{R: 0.1, G: 0.2, B: 0.3, A: 1}
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: stages, AutoClear: true, ClearColor: color})

	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	var viewport *metadata.SetViewport
	var cleared *metadata.Clear
	for _, cmd := range b.Commands() {
		switch c := cmd.(type) {
		case metadata.SetViewport:
			viewport = &c
		case metadata.Clear:
			cleared = &c
		}
	}
	if viewport == nil || viewport.Rect != (math.Rect{Width: 640, Height: 480}) {
		t.Fatalf("expected a full target viewport, got %v", viewport)
	}
	if cleared == nil {
		t.Fatal("expected an automatic clear")
	}
	if cleared.Color != color || cleared.Depth != 1 || cleared.Stencil != 0 || !cleared.DepthStencil {
		t.Fatalf("unexpected clear %+v", *cleared)
	}

	b.Reset()
	if err := rp.SetViewport(math.Rect{X: 600, Y: 0, Width: 100, Height: 100}); err != nil {
		t.Fatal(err)
	}
	cmds := b.Commands()
	if len(cmds) != 1 {
		t.Fatalf("expected the viewport to apply immediately, got %d commands", len(cmds))
	}
	if got := cmds[0].(metadata.SetViewport).Rect; got != (math.Rect{X: 600, Y: 0, Width: 40, Height: 100}) {
		t.Fatalf("expected the viewport to be clamped to the target, got %v", got)
	}
	if err := rp.SetScissor(math.Rect{}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for an empty scissor, got %v", err)
	}
}

func TestRenderPassResize(t *testing.T) {
	b := headless.New(headless.Options{})
	stages := []metadata.RenderStageConfig{
		{Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}, Width: 256, Height: 256}},
		{Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}}},
	}
	rp := newTestPass(t, b, metadata.RenderPassOptions{Stages: stages})
	textures := b.Live(metadata.ResourceKindTexture)

	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := rp.Resize(800, 600); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for a resize while recording, got %v", err)
	}
	if err := rp.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := rp.Execute(); err != nil {
		t.Fatal(err)
	}
	if err := rp.Resize(800, 600); err != nil {
		t.Fatalf("resize failed: %v", err)
	}

	if fixed := rp.Stage(0).Target; fixed.Width != 256 || fixed.Height != 256 {
		t.Errorf("expected the fixed size target to keep 256x256, got %dx%d", fixed.Width, fixed.Height)
	}
	if sized := rp.Stage(1).Target; sized.Width != 800 || sized.Height != 600 {
		t.Errorf("expected the window sized target to be 800x600, got %dx%d", sized.Width, sized.Height)
	}
	if got := b.Live(metadata.ResourceKindTexture); got != textures {
		t.Errorf("expected resize to replace attachments, live textures went from %d to %d", textures, got)
	}

	rp.Destroy()
	if got := b.Live(metadata.ResourceKindTexture); got != 0 {
		t.Errorf("expected destroy to release every attachment, %d left", got)
	}
}

func TestNewRenderPassRejectsWindowStageBeforeLast(t *testing.T) {
	b := headless.New(headless.Options{})
	stages := []metadata.RenderStageConfig{
		{Target: metadata.RenderTargetConfig{Window: true}},
		{Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}}},
	}
	_, err := NewRenderPass(b, 1, metadata.RenderPassOptions{Stages: stages}, make([]*metadata.Pipeline, 2), 64, 64)
	if !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage, got %v", err)
	}
}
