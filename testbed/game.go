package testbed

import (
	"encoding/binary"
	"fmt"
	stdmath "math"
	"time"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

const (
	checkerSize  = 64
	checkerCells = 8
	// tint slots are appended until the buffer holds this many
	tintSlots = 8
)

var quadLayout = metadata.VertexLayout{
	Stride: 16,
	Attributes: []metadata.VertexAttribute{
		{Location: 0, Format: metadata.VertexFormatFloat32x2, Offset: 0},
		{Location: 1, Format: metadata.VertexFormatFloat32x2, Offset: 8},
	},
}

type TestGame struct {
	*engine.Game
}

type resourceKeys struct {
	scene, composite, pass, quad, checker, tint metadata.Key
}

type gameState struct {
	keys resourceKeys

	pass    *renderer.RenderPass
	quad    *metadata.Mesh
	checker *metadata.Texture
	tint    *metadata.Buffer

	slots   []int
	elapsed float64
	width   uint32
	height  uint32
}

// NewTestGame wires the testbed callbacks around config.
func NewTestGame(config *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             &gameState{},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Boot() error {
	core.LogInfo("booting testbed with the %s backend...", g.ApplicationConfig.Backend)
	return nil
}

func (g *TestGame) Initialize() error {
	state := g.state()
	rm := g.SystemManager.Resources
	backend := g.SystemManager.RendererSystem.Backend().Name()

	key := func(name string) metadata.Key {
		return metadata.Key(g.SystemManager.Keys.Acquire(name))
	}
	state.keys = resourceKeys{
		scene:     key("scene"),
		composite: key("composite"),
		pass:      key("pass"),
		quad:      key("quad"),
		checker:   key("checker"),
		tint:      key("tint"),
	}

	for _, p := range []struct {
		key  metadata.Key
		name string
	}{
		{state.keys.scene, "scene"},
		{state.keys.composite, "composite"},
	} {
		stages, err := shaderStages(backend, p.name)
		if err != nil {
			return err
		}
		if _, err := rm.CreatePipeline(p.key, metadata.PipelineOptions{
			Layout:       quadLayout,
			Stages:       stages,
			CullMode:     metadata.FaceCullModeNone,
			ColorTargets: 1,
			Label:        p.name,
		}); err != nil {
			return err
		}
	}

	pass, err := rm.CreateRenderPass(state.keys.pass, metadata.RenderPassOptions{
		Stages: []metadata.RenderStageConfig{
			{Pipeline: state.keys.scene, Target: metadata.RenderTargetConfig{ColorFormats: []metadata.TextureFormat{metadata.TextureFormatRGBA8}}},
			{Pipeline: state.keys.composite, Target: metadata.RenderTargetConfig{Window: true}},
		},
		AutoClear:  g.ApplicationConfig.AutoClear,
		ClearColor: g.ApplicationConfig.ClearColorValue(),
		Label:      "testbed",
	})
	if err != nil {
		return err
	}
	state.pass = pass

	quad, err := rm.CreateMesh(state.keys.quad, metadata.MeshOptions{
		Layout:   quadLayout,
		Vertices: quadVertices(),
		Indices:  []uint32{0, 1, 2, 2, 3, 0},
		Label:    "quad",
	})
	if err != nil {
		return err
	}
	state.quad = quad

	tint, err := rm.CreateBuffer(state.keys.tint, metadata.BufferOptions{
		Usage:  metadata.BufferUsageUniform,
		Stride: 16,
		Slots:  2,
		Label:  "tint",
	})
	if err != nil {
		return err
	}
	state.tint = tint

	// the checker is decoded off the frame thread and shows up a few frames later
	rm.AsyncCreateTexture(state.keys.checker, metadata.TextureOptions{
		Pixels: checkerPixels(),
		Width:  checkerSize,
		Height: checkerSize,
		Format: metadata.TextureFormatRGBA8,
		Label:  "checker",
		Strand: metadata.StrandUser,
	}, func(tex *metadata.Texture, err error) {
		if err != nil {
			core.LogError("checker texture failed: %s", err)
			return
		}
		state.checker = tex
	})
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	state.elapsed += deltaTime
	if state.tint == nil {
		return nil
	}
	rm := g.SystemManager.Resources

	// grow the tint buffer one slot per second to exercise resizing
	if len(state.slots) < tintSlots && int(state.elapsed) >= len(state.slots) {
		index, err := rm.BufferAcquireSlot(state.tint)
		if err != nil {
			return err
		}
		state.slots = append(state.slots, index)
	}
	for i, index := range state.slots {
		phase := state.elapsed + float64(i)*0.5
		color := [4]float32{
			float32(0.5 + 0.5*stdmath.Sin(phase)),
			float32(0.5 + 0.5*stdmath.Sin(phase+2)),
			float32(0.5 + 0.5*stdmath.Sin(phase+4)),
			1,
		}
		if err := rm.BufferWriteSlot(state.tint, index, encodeFloats(color[:])); err != nil {
			return err
		}
	}
	return nil
}

func (g *TestGame) Render(deltaTime float64) error {
	state := g.state()
	if state.pass == nil || state.checker == nil || len(state.slots) == 0 {
		return nil
	}
	pass := state.pass

	if err := pass.Start(0); err != nil {
		return err
	}
	if err := pass.Bind(0, state.checker); err != nil {
		return err
	}
	if err := pass.Bind(1, state.tint); err != nil {
		return err
	}
	if err := pass.Invoke(state.quad, 0, 0); err != nil {
		return err
	}

	// the scene output is bound at slot 0 of the composite stage
	if err := pass.Start(0); err != nil {
		return err
	}
	if err := pass.Invoke(state.quad, 0, 0); err != nil {
		return err
	}
	return pass.Execute()
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width, state.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	if state.pass != nil {
		state.pass.Wait(time.Second)
	}
	core.LogInfo("shutting down testbed after %.1fs", state.elapsed)
	return nil
}

// shaderStages returns the vertex and fragment stage of the named program in
// the form the backend consumes.
func shaderStages(backend, name string) ([]metadata.ShaderSource, error) {
	switch backend {
	case renderer.Vulkan.String():
		return []metadata.ShaderSource{
			{Stage: metadata.ShaderStageVertex, Path: fmt.Sprintf("shaders/%s.vert.spv", name)},
			{Stage: metadata.ShaderStageFragment, Path: fmt.Sprintf("shaders/%s.frag.spv", name)},
		}, nil
	case renderer.OpenGL.String():
		return []metadata.ShaderSource{
			{Stage: metadata.ShaderStageVertex, Path: fmt.Sprintf("shaders/gl/%s.vert", name)},
			{Stage: metadata.ShaderStageFragment, Path: fmt.Sprintf("shaders/gl/%s.frag", name)},
		}, nil
	case renderer.Headless.String():
		return []metadata.ShaderSource{
			{Stage: metadata.ShaderStageVertex, Code: []byte(name + ".vert")},
			{Stage: metadata.ShaderStageFragment, Code: []byte(name + ".frag")},
		}, nil
	}
	return nil, fmt.Errorf("%w: no shaders for backend %s", core.ErrInvalidUsage, backend)
}

// quadVertices covers clip space with position and uv per vertex.
func quadVertices() []uint8 {
	return encodeFloats([]float32{
		-1, -1, 0, 0,
		1, -1, 1, 0,
		1, 1, 1, 1,
		-1, 1, 0, 1,
	})
}

func checkerPixels() []uint8 {
	pixels := make([]uint8, checkerSize*checkerSize*4)
	cell := checkerSize / checkerCells
	for y := 0; y < checkerSize; y++ {
		for x := 0; x < checkerSize; x++ {
			v := uint8(64)
			if (x/cell+y/cell)%2 == 0 {
				v = 255
			}
			i := (y*checkerSize + x) * 4
			pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = v, v, v, 255
		}
	}
	return pixels
}

func encodeFloats(values []float32) []uint8 {
	out := make([]uint8, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], stdmath.Float32bits(v))
	}
	return out
}
