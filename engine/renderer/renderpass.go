package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// NotStarted is the subpass index of a pass that is not recording.
const NotStarted = -1

type RenderStage struct {
	Pipeline *metadata.Pipeline
	Target   *metadata.RenderTarget
	Config   metadata.RenderTargetConfig
}

// RenderPass drives an ordered list of stages. Each call to Start enters the
// next stage and feeds it the attachments of the previous one; Execute, at
// the last stage, submits the recorded work and returns to NotStarted.
//
// A RenderPass is used from the owning thread only.
type RenderPass struct {
	metadata.Resource

	backend    RendererBackend
	stages     []*RenderStage
	current    int
	viewport   *math.Rect
	scissor    *math.Rect
	autoClear  bool
	clearColor metadata.Color
	fence      *metadata.Fence
}

// NewRenderPass builds the targets of every stage at width x height (targets
// with an explicit size keep it). pipelines holds one entry per stage; a nil
// entry leaves the stage without a pipeline until SetPipeline is called.
// The pass retains every pipeline it holds.
func NewRenderPass(backend RendererBackend, key metadata.Key, opts metadata.RenderPassOptions, pipelines []*metadata.Pipeline, width, height uint32) (*RenderPass, error) {
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("%w: render pass %q has no stages", core.ErrInvalidUsage, opts.Label)
	}
	if len(pipelines) != len(opts.Stages) {
		return nil, fmt.Errorf("%w: render pass %q has %d stages but %d pipelines", core.ErrInvalidUsage, opts.Label, len(opts.Stages), len(pipelines))
	}
	for i, stage := range opts.Stages {
		if stage.Target.Window && i != len(opts.Stages)-1 {
			return nil, fmt.Errorf("%w: render pass %q: only the last stage may target the window", core.ErrInvalidUsage, opts.Label)
		}
	}

	rp := &RenderPass{
		Resource: metadata.Resource{
			Key:   key,
			Kind:  metadata.ResourceKindRenderPass,
			Label: opts.Label,
		},
		backend:    backend,
		current:    NotStarted,
		autoClear:  opts.AutoClear,
		clearColor: opts.ClearColor,
	}
	for i, stage := range opts.Stages {
		target, err := CreateRenderTarget(backend, stage.Target, width, height, fmt.Sprintf("%s.stage%d", opts.Label, i))
		if err != nil {
			rp.Destroy()
			return nil, err
		}
		if pipelines[i] != nil {
			pipelines[i].Retain()
		}
		rp.stages = append(rp.stages, &RenderStage{
			Pipeline: pipelines[i],
			Target:   target,
			Config:   stage.Target,
		})
	}
	return rp, nil
}

// Destroy releases the targets and the retained pipelines. The pass must not
// be used afterwards.
func (rp *RenderPass) Destroy() {
	for _, stage := range rp.stages {
		DestroyRenderTarget(rp.backend, stage.Target)
		stage.Target = nil
		if stage.Pipeline != nil {
			stage.Pipeline.Release()
			stage.Pipeline = nil
		}
	}
	rp.stages = nil
	rp.current = NotStarted
}

func (rp *RenderPass) StageCount() int {
	return len(rp.stages)
}

// CurrentSubpass returns the active stage index, or NotStarted.
func (rp *RenderPass) CurrentSubpass() int {
	return rp.current
}

// Stage returns the stage at index, or nil when out of range.
func (rp *RenderPass) Stage(index int) *RenderStage {
	if index < 0 || index >= len(rp.stages) {
		return nil
	}
	return rp.stages[index]
}

// Output returns the attachments written by the last stage. A pass that
// renders to the window has no readable output.
func (rp *RenderPass) Output() []*metadata.Texture {
	if len(rp.stages) == 0 {
		return nil
	}
	last := rp.stages[len(rp.stages)-1].Target
	if last == nil || last.Window {
		return nil
	}
	return last.Attachments()
}

func (rp *RenderPass) invalid(format string, args ...interface{}) error {
	err := fmt.Errorf("%w: render pass %s: %s", core.ErrInvalidUsage, rp.String(), fmt.Sprintf(format, args...))
	core.LogWarn(err.Error())
	return err
}

func (rp *RenderPass) submit(cmds ...metadata.Command) error {
	for _, cmd := range cmds {
		if err := rp.backend.SubmitNativeCommand(cmd); err != nil {
			err = fmt.Errorf("%w: render pass %s: %s: %v", core.ErrConstructionFailure, rp.String(), cmd, err)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

func (rp *RenderPass) bindInputs(slot uint32, inputs []*metadata.Texture) error {
	for i, tex := range inputs {
		if err := rp.backend.BindNativeResource(slot+uint32(i), tex); err != nil {
			err = fmt.Errorf("%w: render pass %s: binding input %d: %v", core.ErrConstructionFailure, rp.String(), i, err)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

// Start enters the next subpass. The attachments of the previous subpass are
// bound as inputs starting at inputSlot, in the order color0, color1, color2,
// depth/stencil. Calling Start at the last subpass, or when the next stage has
// no pipeline, changes nothing and returns an error wrapping
// core.ErrInvalidUsage.
func (rp *RenderPass) Start(inputSlot uint32) error {
	if len(rp.stages) == 0 {
		return rp.invalid("pass has been destroyed")
	}
	last := len(rp.stages) - 1
	if rp.current == last {
		return rp.invalid("start called at the last subpass %d, call Execute first", last)
	}
	next := rp.current + 1
	stage := rp.stages[next]
	if stage.Pipeline == nil {
		return rp.invalid("no pipeline set for subpass %d", next)
	}

	var inputs []*metadata.Texture
	if rp.current != NotStarted {
		inputs = rp.stages[rp.current].Target.Attachments()
		if err := rp.submit(metadata.EndSubpass{Index: rp.current}); err != nil {
			rp.abort()
			return err
		}
	}
	err := rp.submit(
		metadata.BeginSubpass{Index: next, Target: stage.Target},
		metadata.BindPipeline{Pipeline: stage.Pipeline},
	)
	if err == nil {
		err = rp.bindInputs(inputSlot, inputs)
	}
	if err == nil {
		err = rp.submit(
			metadata.SetViewport{Rect: rp.effectiveRect(rp.viewport, stage.Target)},
			metadata.SetScissor{Rect: rp.effectiveRect(rp.scissor, stage.Target)},
		)
	}
	if err == nil && rp.autoClear {
		err = rp.submit(rp.clearCommand(rp.clearColor, stage.Target))
	}
	if err != nil {
		rp.abort()
		return err
	}
	rp.current = next
	return nil
}

// abort tells the backend to drop the partly recorded chain and starts the
// pass over from NotStarted.
func (rp *RenderPass) abort() {
	rp.current = NotStarted
	if err := rp.backend.SubmitNativeCommand(metadata.Abort{}); err != nil {
		core.LogError("render pass %s: abort: %s", rp.String(), err)
	}
}

// Execute ends the subpass chain, submits it and returns to NotStarted. It is
// only valid at the last subpass; earlier calls change nothing.
func (rp *RenderPass) Execute() error {
	last := len(rp.stages) - 1
	if rp.current == NotStarted || rp.current != last {
		return rp.invalid("execute called at subpass %d, the chain ends at %d", rp.current, last)
	}
	fence := metadata.NewFence()
	err := rp.submit(
		metadata.EndSubpass{Index: last},
		metadata.Execute{Fence: fence, Present: rp.stages[last].Target.Window},
	)
	rp.current = NotStarted
	if err != nil {
		rp.fence = nil
		return err
	}
	rp.fence = fence
	return nil
}

// Wait blocks until the last execution has completed on the GPU or timeout
// elapses. It returns true when nothing is pending.
func (rp *RenderPass) Wait(timeout time.Duration) bool {
	if rp.fence == nil {
		return true
	}
	if !rp.fence.Wait(timeout) {
		return false
	}
	rp.fence = nil
	return true
}

// Bind binds a texture, a buffer or the output of another render pass at
// slot pos. Pass outputs occupy consecutive slots starting at pos.
func (rp *RenderPass) Bind(pos uint32, res metadata.Handle) error {
	if rp.current == NotStarted {
		return rp.invalid("bind at slot %d before start", pos)
	}
	switch v := res.(type) {
	case *metadata.Texture:
		if v == nil {
			return rp.invalid("bind of a nil texture at slot %d", pos)
		}
		for _, attachment := range rp.stages[rp.current].Target.Attachments() {
			if attachment == v {
				return rp.invalid("texture %s is written by subpass %d and cannot be read by it", v.String(), rp.current)
			}
		}
		return rp.bindNative(pos, v)
	case *metadata.Buffer:
		if v == nil {
			return rp.invalid("bind of a nil buffer at slot %d", pos)
		}
		if v.Failed {
			return rp.invalid("buffer %s is unusable after a failed resize", v.String())
		}
		return rp.bindNative(pos, v)
	case *RenderPass:
		if v == nil {
			return rp.invalid("bind of a nil render pass at slot %d", pos)
		}
		if v == rp {
			return rp.invalid("a pass cannot bind its own output")
		}
		outputs := v.Output()
		if len(outputs) == 0 {
			return rp.invalid("render pass %s has no readable output", v.String())
		}
		for i, tex := range outputs {
			if err := rp.bindNative(pos+uint32(i), tex); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return rp.invalid("bind of nil at slot %d", pos)
	default:
		return rp.invalid("cannot bind %T", res)
	}
}

func (rp *RenderPass) bindNative(pos uint32, res metadata.NativeResource) error {
	if err := rp.backend.BindNativeResource(pos, res); err != nil {
		err = fmt.Errorf("%w: render pass %s: bind %s at slot %d: %v", core.ErrConstructionFailure, rp.String(), res.Base().String(), pos, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Invoke draws count elements of mesh starting at start with the active
// pipeline. A count of 0 draws to the end of the mesh. A rejected draw leaves
// the pass usable.
func (rp *RenderPass) Invoke(mesh *metadata.Mesh, start, count uint32) error {
	if rp.current == NotStarted {
		return rp.invalid("draw before start")
	}
	if mesh == nil {
		return rp.invalid("draw of a nil mesh")
	}
	total := mesh.ElementCount()
	if start >= total {
		return rp.invalid("draw start %d is out of range for mesh %s with %d elements", start, mesh.String(), total)
	}
	if count == 0 {
		count = total - start
	}
	if uint64(start)+uint64(count) > uint64(total) {
		return rp.invalid("draw [%d, %d) is out of range for mesh %s with %d elements", start, uint64(start)+uint64(count), mesh.String(), total)
	}
	pipeline := rp.stages[rp.current].Pipeline
	if !mesh.Layout.Compatible(pipeline.Layout) {
		return rp.invalid("mesh %s vertex layout does not match pipeline %s", mesh.String(), pipeline.String())
	}
	return rp.submit(metadata.Draw{Mesh: mesh, First: start, Count: count})
}

// Clear clears the active target to color, and depth/stencil to 1/0.
func (rp *RenderPass) Clear(color metadata.Color) error {
	if rp.current == NotStarted {
		return rp.invalid("clear before start")
	}
	return rp.submit(rp.clearCommand(color, rp.stages[rp.current].Target))
}

func (rp *RenderPass) clearCommand(color metadata.Color, target *metadata.RenderTarget) metadata.Clear {
	return metadata.Clear{
		Color:        color,
		Depth:        1,
		Stencil:      0,
		DepthStencil: target.Depth != nil || target.Window,
	}
}

func (rp *RenderPass) effectiveRect(override *math.Rect, target *metadata.RenderTarget) math.Rect {
	if override == nil {
		return target.FullRect()
	}
	return override.ClampTo(float32(target.Width), float32(target.Height))
}

// SetViewport overrides the full-target default. The change applies
// immediately when a subpass is active.
func (rp *RenderPass) SetViewport(rect math.Rect) error {
	if rect.Empty() {
		return rp.invalid("empty viewport %v", rect)
	}
	rp.viewport = &rect
	if rp.current == NotStarted {
		return nil
	}
	return rp.submit(metadata.SetViewport{Rect: rp.effectiveRect(rp.viewport, rp.stages[rp.current].Target)})
}

// SetScissor overrides the full-target default. The change applies
// immediately when a subpass is active.
func (rp *RenderPass) SetScissor(rect math.Rect) error {
	if rect.Empty() {
		return rp.invalid("empty scissor %v", rect)
	}
	rp.scissor = &rect
	if rp.current == NotStarted {
		return nil
	}
	return rp.submit(metadata.SetScissor{Rect: rp.effectiveRect(rp.scissor, rp.stages[rp.current].Target)})
}

// ResetViewport restores the full-target viewport and scissor.
func (rp *RenderPass) ResetViewport() {
	rp.viewport = nil
	rp.scissor = nil
}

// SetPipeline replaces the pipeline of a stage. The active stage cannot be
// changed while it records.
func (rp *RenderPass) SetPipeline(stage int, pipeline *metadata.Pipeline) error {
	if stage < 0 || stage >= len(rp.stages) {
		return rp.invalid("stage %d out of range [0, %d)", stage, len(rp.stages))
	}
	if stage == rp.current {
		return rp.invalid("stage %d is recording", stage)
	}
	if pipeline != nil {
		pipeline.Retain()
	}
	if old := rp.stages[stage].Pipeline; old != nil {
		old.Release()
	}
	rp.stages[stage].Pipeline = pipeline
	return nil
}

// Resize recreates every target that follows the framebuffer size. It is only
// allowed while the pass is not recording.
func (rp *RenderPass) Resize(width, height uint32) error {
	if rp.current != NotStarted {
		return rp.invalid("resize while subpass %d is recording", rp.current)
	}
	if width == 0 || height == 0 {
		return rp.invalid("resize to an empty size %dx%d", width, height)
	}
	for i, stage := range rp.stages {
		if !stage.Config.WindowSized() {
			continue
		}
		if stage.Target != nil && stage.Target.Width == width && stage.Target.Height == height {
			continue
		}
		target, err := CreateRenderTarget(rp.backend, stage.Config, width, height, fmt.Sprintf("%s.stage%d", rp.Label, i))
		if err != nil {
			core.LogError("render pass %s: resize of stage %d failed: %s", rp.String(), i, err)
			return err
		}
		DestroyRenderTarget(rp.backend, stage.Target)
		stage.Target = target
	}
	core.LogDebug("render pass %s resized to %dx%d", rp.String(), width, height)
	return nil
}
