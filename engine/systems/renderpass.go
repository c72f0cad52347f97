package systems

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// CreateRenderPass builds a pass whose stages draw with the pipelines
// registered under each stage's key. A stage whose pipeline is not registered
// yet can be completed later with RenderPass.SetPipeline. A registered key
// returns the existing pass and ignores opts.
func (rm *ResourceManager) CreateRenderPass(key metadata.Key, opts metadata.RenderPassOptions) (*renderer.RenderPass, error) {
	if err := rm.checkOpen(metadata.ResourceKindRenderPass, key); err != nil {
		return nil, err
	}
	return rm.renderPassBuild(key, opts).createSync()
}

// AsyncCreateRenderPass validates the options on a worker. Targets are
// always created on the owning thread.
func (rm *ResourceManager) AsyncCreateRenderPass(key metadata.Key, opts metadata.RenderPassOptions, handler func(*renderer.RenderPass, error)) {
	if err := rm.checkOpen(metadata.ResourceKindRenderPass, key); err != nil {
		if handler != nil {
			handler(nil, err)
		}
		return
	}
	rm.renderPassBuild(key, opts).createAsync(rm.scheduler, rm.backend.Multithreaded(), handler)
}

func (rm *ResourceManager) LookupRenderPass(key metadata.Key) (*renderer.RenderPass, bool) {
	return rm.passes.get(key)
}

func (rm *ResourceManager) renderPassBuild(key metadata.Key, opts metadata.RenderPassOptions) *build[*renderer.RenderPass, metadata.RenderPassOptions] {
	b := newBuild[*renderer.RenderPass, metadata.RenderPassOptions](rm, rm.passes, metadata.ResourceKindRenderPass, key)
	// the pipeline registry belongs to the owning thread
	b.onOwner = true
	b.prepare = func() (metadata.RenderPassOptions, error) {
		if len(opts.Stages) == 0 {
			return opts, invalidUsage("render pass %d: no stages", key)
		}
		last := len(opts.Stages) - 1
		for i, stage := range opts.Stages {
			if stage.Target.Window && i != last {
				return opts, invalidUsage("render pass %d: stage %d targets the window but is not the last stage", key, i)
			}
			if len(stage.Target.ColorFormats) > metadata.MaxColorAttachments {
				return opts, invalidUsage("render pass %d: stage %d has %d color attachments", key, i, len(stage.Target.ColorFormats))
			}
		}
		// the caller keeps its slice
		opts.Stages = append([]metadata.RenderStageConfig(nil), opts.Stages...)
		return opts, nil
	}
	b.realize = func(opts metadata.RenderPassOptions) (*renderer.RenderPass, error) {
		pipelines := make([]*metadata.Pipeline, len(opts.Stages))
		for i, stage := range opts.Stages {
			p, ok := rm.pipelines.get(stage.Pipeline)
			if !ok {
				core.LogWarn("render pass %d: no pipeline registered under key %d for stage %d", key, stage.Pipeline, i)
				continue
			}
			pipelines[i] = p
		}
		width, height := rm.backend.FramebufferSize()
		return renderer.NewRenderPass(rm.backend, key, opts, pipelines, width, height)
	}
	b.destroy = rm.destroyRenderPass
	return b
}

func (rm *ResourceManager) destroyRenderPass(rp *renderer.RenderPass) {
	rp.Destroy()
}
