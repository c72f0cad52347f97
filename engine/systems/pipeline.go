package systems

import (
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// CreatePipeline compiles the shader stages and registers the pipeline under
// key. A registered key returns the existing pipeline and ignores opts.
func (rm *ResourceManager) CreatePipeline(key metadata.Key, opts metadata.PipelineOptions) (*metadata.Pipeline, error) {
	if err := rm.checkOpen(metadata.ResourceKindPipeline, key); err != nil {
		return nil, err
	}
	return rm.pipelineBuild(key, opts).createSync()
}

// AsyncCreatePipeline reads the shader stages on a worker, on opts.Strand or
// StrandAssetIO when any stage comes from disk.
func (rm *ResourceManager) AsyncCreatePipeline(key metadata.Key, opts metadata.PipelineOptions, handler func(*metadata.Pipeline, error)) {
	if err := rm.checkOpen(metadata.ResourceKindPipeline, key); err != nil {
		if handler != nil {
			handler(nil, err)
		}
		return
	}
	rm.pipelineBuild(key, opts).createAsync(rm.scheduler, rm.backend.Multithreaded(), handler)
}

func (rm *ResourceManager) LookupPipeline(key metadata.Key) (*metadata.Pipeline, bool) {
	return rm.pipelines.get(key)
}

func (rm *ResourceManager) pipelineBuild(key metadata.Key, opts metadata.PipelineOptions) *build[*metadata.Pipeline, []metadata.ShaderSource] {
	b := newBuild[*metadata.Pipeline, []metadata.ShaderSource](rm, rm.pipelines, metadata.ResourceKindPipeline, key)
	b.strand = opts.Strand
	if b.strand == metadata.StrandNone {
		for _, stage := range opts.Stages {
			if len(stage.Code) == 0 && stage.Path != "" {
				b.strand = metadata.StrandAssetIO
				break
			}
		}
	}
	b.prepare = func() ([]metadata.ShaderSource, error) {
		return rm.preparePipeline(key, opts)
	}
	b.realize = func(stages []metadata.ShaderSource) (*metadata.Pipeline, error) {
		colorTargets := opts.ColorTargets
		if colorTargets == 0 {
			colorTargets = 1
		}
		pipeline := &metadata.Pipeline{
			Resource: metadata.Resource{
				Key:   key,
				Kind:  metadata.ResourceKindPipeline,
				Label: opts.Label,
			},
			Layout:       opts.Layout,
			CullMode:     opts.CullMode,
			Flags:        opts.Flags,
			ColorTargets: colorTargets,
		}
		if err := rm.backend.PipelineCreate(pipeline, stages); err != nil {
			return nil, err
		}
		return pipeline, nil
	}
	b.destroy = rm.destroyPipeline
	return b
}

func (rm *ResourceManager) preparePipeline(key metadata.Key, opts metadata.PipelineOptions) ([]metadata.ShaderSource, error) {
	if len(opts.Stages) == 0 {
		return nil, invalidUsage("pipeline %d: no shader stages", key)
	}
	if int(opts.ColorTargets) > metadata.MaxColorAttachments {
		return nil, invalidUsage("pipeline %d: %d color targets, at most %d are supported", key, opts.ColorTargets, metadata.MaxColorAttachments)
	}
	seen := make(map[metadata.ShaderStage]bool, len(opts.Stages))
	stages := make([]metadata.ShaderSource, 0, len(opts.Stages))
	for _, stage := range opts.Stages {
		if seen[stage.Stage] {
			return nil, invalidUsage("pipeline %d: duplicate %s stage", key, stage.Stage)
		}
		seen[stage.Stage] = true

		if len(stage.Code) > 0 {
			stages = append(stages, stage)
			continue
		}
		if stage.Path == "" {
			return nil, invalidUsage("pipeline %d: %s stage has neither code nor a path", key, stage.Stage)
		}
		if rm.assets == nil {
			return nil, invalidUsage("pipeline %d: %s cannot be loaded without an asset manager", key, stage.Path)
		}
		code, err := rm.assets.ReadAsset(stage.Path)
		if err != nil {
			return nil, err
		}
		stages = append(stages, metadata.ShaderSource{Stage: stage.Stage, Path: stage.Path, Code: code})
	}
	return stages, nil
}

func (rm *ResourceManager) destroyPipeline(pipeline *metadata.Pipeline) {
	rm.backend.PipelineDestroy(pipeline)
}
