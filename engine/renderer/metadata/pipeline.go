package metadata

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageFragment
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vert"
	case ShaderStageFragment:
		return "frag"
	case ShaderStageCompute:
		return "comp"
	}
	return "unknown"
}

/**
 * @brief Source of one shader stage. Code takes precedence over Path.
 */
type ShaderSource struct {
	Stage ShaderStage
	/** @brief Asset path of the stage (GLSL source or SPIR-V binary). */
	Path string
	Code []uint8
}

type FaceCullMode uint8

const (
	FaceCullModeNone FaceCullMode = iota
	FaceCullModeFront
	FaceCullModeBack
	FaceCullModeFrontAndBack
)

type PipelineFlags uint8

const (
	PipelineFlagDepthTest  PipelineFlags = 0x1
	PipelineFlagDepthWrite PipelineFlags = 0x2
	PipelineFlagWireframe  PipelineFlags = 0x4
	PipelineFlagBlend      PipelineFlags = 0x8
)

type Pipeline struct {
	Resource
	/** @brief The vertex layout meshes drawn with this pipeline must match. */
	Layout   VertexLayout
	CullMode FaceCullMode
	Flags    PipelineFlags
	/** @brief Number of color attachments the pipeline writes. */
	ColorTargets uint8
}

type PipelineOptions struct {
	Layout       VertexLayout
	Stages       []ShaderSource
	CullMode     FaceCullMode
	Flags        PipelineFlags
	ColorTargets uint8
	Label        string
	/** @brief Strand the shader reads run on when created asynchronously. */
	Strand Strand
}
