package metadata

type VertexFormat uint8

const (
	VertexFormatFloat32 VertexFormat = iota
	VertexFormatFloat32x2
	VertexFormatFloat32x3
	VertexFormatFloat32x4
	VertexFormatUint8x4Norm
)

// Size returns the size in bytes of one attribute of this format.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFormatFloat32:
		return 4
	case VertexFormatFloat32x2:
		return 8
	case VertexFormatFloat32x3:
		return 12
	case VertexFormatFloat32x4:
		return 16
	case VertexFormatUint8x4Norm:
		return 4
	}
	return 0
}

// Components returns the number of scalar components.
func (f VertexFormat) Components() int32 {
	switch f {
	case VertexFormatFloat32:
		return 1
	case VertexFormatFloat32x2:
		return 2
	case VertexFormatFloat32x3:
		return 3
	default:
		return 4
	}
}

type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// VertexLayout describes how a mesh's vertex data is laid out.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// Compatible reports whether vertex data laid out as v can be consumed by a
// pipeline expecting other.
func (v VertexLayout) Compatible(other VertexLayout) bool {
	if v.Stride != other.Stride || len(v.Attributes) != len(other.Attributes) {
		return false
	}
	for i := range v.Attributes {
		if v.Attributes[i] != other.Attributes[i] {
			return false
		}
	}
	return true
}

type Mesh struct {
	Resource
	Layout VertexLayout
	/** @brief Number of vertices uploaded. */
	VertexCount uint32
	/** @brief Number of indices, 0 for non-indexed meshes. */
	IndexCount uint32
}

// ElementCount returns the number of elements a draw can address: indices
// for indexed meshes, vertices otherwise.
func (m *Mesh) ElementCount() uint32 {
	if m.IndexCount > 0 {
		return m.IndexCount
	}
	return m.VertexCount
}

func (m *Mesh) Indexed() bool {
	return m.IndexCount > 0
}

type MeshOptions struct {
	Layout VertexLayout
	/** @brief Interleaved vertex data. Takes precedence over Path. */
	Vertices []uint8
	/** @brief Asset path of a raw interleaved vertex file (.bin). */
	Path    string
	Indices []uint32
	Label   string
}
