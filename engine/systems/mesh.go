package systems

import (
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type meshData struct {
	vertices []uint8
	indices  []uint32
}

// CreateMesh uploads vertex data and registers the mesh under key. A
// registered key returns the existing mesh and ignores opts.
func (rm *ResourceManager) CreateMesh(key metadata.Key, opts metadata.MeshOptions) (*metadata.Mesh, error) {
	if err := rm.checkOpen(metadata.ResourceKindMesh, key); err != nil {
		return nil, err
	}
	return rm.meshBuild(key, opts).createSync()
}

// AsyncCreateMesh validates and lays out the vertex data on a worker.
func (rm *ResourceManager) AsyncCreateMesh(key metadata.Key, opts metadata.MeshOptions, handler func(*metadata.Mesh, error)) {
	if err := rm.checkOpen(metadata.ResourceKindMesh, key); err != nil {
		if handler != nil {
			handler(nil, err)
		}
		return
	}
	rm.meshBuild(key, opts).createAsync(rm.scheduler, rm.backend.Multithreaded(), handler)
}

func (rm *ResourceManager) LookupMesh(key metadata.Key) (*metadata.Mesh, bool) {
	return rm.meshes.get(key)
}

func (rm *ResourceManager) meshBuild(key metadata.Key, opts metadata.MeshOptions) *build[*metadata.Mesh, *meshData] {
	b := newBuild[*metadata.Mesh, *meshData](rm, rm.meshes, metadata.ResourceKindMesh, key)
	if opts.Vertices == nil && opts.Path != "" {
		b.strand = metadata.StrandAssetIO
	}
	b.prepare = func() (*meshData, error) {
		return rm.prepareMesh(key, opts)
	}
	b.realize = func(data *meshData) (*metadata.Mesh, error) {
		mesh := &metadata.Mesh{
			Resource: metadata.Resource{
				Key:   key,
				Kind:  metadata.ResourceKindMesh,
				Label: opts.Label,
			},
			Layout:      opts.Layout,
			VertexCount: uint32(len(data.vertices)) / opts.Layout.Stride,
			IndexCount:  uint32(len(data.indices)),
		}
		if err := rm.backend.MeshCreate(mesh, data.vertices, data.indices); err != nil {
			return nil, err
		}
		return mesh, nil
	}
	b.destroy = rm.destroyMesh
	return b
}

func (rm *ResourceManager) prepareMesh(key metadata.Key, opts metadata.MeshOptions) (*meshData, error) {
	layout := opts.Layout
	if layout.Stride == 0 {
		return nil, invalidUsage("mesh %d: vertex layout has a zero stride", key)
	}
	for _, attr := range layout.Attributes {
		if attr.Offset+attr.Format.Size() > layout.Stride {
			return nil, invalidUsage("mesh %d: attribute at location %d overflows the %d byte stride", key, attr.Location, layout.Stride)
		}
	}

	vertices := opts.Vertices
	if vertices == nil && opts.Path != "" {
		if rm.assets == nil {
			return nil, invalidUsage("mesh %d: %s cannot be loaded without an asset manager", key, opts.Path)
		}
		data, err := rm.assets.ReadAsset(opts.Path)
		if err != nil {
			return nil, err
		}
		vertices = data
	}
	if len(vertices) == 0 || len(vertices)%int(layout.Stride) != 0 {
		return nil, invalidUsage("mesh %d: %d vertex bytes are not a multiple of the %d byte stride", key, len(vertices), layout.Stride)
	}
	count := uint32(len(vertices)) / layout.Stride
	for i, index := range opts.Indices {
		if index >= count {
			return nil, invalidUsage("mesh %d: index %d at position %d is out of range for %d vertices", key, index, i, count)
		}
	}
	return &meshData{vertices: vertices, indices: opts.Indices}, nil
}

func (rm *ResourceManager) destroyMesh(mesh *metadata.Mesh) {
	rm.backend.MeshDestroy(mesh)
}
