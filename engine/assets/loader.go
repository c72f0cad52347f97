package assets

import (
	"path/filepath"
	"strings"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeImage
	AssetTypeShader
	AssetTypeBinary
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeImage:
		return "image"
	case AssetTypeShader:
		return "shader"
	case AssetTypeBinary:
		return "binary"
	}
	return "none"
}

func determineAssetType(path string) AssetType {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeImage
	case ".vert", ".frag", ".comp":
		return AssetTypeShader
	case ".spv":
		// shader.vert.spv
		if determineAssetType(strings.TrimSuffix(path, filepath.Ext(path))) == AssetTypeShader {
			return AssetTypeShader
		}
		return AssetTypeBinary
	case ".bin":
		return AssetTypeBinary
	default:
		return AssetTypeNone
	}
}
