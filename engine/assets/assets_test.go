package assets

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(0, 1, color.NRGBA{B: 255, A: 255})
	img.Set(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 128})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func newTestAssetManager(t *testing.T, watch bool) (*AssetManager, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "shaders"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "checker.png"))
	if err := os.WriteFile(filepath.Join(dir, "shaders", "basic.vert"), []byte("#version 330 core\nvoid main(){}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "quad.bin"), []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644); err != nil {
		t.Fatal(err)
	}

	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Initialize(dir, watch); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = am.Shutdown() })
	return am, dir
}

func TestAssetManagerIndex(t *testing.T) {
	am, _ := newTestAssetManager(t, false)

	if am.Count() != 3 {
		t.Fatalf("expected 3 indexed assets, got %d", am.Count())
	}
	info, ok := am.Info("shaders/basic.vert")
	if !ok || info.Type != AssetTypeShader {
		t.Fatalf("expected shaders/basic.vert to be indexed as a shader, got %+v", info)
	}
	if got := am.List(AssetTypeImage); len(got) != 1 || got[0] != "checker.png" {
		t.Fatalf("expected [checker.png], got %v", got)
	}
}

func TestAssetManagerLoadImage(t *testing.T) {
	am, _ := newTestAssetManager(t, false)

	asset, err := am.LoadAsset("checker.png", loaders.ImageParams{FlipY: true})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	img, ok := asset.Data.(*loaders.Image)
	if !ok {
		t.Fatalf("expected *loaders.Image, got %T", asset.Data)
	}
	if img.Width != 2 || img.Height != 2 || len(img.Pixels) != 16 {
		t.Fatalf("unexpected image %dx%d with %d bytes", img.Width, img.Height, len(img.Pixels))
	}
	// flipped: the blue pixel of the bottom row comes first
	if img.Pixels[2] != 255 || img.Pixels[0] != 0 {
		t.Fatalf("expected the first pixel to be blue after the flip, got %v", img.Pixels[:4])
	}
	if !img.HasTransparency {
		t.Fatal("expected transparency to be detected")
	}
	if info, _ := am.Info("checker.png"); info.LastLoaded.IsZero() {
		t.Fatal("expected the load time to be recorded")
	}
}

func TestAssetManagerLoadShaderAndBinary(t *testing.T) {
	am, _ := newTestAssetManager(t, false)

	asset, err := am.LoadAsset("shaders/basic.vert", nil)
	if err != nil {
		t.Fatal(err)
	}
	src, ok := asset.Data.(metadata.ShaderSource)
	if !ok || src.Stage != metadata.ShaderStageVertex || len(src.Code) == 0 {
		t.Fatalf("unexpected shader asset %+v", asset.Data)
	}

	data, err := am.ReadAsset("quad.bin")
	if err != nil {
		t.Fatal(err)
	}
	if words := loaders.BytesToBytecode(data); len(words) != 2 || words[0] != 0x04030201 {
		t.Fatalf("unexpected bytecode %x", words)
	}
}

func TestAssetManagerMissingAsset(t *testing.T) {
	am, _ := newTestAssetManager(t, false)

	if _, err := am.ReadAsset("nope.bin"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if _, err := am.LoadAsset("nope.png", nil); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if _, err := am.LoadAsset("notes.txt", nil); err == nil {
		t.Fatal("expected an error for an asset type without loader")
	}
}

func TestAssetManagerWatch(t *testing.T) {
	am, dir := newTestAssetManager(t, true)

	writePNG(t, filepath.Join(dir, "late.png"))
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := am.Info("late.png"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the new file to be indexed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.Remove(filepath.Join(dir, "late.png")); err != nil {
		t.Fatal(err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for {
		if _, ok := am.Info("late.png"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the removed file to leave the index")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]AssetType{
		"a.png":          AssetTypeImage,
		"b.WEBP":         AssetTypeImage,
		"c.frag":         AssetTypeShader,
		"d.vert.spv":     AssetTypeShader,
		"e.spv":          AssetTypeBinary,
		"f.bin":          AssetTypeBinary,
		"g.txt":          AssetTypeNone,
		"shaders/h.comp": AssetTypeShader,
	}
	for path, want := range tests {
		if got := determineAssetType(path); got != want {
			t.Errorf("%s: expected %s, got %s", path, want, got)
		}
	}
}
