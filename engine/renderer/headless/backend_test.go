package headless

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func TestFailNextInjectsCreationFailures(t *testing.T) {
	b := New(Options{})
	b.FailNext(metadata.ResourceKindTexture, 1)

	tex := &metadata.Texture{Width: 1, Height: 1, Format: metadata.TextureFormatRGBA8}
	if err := b.TextureCreate(tex, make([]uint8, 4)); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected ErrInjected, got %v", err)
	}
	if err := b.TextureCreate(tex, make([]uint8, 4)); err != nil {
		t.Fatalf("expected the second creation to succeed, got %v", err)
	}
	if got := b.Live(metadata.ResourceKindTexture); got != 1 {
		t.Fatalf("expected 1 live texture, got %d", got)
	}
	b.TextureDestroy(tex)
	if got := b.Live(metadata.ResourceKindTexture); got != 0 {
		t.Fatalf("expected no live textures, got %d", got)
	}
}

func TestTextureCreateChecksPixelSize(t *testing.T) {
	b := New(Options{})
	tex := &metadata.Texture{Width: 2, Height: 2, Format: metadata.TextureFormatRGBA8}
	if err := b.TextureCreate(tex, make([]uint8, 15)); err == nil {
		t.Fatalf("expected a size mismatch error")
	}
	if got := b.Live(metadata.ResourceKindTexture); got != 0 {
		t.Fatalf("expected no live textures, got %d", got)
	}
}

func TestBufferUploadMirrorsStorage(t *testing.T) {
	b := New(Options{})
	slots, err := containers.NewSlotAllocator(2, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	buf := &metadata.Buffer{
		Usage:  metadata.BufferUsageUniform,
		Stride: 4,
		Slots:  slots,
	}
	if err := b.BufferCreate(buf); err != nil {
		t.Fatal(err)
	}
	copy(buf.Slots.Storage()[4:8], []uint8{1, 2, 3, 4})
	if err := b.BufferUpload(buf, 4, 4); err != nil {
		t.Fatal(err)
	}
	data := buf.InternalData.(*Object).Data
	if data[4] != 1 || data[7] != 4 {
		t.Fatalf("expected the upload to reach the native copy, got %v", data)
	}
	if err := b.BufferUpload(buf, 4, 8); err == nil {
		t.Fatalf("expected an out of range upload to fail")
	}
}

func TestExecuteSignalsFenceAndCountsPresents(t *testing.T) {
	b := New(Options{FenceDelay: 10 * time.Millisecond})
	fence := metadata.NewFence()
	if err := b.SubmitNativeCommand(metadata.Execute{Fence: fence, Present: true}); err != nil {
		t.Fatal(err)
	}
	if fence.Signaled() {
		t.Fatalf("expected the fence to be signalled after the delay")
	}
	if !fence.Wait(time.Second) {
		t.Fatalf("fence was never signalled")
	}
	if b.Presented() != 1 {
		t.Fatalf("expected 1 present, got %d", b.Presented())
	}
	if len(b.Commands()) != 1 {
		t.Fatalf("expected 1 recorded command, got %d", len(b.Commands()))
	}
	b.Reset()
	if len(b.Commands()) != 0 {
		t.Fatalf("expected reset to forget commands")
	}
}

func TestBindRequiresNativeObject(t *testing.T) {
	b := New(Options{})
	tex := &metadata.Texture{Width: 1, Height: 1, Format: metadata.TextureFormatRGBA8}
	if err := b.BindNativeResource(0, tex); err == nil {
		t.Fatalf("expected binding an unrealized texture to fail")
	}
	if err := b.TextureCreate(tex, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.BindNativeResource(3, tex); err != nil {
		t.Fatal(err)
	}
	if got := b.Bindings(); len(got) != 1 || got[0].Slot != 3 {
		t.Fatalf("expected one binding at slot 3, got %v", got)
	}
}
