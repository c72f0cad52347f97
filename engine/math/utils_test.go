package math

import "testing"

func TestGrowCapacity(t *testing.T) {
	tests := []struct {
		capacity int
		want     int
	}{
		{0, 1},
		{1, 2},
		{2, 3},
		{4, 6},
		{6, 9},
		{9, 13},
	}
	for _, tt := range tests {
		if got := GrowCapacity(tt.capacity); got != tt.want {
			t.Errorf("GrowCapacity(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func TestRectClampTo(t *testing.T) {
	r := Rect{X: -5, Y: 10, Width: 200, Height: 50}.ClampTo(100, 40)
	want := Rect{X: 0, Y: 10, Width: 100, Height: 30}
	if r != want {
		t.Errorf("Expected %+v, got %+v", want, r)
	}
	if !(Rect{Width: 0, Height: 10}).Empty() {
		t.Error("Expected zero width rect to be empty")
	}
}
