package pipeline

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/feedline-labs/feedline-go/internal/tensor"
)

func testState() *ExecState {
	return &ExecState{Mode: ModeTrain, Epoch: 1, Rand: rand.New(rand.NewSource(7))}
}

func TestRescaleInverseIsIdentity(t *testing.T) {
	op, err := buildOp(OpSpec{
		Name: "rescale", Type: "rescale",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Scale: floatPtr(1.0 / 255.0), Offset: floatPtr(-0.5),
	})
	if err != nil {
		t.Fatalf("buildOp err=%v", err)
	}
	rescale := op.(*rescaleOp)
	inverse := rescale.Inverse()

	in, _ := tensor.FromData([]float32{0, 17, 128, 255}, 2, 2, 1)
	rec := Record{"x": in}

	forward, err := rescale.Apply(testState(), rec)
	if err != nil {
		t.Fatalf("rescale Apply err=%v", err)
	}
	back, err := inverse.Apply(testState(), forward)
	if err != nil {
		t.Fatalf("inverse Apply err=%v", err)
	}

	out := back["x"].(*tensor.Tensor)
	if !tensor.EqualApprox(in, out, 1e-6) {
		t.Fatalf("rescale then inverse produced %v, want %v", out.Data, in.Data)
	}
}

func TestResizeOutputShape(t *testing.T) {
	op, err := buildOp(OpSpec{
		Name: "resize", Type: "resize",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Height: intPtr(16), Width: intPtr(24),
	})
	if err != nil {
		t.Fatalf("buildOp err=%v", err)
	}

	for _, shape := range [][]int{{4, 4, 3}, {100, 30, 3}, {16, 24, 1}, {1, 1, 3}} {
		in, err := tensor.New(shape...)
		if err != nil {
			t.Fatalf("New(%v) err=%v", shape, err)
		}
		out, err := op.Apply(testState(), Record{"x": in})
		if err != nil {
			t.Fatalf("resize Apply(%v) err=%v", shape, err)
		}
		got := out["x"].(*tensor.Tensor)
		if got.Shape[0] != 16 || got.Shape[1] != 24 || got.Shape[2] != shape[2] {
			t.Fatalf("resize(%v) shape=%v, want [16 24 %d]", shape, got.Shape, shape[2])
		}
	}
}

func TestResizeConstantImageStaysConstant(t *testing.T) {
	op, _ := buildOp(OpSpec{
		Name: "resize", Type: "resize",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Height: intPtr(5), Width: intPtr(7),
	})
	in, _ := tensor.New(10, 20, 3)
	for i := range in.Data {
		in.Data[i] = 42
	}
	out, err := op.Apply(testState(), Record{"x": in})
	if err != nil {
		t.Fatalf("resize Apply err=%v", err)
	}
	for i, v := range out["x"].(*tensor.Tensor).Data {
		if v < 41.999 || v > 42.001 {
			t.Fatalf("resize of constant image diverged at %d: %v", i, v)
		}
	}
}

func TestFlipHorizontal(t *testing.T) {
	op, _ := buildOp(OpSpec{
		Name: "flip", Type: "flip_horizontal",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Probability: floatPtr(1.0),
	})
	in, _ := tensor.FromData([]float32{1, 2, 3, 4, 5, 6}, 1, 3, 2)
	out, err := op.Apply(testState(), Record{"x": in})
	if err != nil {
		t.Fatalf("flip Apply err=%v", err)
	}
	got := out["x"].(*tensor.Tensor)
	want := []float32{5, 6, 3, 4, 1, 2}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("flip data=%v, want %v", got.Data, want)
		}
	}

	never, _ := buildOp(OpSpec{
		Name: "flip", Type: "flip_horizontal",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Probability: floatPtr(0.0),
	})
	out, err = never.Apply(testState(), Record{"x": in})
	if err != nil {
		t.Fatalf("flip Apply err=%v", err)
	}
	if !tensor.EqualApprox(in, out["x"].(*tensor.Tensor), 0) {
		t.Fatalf("flip with probability 0 changed the input")
	}
}

func TestOneHot(t *testing.T) {
	op, _ := buildOp(OpSpec{
		Name: "onehot", Type: "one_hot",
		Inputs: []string{"y"}, Outputs: []string{"y_vec"},
		Depth: intPtr(4),
	})

	out, err := op.Apply(testState(), Record{"y": int64(2)})
	if err != nil {
		t.Fatalf("one_hot Apply err=%v", err)
	}
	got := out["y_vec"].(*tensor.Tensor)
	want := []float32{0, 0, 1, 0}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("one_hot data=%v, want %v", got.Data, want)
		}
	}

	if _, err := op.Apply(testState(), Record{"y": int64(4)}); err == nil {
		t.Fatalf("one_hot with out-of-range label did not fail")
	}
	if _, err := op.Apply(testState(), Record{"y": int64(-1)}); err == nil {
		t.Fatalf("one_hot with negative label did not fail")
	}
}

func TestNormalize(t *testing.T) {
	op, _ := buildOp(OpSpec{
		Name: "norm", Type: "normalize",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Mean: floatPtr(2), Std: floatPtr(2),
	})
	in, _ := tensor.FromData([]float32{0, 2, 4}, 3)
	out, err := op.Apply(testState(), Record{"x": in})
	if err != nil {
		t.Fatalf("normalize Apply err=%v", err)
	}
	got := out["x"].(*tensor.Tensor)
	want := []float32{-1, 0, 1}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("normalize data=%v, want %v", got.Data, want)
		}
	}

	if _, err := buildOp(OpSpec{
		Name: "norm", Type: "normalize",
		Inputs: []string{"x"}, Outputs: []string{"x"},
		Std: floatPtr(0),
	}); err == nil {
		t.Fatalf("normalize with zero std did not fail")
	}
}

func TestMissingInputField(t *testing.T) {
	op, _ := buildOp(OpSpec{
		Name: "rescale", Type: "rescale",
		Inputs: []string{"x"}, Outputs: []string{"x"},
	})
	_, err := op.Apply(testState(), Record{"other": int64(1)})
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("Apply err=%v, want MissingFieldError", err)
	}
	if missing.Op != "rescale" || missing.Field != "x" {
		t.Fatalf("MissingFieldError=%+v", missing)
	}
}

func writeTestPNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 5, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func TestReadImage(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPNG(t, dir, "img.png", 6, 4)

	op, _ := buildOp(OpSpec{
		Name: "read", Type: "read_image",
		Inputs: []string{"image_path"}, Outputs: []string{"x"},
	})
	out, err := op.Apply(testState(), Record{"image_path": path})
	if err != nil {
		t.Fatalf("read_image Apply err=%v", err)
	}
	got := out["x"].(*tensor.Tensor)
	if got.Shape[0] != 4 || got.Shape[1] != 6 || got.Shape[2] != 3 {
		t.Fatalf("read_image shape=%v, want [4 6 3]", got.Shape)
	}
	// Pixel (x=2, y=1) was written as R=20, G=10, B=5.
	base := (1*6 + 2) * 3
	if got.Data[base] != 20 || got.Data[base+1] != 10 || got.Data[base+2] != 5 {
		t.Fatalf("read_image pixel=%v, want [20 10 5]", got.Data[base:base+3])
	}

	if _, err := op.Apply(testState(), Record{"image_path": filepath.Join(dir, "missing.png")}); err == nil {
		t.Fatalf("read_image with missing file did not fail")
	}
}
