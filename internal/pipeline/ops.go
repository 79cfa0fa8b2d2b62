package pipeline

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/feedline-labs/feedline-go/internal/tensor"
)

func tensorInput(op string, rec Record, field string) (*tensor.Tensor, error) {
	v, ok := rec[field]
	if !ok {
		return nil, &MissingFieldError{Op: op, Field: field}
	}
	t, ok := v.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("op %q: field %q is %T, want tensor", op, field, v)
	}
	return t, nil
}

// readImageOp decodes a PNG or JPEG file into an HxWxC float32 tensor
// with values in [0, 255]. Grayscale images decode to C=1, everything
// else to C=3.
type readImageOp struct {
	opBase
}

func (o *readImageOp) Apply(state *ExecState, rec Record) (Record, error) {
	v, ok := rec[o.inputs[0]]
	if !ok {
		return nil, &MissingFieldError{Op: o.name, Field: o.inputs[0]}
	}
	path, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("op %q: field %q is %T, want string path", o.name, o.inputs[0], v)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("op %q: open image: %w", o.name, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("op %q: decode %s: %w", o.name, path, err)
	}

	t, err := imageToTensor(img)
	if err != nil {
		return nil, fmt.Errorf("op %q: %w", o.name, err)
	}
	return Record{o.outputs[0]: t}, nil
}

func imageToTensor(img image.Image) (*tensor.Tensor, error) {
	bounds := img.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("image has empty bounds %v", bounds)
	}

	if gray, ok := img.(*image.Gray); ok {
		out, err := tensor.New(h, w, 1)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Data[y*w+x] = float32(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return out, nil
	}

	out, err := tensor.New(h, w, 3)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*w + x) * 3
			out.Data[base] = float32(r >> 8)
			out.Data[base+1] = float32(g >> 8)
			out.Data[base+2] = float32(b >> 8)
		}
	}
	return out, nil
}

// rescaleOp computes x*scale + offset per element.
type rescaleOp struct {
	opBase
	scale  float64
	offset float64
}

func (o *rescaleOp) Apply(state *ExecState, rec Record) (Record, error) {
	in, err := tensorInput(o.name, rec, o.inputs[0])
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(float64(v)*o.scale + o.offset)
	}
	return Record{o.outputs[0]: out}, nil
}

// Inverse returns the rescale op that undoes this one: applying both in
// sequence reproduces the input within float tolerance.
func (o *rescaleOp) Inverse() *rescaleOp {
	inv := *o
	inv.scale = 1 / o.scale
	inv.offset = -o.offset / o.scale
	return &inv
}

// resizeOp bilinearly resamples an HxWxC tensor to the configured
// height and width; the channel count is preserved.
type resizeOp struct {
	opBase
	height int
	width  int
}

func (o *resizeOp) Apply(state *ExecState, rec Record) (Record, error) {
	in, err := tensorInput(o.name, rec, o.inputs[0])
	if err != nil {
		return nil, err
	}
	if in.Rank() != 3 {
		return nil, fmt.Errorf("op %q: input rank %d, want 3 (HxWxC)", o.name, in.Rank())
	}

	srcH, srcW, ch := in.Shape[0], in.Shape[1], in.Shape[2]
	out, err := tensor.New(o.height, o.width, ch)
	if err != nil {
		return nil, err
	}

	scaleY := float64(srcH) / float64(o.height)
	scaleX := float64(srcW) / float64(o.width)

	for y := 0; y < o.height; y++ {
		srcY := (float64(y)+0.5)*scaleY - 0.5
		y0, fy := splitCoord(srcY, srcH)
		y1 := clampIndex(y0+1, srcH)
		for x := 0; x < o.width; x++ {
			srcX := (float64(x)+0.5)*scaleX - 0.5
			x0, fx := splitCoord(srcX, srcW)
			x1 := clampIndex(x0+1, srcW)
			for c := 0; c < ch; c++ {
				tl := float64(in.Data[(y0*srcW+x0)*ch+c])
				tr := float64(in.Data[(y0*srcW+x1)*ch+c])
				bl := float64(in.Data[(y1*srcW+x0)*ch+c])
				br := float64(in.Data[(y1*srcW+x1)*ch+c])
				top := tl + (tr-tl)*fx
				bottom := bl + (br-bl)*fx
				out.Data[(y*o.width+x)*ch+c] = float32(top + (bottom-top)*fy)
			}
		}
	}
	return Record{o.outputs[0]: out}, nil
}

func splitCoord(v float64, limit int) (int, float64) {
	if v < 0 {
		return 0, 0
	}
	i := int(v)
	if i >= limit-1 {
		return limit - 1, 0
	}
	return i, v - float64(i)
}

func clampIndex(i, limit int) int {
	if i < 0 {
		return 0
	}
	if i >= limit {
		return limit - 1
	}
	return i
}

// flipHorizontalOp mirrors the width axis of an HxWxC tensor with the
// configured probability, drawing from the execution-state RNG.
type flipHorizontalOp struct {
	opBase
	probability float64
}

func (o *flipHorizontalOp) Apply(state *ExecState, rec Record) (Record, error) {
	in, err := tensorInput(o.name, rec, o.inputs[0])
	if err != nil {
		return nil, err
	}
	if in.Rank() != 3 {
		return nil, fmt.Errorf("op %q: input rank %d, want 3 (HxWxC)", o.name, in.Rank())
	}
	if state == nil || state.Rand == nil {
		return nil, fmt.Errorf("op %q: execution state RNG is required", o.name)
	}
	if state.Rand.Float64() >= o.probability {
		return Record{o.outputs[0]: in}, nil
	}

	h, w, ch := in.Shape[0], in.Shape[1], in.Shape[2]
	out := in.Clone()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := (y*w + x) * ch
			dst := (y*w + (w - 1 - x)) * ch
			copy(out.Data[dst:dst+ch], in.Data[src:src+ch])
		}
	}
	return Record{o.outputs[0]: out}, nil
}

// oneHotOp encodes an int64 class label as a depth-length float32 vector.
type oneHotOp struct {
	opBase
	depth int
}

func (o *oneHotOp) Apply(state *ExecState, rec Record) (Record, error) {
	v, ok := rec[o.inputs[0]]
	if !ok {
		return nil, &MissingFieldError{Op: o.name, Field: o.inputs[0]}
	}
	label, ok := v.(int64)
	if !ok {
		return nil, fmt.Errorf("op %q: field %q is %T, want int64 label", o.name, o.inputs[0], v)
	}
	if label < 0 || label >= int64(o.depth) {
		return nil, fmt.Errorf("op %q: label %d out of range [0, %d)", o.name, label, o.depth)
	}
	out, err := tensor.New(o.depth)
	if err != nil {
		return nil, err
	}
	out.Data[label] = 1
	return Record{o.outputs[0]: out}, nil
}

// normalizeOp computes (x - mean) / std per element.
type normalizeOp struct {
	opBase
	mean float64
	std  float64
}

func (o *normalizeOp) Apply(state *ExecState, rec Record) (Record, error) {
	in, err := tensorInput(o.name, rec, o.inputs[0])
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32((float64(v) - o.mean) / o.std)
	}
	return Record{o.outputs[0]: out}, nil
}
