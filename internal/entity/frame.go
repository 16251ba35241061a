package entity

// Frame is a decoded photo. Data holds 8-bit BGR pixels, row-major,
// three bytes per pixel. Encoded keeps the bytes the client sent, when any.
type Frame struct {
	Data    []byte
	Width   int
	Height  int
	Encoded []byte
	Format  string
}

func NewBlankFrame(width, height int) *Frame {
	return &Frame{
		Data:   make([]byte, width*height*3),
		Width:  width,
		Height: height,
	}
}

// IsBlank reports whether every pixel of the frame has the same colour.
func (f *Frame) IsBlank() bool {
	if f == nil || len(f.Data) < 3 {
		return true
	}

	b, g, r := f.Data[0], f.Data[1], f.Data[2]
	for i := 3; i+2 < len(f.Data); i += 3 {
		if f.Data[i] != b || f.Data[i+1] != g || f.Data[i+2] != r {
			return false
		}
	}
	return true
}
