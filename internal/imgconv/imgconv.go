// Package imgconv converts image.Image frames to gocv.Mat at the OpenCV
// boundary (detector input, preview rendering).
package imgconv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ToMat converts an image.Image to a BGR Mat. The caller owns the returned
// Mat and must Close() it.
func ToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: nil image")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return gocv.NewMat(), fmt.Errorf("imgconv: empty image bounds")
	}

	switch im := img.(type) {
	case *image.NRGBA:
		return fromNRGBA(im)
	case *image.RGBA:
		return fromRGBA(im)
	default:
		return fromGeneric(img)
	}
}

func fromNRGBA(im *image.NRGBA) (gocv.Mat, error) {
	w, h := im.Rect.Dx(), im.Rect.Dy()
	buf := repackRGBA(im.Pix, im.Stride, w, h)
	return rgbaBytesToBGR(buf, w, h)
}

func fromRGBA(im *image.RGBA) (gocv.Mat, error) {
	w, h := im.Rect.Dx(), im.Rect.Dy()
	buf := repackRGBA(im.Pix, im.Stride, w, h)

	// RGBA is alpha-premultiplied; undo it so colors survive the conversion.
	for i := 0; i < len(buf); i += 4 {
		if a := buf[i+3]; a > 0 && a < 255 {
			buf[i+0] = uint8(uint32(buf[i+0]) * 255 / uint32(a))
			buf[i+1] = uint8(uint32(buf[i+1]) * 255 / uint32(a))
			buf[i+2] = uint8(uint32(buf[i+2]) * 255 / uint32(a))
		}
	}
	return rgbaBytesToBGR(buf, w, h)
}

func fromGeneric(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)

	data, err := mat.DataPtrUint8()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("imgconv: mat data pointer: %w", err)
	}

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[idx+0] = uint8(b >> 8)
			data[idx+1] = uint8(g >> 8)
			data[idx+2] = uint8(r >> 8)
			idx += 3
		}
	}
	return mat, nil
}

// repackRGBA copies pixel rows into a tightly packed RGBA buffer. Pix data is
// origin-relative, so only the stride matters.
func repackRGBA(pix []uint8, stride, w, h int) []byte {
	buf := make([]byte, 4*w*h)
	dst := 0
	for y := 0; y < h; y++ {
		src := y * stride
		copy(buf[dst:dst+4*w], pix[src:src+4*w])
		dst += 4 * w
	}
	return buf
}

func rgbaBytesToBGR(buf []byte, w, h int) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: mat from bytes: %w", err)
	}
	out := gocv.NewMat()
	gocv.CvtColor(mat, &out, gocv.ColorRGBAToBGR)
	mat.Close()
	return out, nil
}
