package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"scan-kiosk/internal/scan"
)

const previewQuality = 70

// Downscale re-encodes frame as a JPEG no wider than maxWidth, keeping the
// aspect ratio. Frames already small enough are returned unchanged.
func Downscale(frame scan.Frame, maxWidth int) (scan.Frame, error) {
	if maxWidth <= 0 || (frame.Width > 0 && frame.Width <= maxWidth) {
		return frame, nil
	}
	src, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return scan.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return frame, nil
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: previewQuality}); err != nil {
		return scan.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	return scan.Frame{
		Data:       buf.Bytes(),
		MIMEType:   "image/jpeg",
		Width:      maxWidth,
		Height:     h,
		CapturedAt: frame.CapturedAt,
	}, nil
}
