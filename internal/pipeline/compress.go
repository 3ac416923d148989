package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	startQuality = 85
	qualityStep  = 10
	// minQuality is the floor of the lossy ladder. Below it the image gets
	// downsized instead of degraded further.
	minQuality = 30
	// minDimension stops the resize loop; shrinking past this point no longer
	// produces a useful image of the same subject.
	minDimension = 256
	resizeFactor = 0.75
)

// shrinkToLimit recompresses data until it fits under limit bytes. It walks a
// decreasing JPEG quality ladder first and, when quality alone is not enough,
// proportionally downsizes the pixel dimensions. The guarantee is best-effort:
// once both floors are reached, the smallest result achieved is returned even
// if it is still over the limit.
func shrinkToLimit(data []byte, limit int64) ([]byte, error) {
	if int64(len(data)) <= limit {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode image: %w", err)
	}

	best := data
	for quality := startQuality; quality >= minQuality; quality -= qualityStep {
		encoded, err := encodeJPEG(src, quality)
		if err != nil {
			return nil, err
		}
		if len(encoded) < len(best) {
			best = encoded
		}
		if int64(len(encoded)) <= limit {
			return encoded, nil
		}
	}

	current := src
	for {
		bounds := current.Bounds()
		width := int(float64(bounds.Dx()) * resizeFactor)
		height := int(float64(bounds.Dy()) * resizeFactor)
		if width < minDimension || height < minDimension {
			return best, nil
		}
		current = downsize(current, width, height)
		encoded, err := encodeJPEG(current, minQuality)
		if err != nil {
			return nil, err
		}
		if len(encoded) < len(best) {
			best = encoded
		}
		if int64(len(encoded)) <= limit {
			return encoded, nil
		}
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("pipeline: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// downsize scales img to width x height, preserving the aspect ratio supplied
// by the caller.
func downsize(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
