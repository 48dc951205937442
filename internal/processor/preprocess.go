package processor

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// placeholderSize is the edge of the image returned for empty input.
const placeholderSize = 10

// CropRegion cuts the fractional region out of img using its actual size.
// A region that falls outside the image yields an empty image.
func CropRegion(img image.Image, r Region) image.Image {
	if img == nil {
		return &image.Gray{}
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(r.X*w)
	y0 := b.Min.Y + int(r.Y*h)
	x1 := x0 + int(r.W*w)
	y1 := y0 + int(r.H*h)

	rect := image.Rect(x0, y0, x1, y1).Intersect(b)
	if rect.Empty() {
		return &image.Gray{}
	}
	return imaging.Crop(img, rect)
}

// Preprocess converts a crop into a single-channel binarized image ready for OCR.
// Empty input produces a small black placeholder instead of an error.
func Preprocess(img image.Image, s Strategy) *image.Gray {
	if img == nil || img.Bounds().Empty() {
		return image.NewGray(image.Rect(0, 0, placeholderSize, placeholderSize))
	}

	gray := imaging.Grayscale(img)
	switch s.Kind {
	case StrategyOtsu:
		g := toGray(gray)
		return thresholdGlobal(g, otsuLevel(g))
	default:
		remapped := imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
			v := clipByte(s.Alpha*float64(c.R) + s.Beta)
			return color.NRGBA{R: v, G: v, B: v, A: c.A}
		})
		return adaptiveThreshold(remapped, s.BlockSize, s.ThresholdC)
	}
}

// adaptiveThreshold sets a pixel white when it is brighter than its
// Gaussian-weighted neighbourhood mean minus c.
func adaptiveThreshold(img *image.NRGBA, blockSize int, c float64) *image.Gray {
	mean := imaging.Blur(img, gaussianSigma(blockSize))
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			p := float64(img.Pix[y*img.Stride+x*4])
			m := float64(mean.Pix[y*mean.Stride+x*4])
			if p > m-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// gaussianSigma derives the kernel sigma from a window size the same way
// OpenCV does when sigma is left unspecified.
func gaussianSigma(blockSize int) float64 {
	return 0.3*(float64(blockSize-1)*0.5-1) + 0.8
}

// otsuLevel picks the threshold that maximizes between-class variance.
func otsuLevel(g *image.Gray) uint8 {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	if total == 0 {
		return 0
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB    float64
		weightB int
		best    float64
		level   uint8
	)
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

func thresholdGlobal(g *image.Gray, level uint8) *image.Gray {
	out := image.NewGray(g.Rect)
	for i, p := range g.Pix {
		if p > level {
			out.Pix[i] = 255
		}
	}
	return out
}

// toGray copies the red channel of an already grayscale NRGBA image.
func toGray(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = row[x*4]
		}
	}
	return out
}

func clipByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
