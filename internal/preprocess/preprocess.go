/**
 * Image Preprocessor
 *
 * Normalizes a rasterized page image before recognition: grayscale
 * conversion, Otsu binarization, projection-profile deskew, and a 3x3
 * majority denoise pass. The transform chain is deterministic: identical
 * input bytes always produce identical output bytes.
 */

package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
)

const (
	// Skew search range and step, in degrees. Scans beyond ±5° are rare for
	// scanned documents and blow up the search cost.
	maxSkewDegrees  = 5.0
	skewStepDegrees = 0.5
)

// Normalize applies the full preprocessing chain to an encoded page image
// and returns the normalized image re-encoded as PNG. The logical page
// dimensions are preserved.
func Normalize(documentID string, page int, data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, pipeerrors.NewPreprocessingError(documentID, page, fmt.Errorf("decode page image: %w", err))
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, pipeerrors.NewPreprocessingError(documentID, page, fmt.Errorf("degenerate image %dx%d", bounds.Dx(), bounds.Dy()))
	}

	gray := Grayscale(src)
	binary := Binarize(gray)

	if angle := EstimateSkew(binary); angle != 0 {
		binary = Rotate(binary, -angle)
	}

	denoised := Denoise(binary)

	var buf bytes.Buffer
	if err := png.Encode(&buf, denoised); err != nil {
		return nil, pipeerrors.NewPreprocessingError(documentID, page, fmt.Errorf("encode normalized image: %w", err))
	}
	return buf.Bytes(), nil
}

// Grayscale converts any image to 8-bit grayscale.
func Grayscale(src image.Image) *image.Gray {
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, src, bounds.Min, draw.Src)
	return gray
}

// Binarize thresholds a grayscale image using Otsu's method. Pixels darker
// than the threshold become black, everything else white.
func Binarize(gray *image.Gray) *image.Gray {
	threshold := OtsuThreshold(gray)
	bounds := gray.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, y).Y < threshold {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// OtsuThreshold computes the global binarization threshold that maximizes
// between-class variance of the grayscale histogram.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	bounds := gray.Bounds()
	total := bounds.Dx() * bounds.Dy()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}

	var sum float64
	for i, count := range hist {
		sum += float64(i) * float64(count)
	}

	var sumB, wB float64
	var maxVariance float64
	var threshold uint8
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		variance := wB * wF * (mB - mF) * (mB - mF)
		if variance > maxVariance {
			maxVariance = variance
			threshold = uint8(t)
		}
	}
	return threshold
}

// EstimateSkew returns the estimated skew angle of a binarized page in
// degrees. Positive angles mean the text is rotated clockwise. The estimate
// scans candidate angles and picks the one whose horizontal projection
// profile has the sharpest row-sum variance.
func EstimateSkew(binary *image.Gray) float64 {
	bestAngle := 0.0
	bestScore := projectionScore(binary, 0)

	steps := int(maxSkewDegrees / skewStepDegrees)
	for i := -steps; i <= steps; i++ {
		if i == 0 {
			continue
		}
		angle := float64(i) * skewStepDegrees
		score := projectionScore(binary, angle)
		if score > bestScore {
			bestScore = score
			bestAngle = angle
		}
	}
	return bestAngle
}

// projectionScore shears row coordinates by the candidate angle and sums the
// squared per-row dark-pixel counts. Aligned text concentrates dark pixels
// into few rows, which maximizes the sum of squares.
func projectionScore(binary *image.Gray, degrees float64) float64 {
	bounds := binary.Bounds()
	height := bounds.Dy()
	if height == 0 {
		return 0
	}
	tan := math.Tan(degrees * math.Pi / 180)

	rows := make([]int, height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if binary.GrayAt(x, y).Y != 0 {
				continue
			}
			shifted := y - bounds.Min.Y + int(math.Round(float64(x-bounds.Min.X)*tan))
			if shifted >= 0 && shifted < height {
				rows[shifted]++
			}
		}
	}

	var score float64
	for _, count := range rows {
		score += float64(count) * float64(count)
	}
	return score
}

// Rotate rotates the image around its center by the given angle in degrees,
// keeping the original dimensions. Exposed rotation areas are filled white.
func Rotate(src *image.Gray, degrees float64) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	draw.Draw(out, bounds, image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)

	radians := degrees * math.Pi / 180
	sin, cos := math.Sincos(radians)
	cx := float64(bounds.Min.X) + float64(bounds.Dx())/2
	cy := float64(bounds.Min.Y) + float64(bounds.Dy())/2

	// Rotation about the image center: translate, rotate, translate back.
	transform := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.NearestNeighbor.Transform(out, transform, src, bounds, draw.Over, nil)
	return out
}

// Denoise applies a 3x3 majority filter to a binarized image, removing
// isolated speckles without eroding glyph strokes.
func Denoise(binary *image.Gray) *image.Gray {
	bounds := binary.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dark := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px, py := x+dx, y+dy
					if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
						continue
					}
					if binary.GrayAt(px, py).Y == 0 {
						dark++
					}
				}
			}
			if dark >= 5 {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}
