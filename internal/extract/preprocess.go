package extract

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// smoothingSigma matches a 3x3 Gaussian kernel.
const smoothingSigma = 0.8

// Preprocess prepares a document photo for recognition: grayscale, contrast
// stretch, light smoothing, then global Otsu binarisation.
func Preprocess(img image.Image) *image.Gray {
	gray := toGray(img)
	stretchContrast(gray)
	gray = smooth(gray)
	binarize(gray, otsuThreshold(gray))
	return gray
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

func histogram(g *image.Gray) [256]int {
	var h [256]int
	w, ht := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < ht; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, v := range row {
			h[v]++
		}
	}
	return h
}

// stretchContrast maps the darkest pixel to 0 and the brightest to 255.
func stretchContrast(g *image.Gray) {
	h := histogram(g)
	lo, hi := 0, 255
	for lo < 256 && h[lo] == 0 {
		lo++
	}
	for hi >= 0 && h[hi] == 0 {
		hi--
	}
	if lo >= hi {
		return
	}
	var lut [256]uint8
	span := hi - lo
	for v := 0; v < 256; v++ {
		switch {
		case v <= lo:
			lut[v] = 0
		case v >= hi:
			lut[v] = 255
		default:
			lut[v] = uint8((v - lo) * 255 / span)
		}
	}
	w, ht := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < ht; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for i, v := range row {
			row[i] = lut[v]
		}
	}
}

func smooth(g *image.Gray) *image.Gray {
	blurred := imaging.Blur(g, smoothingSigma)
	b := blurred.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = blurred.Pix[y*blurred.Stride+x*4]
		}
	}
	return out
}

// otsuThreshold picks the level that maximises between-class variance.
func otsuThreshold(g *image.Gray) uint8 {
	h := histogram(g)
	total := 0
	sum := 0.0
	for v, n := range h {
		total += n
		sum += float64(v * n)
	}
	if total == 0 {
		return 127
	}

	var (
		sumB    float64
		weightB int
		best    float64
		level   int
	)
	for v := 0; v < 256; v++ {
		weightB += h[v]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(v * h[v])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = v
		}
	}
	return uint8(level)
}

// binarize sets pixels above the threshold to white and the rest to black.
func binarize(g *image.Gray, threshold uint8) {
	w, ht := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < ht; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for i, v := range row {
			if v > threshold {
				row[i] = 255
			} else {
				row[i] = 0
			}
		}
	}
}
