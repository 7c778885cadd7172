package detection

import (
	"image"
	"math"

	"github.com/technosupport/firewatch/internal/alarms"
	"golang.org/x/image/draw"
)

// Detector finds the single most prominent fire-colored region in a frame.
type Detector interface {
	Detect(img image.Image) (*alarms.Candidate, bool)
}

// HSVDetector is a pure Go color-mask detector.
//
// The frame is resized to the working size, converted to HSV with H in
// [0,179] and S,V in [0,255], and masked. The largest 8-connected region of
// the mask wins if its pixel count exceeds MinArea. The returned box is in
// source-frame coordinates; Area is measured in working pixels.
type HSVDetector struct {
	cfg Config
}

func NewHSVDetector(cfg Config) *HSVDetector {
	return &HSVDetector{cfg: cfg.WithDefaults()}
}

type region struct {
	area                   int
	minX, minY, maxX, maxY int
}

func (d *HSVDetector) Detect(img image.Image) (*alarms.Candidate, bool) {
	if img == nil || img.Bounds().Empty() {
		return nil, false
	}
	w, h := d.cfg.WorkWidth, d.cfg.WorkHeight
	work := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(work, work.Bounds(), img, img.Bounds(), draw.Src, nil)

	mask := d.mask(work)
	best, ok := largestRegion(mask, w, h)
	if !ok || best.area <= d.cfg.MinArea {
		return nil, false
	}

	box := scaleBox(best, img.Bounds(), w, h)
	if !box.Valid() {
		return nil, false
	}
	return &alarms.Candidate{Box: box, Area: best.area}, true
}

func (d *HSVDetector) mask(work *image.RGBA) []bool {
	w, h := work.Rect.Dx(), work.Rect.Dy()
	out := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := work.Pix[y*work.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			hue, sat, val := rgbToHSV(p[0], p[1], p[2])
			out[y*w+x] = int(hue) >= d.cfg.HueMin && int(hue) <= d.cfg.HueMax &&
				int(sat) >= d.cfg.SatMin && int(val) >= d.cfg.ValMin
		}
	}
	return out
}

// rgbToHSV follows the 8-bit OpenCV convention: H in [0,179], S and V in [0,255].
func rgbToHSV(r, g, b uint8) (h, s, v uint8) {
	hi, lo := r, r
	for _, c := range [...]uint8{g, b} {
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
	}
	v = hi
	if hi == 0 {
		return 0, 0, 0
	}
	delta := float64(hi) - float64(lo)
	s = uint8(math.Round(delta * 255 / float64(hi)))
	if delta == 0 {
		return 0, s, v
	}

	var hue float64
	switch hi {
	case r:
		hue = 60 * (float64(g) - float64(b)) / delta
	case g:
		hue = 120 + 60*(float64(b)-float64(r))/delta
	default:
		hue = 240 + 60*(float64(r)-float64(g))/delta
	}
	if hue < 0 {
		hue += 360
	}
	h = uint8(math.Round(hue/2)) % 180
	return h, s, v
}

// largestRegion labels 8-connected components of mask and returns the largest.
func largestRegion(mask []bool, w, h int) (region, bool) {
	seen := make([]bool, len(mask))
	var best region
	found := false
	stack := make([]int, 0, 1024)

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		r := region{minX: w, minY: h, maxX: -1, maxY: -1}
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			r.area++
			if x < r.minX {
				r.minX = x
			}
			if x > r.maxX {
				r.maxX = x
			}
			if y < r.minY {
				r.minY = y
			}
			if y > r.maxY {
				r.maxY = y
			}
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		if !found || r.area > best.area {
			best, found = r, true
		}
	}
	return best, found
}

func scaleBox(r region, src image.Rectangle, w, h int) alarms.BoundingBox {
	sx := float64(src.Dx()) / float64(w)
	sy := float64(src.Dy()) / float64(h)
	box := alarms.BoundingBox{
		Left:   src.Min.X + int(math.Floor(float64(r.minX)*sx)),
		Top:    src.Min.Y + int(math.Floor(float64(r.minY)*sy)),
		Right:  src.Min.X + int(math.Ceil(float64(r.maxX+1)*sx)),
		Bottom: src.Min.Y + int(math.Ceil(float64(r.maxY+1)*sy)),
	}
	if box.Right > src.Max.X {
		box.Right = src.Max.X
	}
	if box.Bottom > src.Max.Y {
		box.Bottom = src.Max.Y
	}
	return box
}
