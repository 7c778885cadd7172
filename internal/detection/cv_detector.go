//go:build opencv

package detection

import (
	"image"

	"github.com/technosupport/firewatch/internal/alarms"
	"gocv.io/x/gocv"
)

// CVDetector runs the same color-mask algorithm through OpenCV.
type CVDetector struct {
	cfg Config
}

func NewCVDetector(cfg Config) *CVDetector {
	return &CVDetector{cfg: cfg.WithDefaults()}
}

func (d *CVDetector) Detect(img image.Image) (*alarms.Candidate, bool) {
	if img == nil || img.Bounds().Empty() {
		return nil, false
	}
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, false
	}
	defer src.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(d.cfg.WorkWidth, d.cfg.WorkHeight), 0, 0, gocv.InterpolationNearestNeighbor)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(resized, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	lower := gocv.NewScalar(float64(d.cfg.HueMin), float64(d.cfg.SatMin), float64(d.cfg.ValMin), 0)
	upper := gocv.NewScalar(float64(d.cfg.HueMax), 255, 255, 0)
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 || bestArea <= float64(d.cfg.MinArea) {
		return nil, false
	}

	rect := gocv.BoundingRect(contours.At(best))
	box := scaleBox(region{
		area: int(bestArea),
		minX: rect.Min.X,
		minY: rect.Min.Y,
		maxX: rect.Max.X - 1,
		maxY: rect.Max.Y - 1,
	}, img.Bounds(), d.cfg.WorkWidth, d.cfg.WorkHeight)
	return &alarms.Candidate{Box: box, Area: int(bestArea)}, true
}

// New returns the OpenCV-backed detector.
func New(cfg Config) Detector {
	return NewCVDetector(cfg)
}
