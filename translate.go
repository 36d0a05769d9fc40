package simcast

import "sync/atomic"

// Geometry describes the target device's screen for coordinate
// translation. ScaleFactor is the Retina pixel-to-point ratio; sources
// that already report points use 1.
type Geometry struct {
	DeviceWidth  int
	DeviceHeight int
	ScaleFactor  float64
}

// CoordinateTranslator maps viewer coordinates (in video pixels) to
// device coordinates. Geometry updates are atomic snapshots so touch
// dispatch never sees a half-updated width/height pair.
type CoordinateTranslator struct {
	geo atomic.Pointer[Geometry]
}

// NewCoordinateTranslator creates a translator with the given initial
// geometry.
func NewCoordinateTranslator(geo Geometry) *CoordinateTranslator {
	t := &CoordinateTranslator{}
	t.SetGeometry(geo)
	return t
}

// SetGeometry replaces the device geometry.
func (t *CoordinateTranslator) SetGeometry(geo Geometry) {
	if geo.ScaleFactor <= 0 {
		geo.ScaleFactor = 1
	}
	g := geo
	t.geo.Store(&g)
}

// Geometry returns the current device geometry.
func (t *CoordinateTranslator) Geometry() Geometry {
	return *t.geo.Load()
}

// Point translates a video-pixel coordinate to a device point.
// When any dimension is unknown (zero or negative) the input passes
// through unchanged rather than producing garbage.
func (t *CoordinateTranslator) Point(x, y, videoWidth, videoHeight int) (int, int) {
	g := t.geo.Load()
	if videoWidth <= 0 || videoHeight <= 0 || g.DeviceWidth <= 0 || g.DeviceHeight <= 0 {
		return x, y
	}
	px := float64(x) * float64(g.DeviceWidth) / float64(videoWidth)
	py := float64(y) * float64(g.DeviceHeight) / float64(videoHeight)
	return int(px / g.ScaleFactor), int(py / g.ScaleFactor)
}

// Delta scales a movement delta from video pixels to device points.
// Each axis is scaled independently; there is no origin offset.
func (t *CoordinateTranslator) Delta(dx, dy, videoWidth, videoHeight int) (int, int) {
	g := t.geo.Load()
	if videoWidth <= 0 || videoHeight <= 0 || g.DeviceWidth <= 0 || g.DeviceHeight <= 0 {
		return dx, dy
	}
	sx := float64(dx) * float64(g.DeviceWidth) / float64(videoWidth)
	sy := float64(dy) * float64(g.DeviceHeight) / float64(videoHeight)
	return int(sx / g.ScaleFactor), int(sy / g.ScaleFactor)
}
