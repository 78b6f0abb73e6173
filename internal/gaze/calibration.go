package gaze

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// CalibState represents the lifecycle state of the calibration engine.
type CalibState string

const (
	CalibIdle       CalibState = "idle"       // No calibration in progress
	CalibCollecting CalibState = "collecting" // Accepting calibration points
	CalibComputing  CalibState = "computing"  // Transform solve in progress
	CalibReady      CalibState = "ready"      // Transform computed and active
)

// Calibration solver constants.
const (
	// MinCalibrationPoints is the minimum point count for any transform fit.
	MinCalibrationPoints = 4
	// ReprojectionInlierPx is the RANSAC inlier threshold in screen pixels.
	ReprojectionInlierPx = 5.0
	// DegenerateDivisorEps rejects homogeneous divisors too close to zero.
	DegenerateDivisorEps = 1e-8
	// singularValueRatio flags a rank-deficient DLT system.
	singularValueRatio = 1e-10
	// maxConsensusFits caps the exhaustive minimal-subset search.
	maxConsensusFits = 2000
)

// Calibration errors surfaced to the control plane.
var (
	ErrInsufficientPoints = errors.New("calibration requires at least 4 points")
	ErrSingularSystem     = errors.New("calibration system is singular")
	ErrConsensusRejected  = errors.New("homography rejected by consensus check")
	ErrNotCollecting      = errors.New("calibration is not collecting points")
)

// CalibrationPoint pairs a screen-space target with the device-space gaze
// observed while the user looked at it.
type CalibrationPoint struct {
	Index          int     `json:"index"`
	ScreenX        float64 `json:"screen_x"`
	ScreenY        float64 `json:"screen_y"`
	DeviceX        float64 `json:"device_x"`
	DeviceY        float64 `json:"device_y"`
	Confidence     float64 `json:"confidence"`
	TimestampNanos int64   `json:"ts_ns"`
}

// TransformMethod tags the active mapping variant.
type TransformMethod string

const (
	MethodLinear     TransformMethod = "linear"
	MethodHomography TransformMethod = "homography"
)

// LinearParams holds an independent per-axis scale/offset mapping.
type LinearParams struct {
	ScaleX  float64 `json:"sx"`
	ScaleY  float64 `json:"sy"`
	OffsetX float64 `json:"ox"`
	OffsetY float64 `json:"oy"`
}

// Apply maps device coordinates through the linear parameters.
func (lp LinearParams) Apply(dx, dy float64) (float64, float64) {
	return lp.ScaleX*dx + lp.OffsetX, lp.ScaleY*dy + lp.OffsetY
}

// Transform is an immutable device-to-screen mapping. A homography
// transform also carries the linear fit over the same points so a sample
// with a degenerate homogeneous divisor can fall back without losing data.
type Transform struct {
	Method TransformMethod `json:"method"`

	// H is the row-major homography matrix, populated when
	// Method == MethodHomography.
	H [3][3]float64 `json:"h,omitempty"`

	// Linear is always populated: it is the active mapping for
	// MethodLinear and the per-sample fallback for MethodHomography.
	Linear LinearParams `json:"linear"`

	AccuracyPx     float64            `json:"accuracy_px"`
	PointsUsed     int                `json:"points_used"`
	ScreenW        float64            `json:"screen_w"`
	ScreenH        float64            `json:"screen_h"`
	Calibrated     bool               `json:"calibrated"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
	Points         []CalibrationPoint `json:"points,omitempty"`
	ComputedAt     time.Time          `json:"computed_at,omitzero"`
}

// IdentityTransform returns the pass-through mapping used before any
// calibration has been computed. Screen coordinates mirror device
// coordinates, clamped to the given bounds.
func IdentityTransform(screenW, screenH float64) *Transform {
	return &Transform{
		Method:  MethodLinear,
		Linear:  LinearParams{ScaleX: 1, ScaleY: 1},
		ScreenW: screenW,
		ScreenH: screenH,
	}
}

// Apply projects a raw sample into screen space. The returned degenerate
// flag is true when a homography divisor collapsed and the linear fallback
// was used for this sample; callers log and count those.
func (t *Transform) Apply(s Sample) (CalibratedSample, bool) {
	cs := CalibratedSample{Sample: s}
	degenerate := false

	switch {
	case t == nil || !t.Calibrated:
		cs.ScreenX, cs.ScreenY = s.DeviceX, s.DeviceY
	case t.Method == MethodHomography:
		w := t.H[2][0]*s.DeviceX + t.H[2][1]*s.DeviceY + t.H[2][2]
		if math.Abs(w) < DegenerateDivisorEps {
			cs.ScreenX, cs.ScreenY = t.Linear.Apply(s.DeviceX, s.DeviceY)
			degenerate = true
		} else {
			cs.ScreenX = (t.H[0][0]*s.DeviceX + t.H[0][1]*s.DeviceY + t.H[0][2]) / w
			cs.ScreenY = (t.H[1][0]*s.DeviceX + t.H[1][1]*s.DeviceY + t.H[1][2]) / w
		}
	default:
		cs.ScreenX, cs.ScreenY = t.Linear.Apply(s.DeviceX, s.DeviceY)
	}

	if t != nil && t.ScreenW > 0 && t.ScreenH > 0 {
		cs.ScreenX = clamp(cs.ScreenX, 0, t.ScreenW)
		cs.ScreenY = clamp(cs.ScreenY, 0, t.ScreenH)
	}
	return cs, degenerate
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Calibrator collects point pairs and solves for a transform. It owns the
// Idle → Collecting → Computing → Ready state machine; the computed
// Transform itself is immutable and swapped into the session atomically by
// the caller.
type Calibrator struct {
	mu      sync.Mutex
	state   CalibState
	points  map[int]CalibrationPoint
	screenW float64
	screenH float64
}

// NewCalibrator returns a calibrator for the given screen bounds.
func NewCalibrator(screenW, screenH float64) *Calibrator {
	return &Calibrator{
		state:   CalibIdle,
		points:  make(map[int]CalibrationPoint),
		screenW: screenW,
		screenH: screenH,
	}
}

// State returns the current calibration state.
func (c *Calibrator) State() CalibState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin clears any collected points and moves to Collecting.
func (c *Calibrator) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = make(map[int]CalibrationPoint)
	c.state = CalibCollecting
}

// CapturePoint snapshots the device coordinates of the supplied sample
// against a screen-space target. A duplicate index overwrites the earlier
// capture for that target.
func (c *Calibrator) CapturePoint(index int, screenX, screenY float64, s Sample) (CalibrationPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CalibCollecting {
		return CalibrationPoint{}, ErrNotCollecting
	}
	p := CalibrationPoint{
		Index:          index,
		ScreenX:        screenX,
		ScreenY:        screenY,
		DeviceX:        s.DeviceX,
		DeviceY:        s.DeviceY,
		Confidence:     s.Confidence,
		TimestampNanos: s.TimestampNanos,
	}
	c.points[index] = p
	return p, nil
}

// PointCount returns the number of distinct targets captured so far.
func (c *Calibrator) PointCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Points returns the captured points ordered by target index.
func (c *Calibrator) Points() []CalibrationPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedPointsLocked()
}

func (c *Calibrator) sortedPointsLocked() []CalibrationPoint {
	out := make([]CalibrationPoint, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Compute freezes the collected points and solves for a transform. When
// preferHomography is set and the homography fit fails (singular system or
// the consensus check rejects more than half the points), the solver falls
// back to a linear fit over the same points and records the reason. On
// error the calibrator returns to Collecting so more points can be added;
// the caller keeps any previously active transform.
func (c *Calibrator) Compute(preferHomography bool) (*Transform, error) {
	c.mu.Lock()
	if len(c.points) < MinCalibrationPoints {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientPoints, len(c.points))
	}
	c.state = CalibComputing
	pts := c.sortedPointsLocked()
	c.mu.Unlock()

	t := &Transform{
		Method:     MethodLinear,
		Linear:     fitLinear(pts),
		PointsUsed: len(pts),
		ScreenW:    c.screenW,
		ScreenH:    c.screenH,
		Calibrated: true,
		Points:     pts,
		ComputedAt: time.Now(),
	}

	if preferHomography {
		H, err := fitHomographyConsensus(pts, ReprojectionInlierPx)
		if err == nil {
			t.Method = MethodHomography
			t.H = H
			t.AccuracyPx = meanHomographyError(H, pts)
			c.setState(CalibReady)
			return t, nil
		}
		switch {
		case errors.Is(err, ErrSingularSystem):
			t.FallbackReason = "singular_system"
		case errors.Is(err, ErrConsensusRejected):
			t.FallbackReason = "ransac_rejected"
		default:
			t.FallbackReason = err.Error()
		}
	}

	t.AccuracyPx = meanLinearError(t.Linear, pts)
	c.setState(CalibReady)
	return t, nil
}

func (c *Calibrator) setState(s CalibState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// fitLinear derives an independent scale/offset per axis from the per-axis
// min/max of the point set. A degenerate axis (all device values identical)
// collapses to identity for that axis.
func fitLinear(pts []CalibrationPoint) LinearParams {
	dxMin, dxMax := math.Inf(1), math.Inf(-1)
	dyMin, dyMax := math.Inf(1), math.Inf(-1)
	sxMin, sxMax := math.Inf(1), math.Inf(-1)
	syMin, syMax := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		dxMin, dxMax = math.Min(dxMin, p.DeviceX), math.Max(dxMax, p.DeviceX)
		dyMin, dyMax = math.Min(dyMin, p.DeviceY), math.Max(dyMax, p.DeviceY)
		sxMin, sxMax = math.Min(sxMin, p.ScreenX), math.Max(sxMax, p.ScreenX)
		syMin, syMax = math.Min(syMin, p.ScreenY), math.Max(syMax, p.ScreenY)
	}

	lp := LinearParams{ScaleX: 1, ScaleY: 1}
	if dxMax > dxMin {
		lp.ScaleX = (sxMax - sxMin) / (dxMax - dxMin)
		lp.OffsetX = sxMin - lp.ScaleX*dxMin
	}
	if dyMax > dyMin {
		lp.ScaleY = (syMax - syMin) / (dyMax - dyMin)
		lp.OffsetY = syMin - lp.ScaleY*dyMin
	}
	return lp
}

// fitHomographyConsensus fits a homography with a minimal-subset consensus
// search. With exactly four points the DLT solution is direct. With more,
// every 4-subset (capped) is fitted and scored by reprojection inliers; if
// the best consensus covers half the points or fewer the fit is rejected,
// otherwise the homography is refit over the inlier set.
func fitHomographyConsensus(pts []CalibrationPoint, inlierPx float64) ([3][3]float64, error) {
	n := len(pts)
	if n == MinCalibrationPoints {
		return fitHomographyDLT(pts)
	}

	var (
		bestH       [3][3]float64
		bestInliers []int
		fits        int
		solved      bool
	)
	for i := 0; i < n-3 && fits < maxConsensusFits; i++ {
		for j := i + 1; j < n-2 && fits < maxConsensusFits; j++ {
			for k := j + 1; k < n-1 && fits < maxConsensusFits; k++ {
				for l := k + 1; l < n && fits < maxConsensusFits; l++ {
					fits++
					H, err := fitHomographyDLT([]CalibrationPoint{pts[i], pts[j], pts[k], pts[l]})
					if err != nil {
						continue
					}
					solved = true
					var inliers []int
					for idx, p := range pts {
						if homographyError(H, p) <= inlierPx {
							inliers = append(inliers, idx)
						}
					}
					if len(inliers) > len(bestInliers) {
						bestInliers = inliers
						bestH = H
					}
				}
			}
		}
	}

	if !solved {
		return [3][3]float64{}, ErrSingularSystem
	}
	if len(bestInliers)*2 <= n {
		return [3][3]float64{}, fmt.Errorf("%w: %d/%d inliers", ErrConsensusRejected, len(bestInliers), n)
	}
	if len(bestInliers) == n {
		// All points agree: refit over everything for the least-squares
		// solution rather than the minimal subset.
		return fitHomographyDLT(pts)
	}
	subset := make([]CalibrationPoint, 0, len(bestInliers))
	for _, idx := range bestInliers {
		subset = append(subset, pts[idx])
	}
	H, err := fitHomographyDLT(subset)
	if err != nil {
		return bestH, nil
	}
	return H, nil
}

// fitHomographyDLT solves H·[dx,dy,1]ᵀ ≈ [sx·w, sy·w, w]ᵀ by the direct
// linear transform: two equations per correspondence, solved as the right
// singular vector of the smallest singular value. Points are normalized
// (centroid at origin, mean distance √2) before the solve for conditioning.
func fitHomographyDLT(pts []CalibrationPoint) ([3][3]float64, error) {
	var zero [3][3]float64
	n := len(pts)
	if n < MinCalibrationPoints {
		return zero, ErrInsufficientPoints
	}

	normDev, tDev := normalizePoints(pts, func(p CalibrationPoint) (float64, float64) { return p.DeviceX, p.DeviceY })
	normScr, tScr := normalizePoints(pts, func(p CalibrationPoint) (float64, float64) { return p.ScreenX, p.ScreenY })

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		dx, dy := normDev[i][0], normDev[i][1]
		sx, sy := normScr[i][0], normScr[i][1]
		a.SetRow(2*i, []float64{-dx, -dy, -1, 0, 0, 0, sx * dx, sx * dy, sx})
		a.SetRow(2*i+1, []float64{0, 0, 0, -dx, -dy, -1, sy * dx, sy * dy, sy})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return zero, ErrSingularSystem
	}
	values := svd.Values(nil)
	// Rank deficiency beyond the expected one-dimensional null space means
	// the points are degenerate (e.g. collinear).
	if values[0] == 0 || values[7]/values[0] < singularValueRatio {
		return zero, ErrSingularSystem
	}

	var v mat.Dense
	svd.VTo(&v)
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Set(i, j, v.At(3*i+j, 8))
		}
	}

	// Denormalize: H = T_screen⁻¹ · Ĥ · T_device.
	var tScrInv mat.Dense
	if err := tScrInv.Inverse(tScr); err != nil {
		return zero, ErrSingularSystem
	}
	var tmp, full mat.Dense
	tmp.Mul(h, tDev)
	full.Mul(&tScrInv, &tmp)

	scale := full.At(2, 2)
	if math.Abs(scale) < DegenerateDivisorEps {
		scale = mat.Norm(&full, 2)
		if scale == 0 {
			return zero, ErrSingularSystem
		}
	}

	var H [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			H[i][j] = full.At(i, j) / scale
		}
	}
	return H, nil
}

// normalizePoints applies the Hartley normalization: translate the centroid
// to the origin and scale so the mean distance from it is √2. Returns the
// normalized coordinates and the similarity transform used.
func normalizePoints(pts []CalibrationPoint, coord func(CalibrationPoint) (float64, float64)) ([][2]float64, *mat.Dense) {
	n := float64(len(pts))
	var cx, cy float64
	for _, p := range pts {
		x, y := coord(p)
		cx += x
		cy += y
	}
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		x, y := coord(p)
		meanDist += math.Hypot(x-cx, y-cy)
	}
	meanDist /= n

	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}

	out := make([][2]float64, len(pts))
	for i, p := range pts {
		x, y := coord(p)
		out[i] = [2]float64{s * (x - cx), s * (y - cy)}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return out, t
}

// homographyError returns the reprojection error of one point in pixels.
func homographyError(H [3][3]float64, p CalibrationPoint) float64 {
	w := H[2][0]*p.DeviceX + H[2][1]*p.DeviceY + H[2][2]
	if math.Abs(w) < DegenerateDivisorEps {
		return math.Inf(1)
	}
	sx := (H[0][0]*p.DeviceX + H[0][1]*p.DeviceY + H[0][2]) / w
	sy := (H[1][0]*p.DeviceX + H[1][1]*p.DeviceY + H[1][2]) / w
	return math.Hypot(sx-p.ScreenX, sy-p.ScreenY)
}

// meanHomographyError reports the accuracy over all supplied points, not
// just the inlier set, so the reported figure stays honest.
func meanHomographyError(H [3][3]float64, pts []CalibrationPoint) float64 {
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		e := homographyError(H, p)
		if math.IsInf(e, 1) {
			e = math.Hypot(p.ScreenX, p.ScreenY)
		}
		sum += e
	}
	return sum / float64(len(pts))
}

func meanLinearError(lp LinearParams, pts []CalibrationPoint) float64 {
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sx, sy := lp.Apply(p.DeviceX, p.DeviceY)
		sum += math.Hypot(sx-p.ScreenX, sy-p.ScreenY)
	}
	return sum / float64(len(pts))
}
