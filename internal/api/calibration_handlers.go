package api

import (
	"net/http"

	"github.com/owlet-data/gaze.report/internal/gaze"
)

func (s *Server) calibrationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := sess.CalibrationBegin()
	s.writeJSON(w, map[string]interface{}{
		"status":      "collecting",
		"calibration": status,
	})
}

type capturePointRequest struct {
	PointIndex int     `json:"point_index"`
	ScreenX    float64 `json:"screen_x"`
	ScreenY    float64 `json:"screen_y"`
}

func (s *Server) calibrationCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req capturePointRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	point, err := sess.CalibrationCapture(req.PointIndex, req.ScreenX, req.ScreenY)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status":        "success",
		"gaze_captured": point,
	})
}

type calculateRequest struct {
	Method string `json:"method"`
}

func (s *Server) calibrationCalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req calculateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	method := gaze.TransformMethod(req.Method)
	switch method {
	case "", gaze.MethodHomography:
		method = gaze.MethodHomography
	case gaze.MethodLinear:
	default:
		s.writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "method must be \"homography\" or \"linear\"")
		return
	}

	transform, err := sess.CalibrationCompute(method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status":      "success",
		"accuracy_px": transform.AccuracyPx,
		"method":      transform.Method,
		"transform":   transform,
	})
}

func (s *Server) calibrationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, sess.CalibrationStatus())
}

// CameraIntrinsics describes the scene camera used to map device gaze into
// screen space. Hardware that reports its parameters gets source "device";
// otherwise the mock matrix below serves homography testing.
type CameraIntrinsics struct {
	Intrinsic      [3][3]float64 `json:"intrinsic"`
	Distortion     []float64     `json:"distortion"`
	Resolution     Resolution    `json:"resolution"`
	FocalLength    FocalLength   `json:"focal_length"`
	PrincipalPoint Principal     `json:"principal_point"`
	Source         string        `json:"source"` // "device" or "mock"
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FocalLength struct {
	FX float64 `json:"fx"`
	FY float64 `json:"fy"`
}

type Principal struct {
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
}

func mockCameraIntrinsics() *CameraIntrinsics {
	return &CameraIntrinsics{
		Intrinsic: [3][3]float64{
			{800, 0, 400},
			{0, 800, 300},
			{0, 0, 1},
		},
		Distortion:     []float64{0, 0, 0, 0, 0},
		Resolution:     Resolution{Width: 800, Height: 600},
		FocalLength:    FocalLength{FX: 800, FY: 800},
		PrincipalPoint: Principal{CX: 400, CY: 300},
		Source:         "mock",
	}
}

func (s *Server) cameraIntrinsics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	intrinsics := s.intrinsics
	if intrinsics == nil {
		intrinsics = mockCameraIntrinsics()
	}
	s.writeJSON(w, intrinsics)
}
