// Package vision provides the frame and landmark model for FaceGate.
// It defines the 68-point landmark scheme of the dlib shape predictor,
// the geometric signals derived from it, and the provider interfaces
// implemented by pluggable detector/embedding/classifier adapters.
package vision

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoFaceDetected is returned when no face is found in the input,
// or when a landmark set is empty or malformed.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when more than one face is reported
// for a single-subject session.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when provider models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// MinLandmarkPoints is the number of points in the dlib 68-point
// landmark scheme. Sets with fewer points are rejected.
const MinLandmarkPoints = 68

// Landmark indices in the 68-point scheme. "Left" and "right" follow
// the image orientation (viewer's left), matching dlib's numbering.
const (
	jawLeftIndex    = 2
	jawRightIndex   = 14
	noseTipIndex    = 33
	leftEyeStart    = 36
	rightEyeStart   = 42
	innerMouthStart = 60

	eyePointCount   = 6
	mouthPointCount = 8
)

// Point represents a 2D landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rectangle represents a face bounding box in [left, top, right, bottom]
// pixel coordinates.
type Rectangle struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// IsZero reports whether the rectangle is the zero value.
func (r Rectangle) IsZero() bool {
	return r.Left == 0 && r.Top == 0 && r.Right == 0 && r.Bottom == 0
}

// MarshalJSON encodes the rectangle as [left, top, right, bottom].
// The zero rectangle encodes as an empty array, marking "no box".
func (r Rectangle) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("[]"), nil
	}
	return []byte(fmt.Sprintf("[%d,%d,%d,%d]", r.Left, r.Top, r.Right, r.Bottom)), nil
}

// Frame is one observation submitted for analysis. Either or both of
// Image (an encoded JPEG/PNG) and Faces (pre-computed landmark sets)
// may be present.
type Frame struct {
	Image     []byte
	Faces     []LandmarkSet
	Timestamp time.Time
}

// LandmarkSet holds the facial landmark points for one detected face.
type LandmarkSet struct {
	points []Point
}

// NewLandmarkSet creates a LandmarkSet from raw points. It fails with
// ErrNoFaceDetected when the set is empty or shorter than
// MinLandmarkPoints, so malformed detector output is never analyzed.
func NewLandmarkSet(pts []Point) (*LandmarkSet, error) {
	if len(pts) < MinLandmarkPoints {
		return nil, ErrNoFaceDetected
	}
	return &LandmarkSet{points: pts}, nil
}

// Points returns the underlying landmark points.
func (ls *LandmarkSet) Points() []Point {
	return ls.points
}

// LeftEye returns the six points of the viewer-left eye (indices 36-41).
func (ls *LandmarkSet) LeftEye() []Point {
	return ls.points[leftEyeStart : leftEyeStart+eyePointCount]
}

// RightEye returns the six points of the viewer-right eye (indices 42-47).
func (ls *LandmarkSet) RightEye() []Point {
	return ls.points[rightEyeStart : rightEyeStart+eyePointCount]
}

// InnerMouth returns the eight points of the inner mouth ring (indices 60-67).
func (ls *LandmarkSet) InnerMouth() []Point {
	return ls.points[innerMouthStart : innerMouthStart+mouthPointCount]
}

// NoseTip returns the nose tip point (index 33).
func (ls *LandmarkSet) NoseTip() Point {
	return ls.points[noseTipIndex]
}

// JawLeft returns the viewer-left jaw point (index 2).
func (ls *LandmarkSet) JawLeft() Point {
	return ls.points[jawLeftIndex]
}

// JawRight returns the viewer-right jaw point (index 14).
func (ls *LandmarkSet) JawRight() Point {
	return ls.points[jawRightIndex]
}

// BoundingBox returns the smallest rectangle containing all landmarks.
func (ls *LandmarkSet) BoundingBox() Rectangle {
	minX, minY := ls.points[0].X, ls.points[0].Y
	maxX, maxY := minX, minY
	for _, p := range ls.points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rectangle{
		Left:   int(math.Floor(minX)),
		Top:    int(math.Floor(minY)),
		Right:  int(math.Ceil(maxX)),
		Bottom: int(math.Ceil(maxY)),
	}
}

// EyeOpenness returns the mean eye aspect ratio over both eyes.
// Smaller values mean more closed; a full blink dips below ~0.2.
func (ls *LandmarkSet) EyeOpenness() float64 {
	left := eyeAspectRatio(ls.LeftEye())
	right := eyeAspectRatio(ls.RightEye())
	return (left + right) / 2
}

// MouthOpenness returns the aspect ratio of the inner mouth ring.
// Smiles and open mouths push it above ~0.35.
func (ls *LandmarkSet) MouthOpenness() float64 {
	m := ls.InnerMouth()
	return aspectRatio(m[0], m[4], m[1], m[7], m[3], m[5])
}

// PoseAsymmetry returns a normalized left/right head-pose proxy in
// [-1, 1]: (dL-dR)/(dL+dR) over the horizontal nose-to-jaw distances.
// Negative when the head is turned toward the viewer's left, zero when
// facing the camera or when the jaw span is degenerate.
func (ls *LandmarkSet) PoseAsymmetry() float64 {
	nose := ls.NoseTip()
	dL := math.Abs(nose.X - ls.JawLeft().X)
	dR := math.Abs(nose.X - ls.JawRight().X)
	total := dL + dR
	if total < 1e-9 {
		return 0
	}
	return (dL - dR) / total
}

// ResolveLandmarks extracts the single-subject landmark set from a
// frame. Pre-computed landmarks win; otherwise the detector runs on
// the frame image. Zero faces yield ErrNoFaceDetected, more than one
// ErrMultipleFaces.
func ResolveLandmarks(frame Frame, detector LandmarkDetector) (*LandmarkSet, error) {
	if len(frame.Faces) > 1 {
		return nil, ErrMultipleFaces
	}
	if len(frame.Faces) == 1 {
		// Caller-constructed sets may bypass NewLandmarkSet; a short
		// set would index out of range in the metric accessors.
		if len(frame.Faces[0].points) < MinLandmarkPoints {
			return nil, ErrNoFaceDetected
		}
		return &frame.Faces[0], nil
	}

	if len(frame.Image) == 0 || detector == nil {
		return nil, ErrNoFaceDetected
	}

	sets, err := detector.DetectLandmarks(frame.Image)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(sets) > 1 {
		return nil, ErrMultipleFaces
	}
	return &sets[0], nil
}

// distance returns the Euclidean distance between two points.
func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// aspectRatio computes (‖v1a-v1b‖ + ‖v2a-v2b‖) / (2·‖ha-hb‖), the
// eye-aspect-ratio form. Returns 0 when the horizontal span is
// degenerate rather than dividing by zero.
func aspectRatio(ha, hb, v1a, v1b, v2a, v2b Point) float64 {
	h := distance(ha, hb)
	if h < 1e-9 {
		return 0
	}
	return (distance(v1a, v1b) + distance(v2a, v2b)) / (2 * h)
}

// eyeAspectRatio computes the aspect ratio for one six-point eye ring.
func eyeAspectRatio(eye []Point) float64 {
	return aspectRatio(eye[0], eye[3], eye[1], eye[5], eye[2], eye[4])
}
