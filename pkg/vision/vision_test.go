package vision

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestNewLandmarkSet(t *testing.T) {
	tests := []struct {
		name    string
		points  int
		wantErr error
	}{
		{"full 68-point set", 68, nil},
		{"more than minimum", 70, nil},
		{"one point short", 67, ErrNoFaceDetected},
		{"empty set", 0, ErrNoFaceDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts := make([]Point, tt.points)
			set, err := NewLandmarkSet(pts)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && set == nil {
				t.Error("expected a landmark set, got nil")
			}
		})
	}
}

func TestEyeOpenness(t *testing.T) {
	tests := []struct {
		name string
		ear  float64
	}{
		{"wide open", 0.32},
		{"half closed", 0.22},
		{"closed", 0.10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := makeLandmarks(t, tt.ear, 0.2, 0)
			got := set.EyeOpenness()
			if math.Abs(got-tt.ear) > 1e-9 {
				t.Errorf("expected eye openness %f, got %f", tt.ear, got)
			}
		})
	}
}

func TestMouthOpenness(t *testing.T) {
	tests := []struct {
		name string
		mar  float64
	}{
		{"closed mouth", 0.10},
		{"smile", 0.40},
		{"wide open", 0.65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := makeLandmarks(t, 0.3, tt.mar, 0)
			got := set.MouthOpenness()
			if math.Abs(got-tt.mar) > 1e-9 {
				t.Errorf("expected mouth openness %f, got %f", tt.mar, got)
			}
		})
	}
}

func TestPoseAsymmetry(t *testing.T) {
	tests := []struct {
		name string
		pose float64
	}{
		{"facing camera", 0},
		{"turned left", -0.35},
		{"turned right", 0.35},
		{"slight turn", 0.12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := makeLandmarks(t, 0.3, 0.2, tt.pose)
			got := set.PoseAsymmetry()
			if math.Abs(got-tt.pose) > 1e-9 {
				t.Errorf("expected pose asymmetry %f, got %f", tt.pose, got)
			}
		})
	}
}

func TestPoseAsymmetryDegenerate(t *testing.T) {
	// All points collapsed onto one spot: the jaw span is zero.
	pts := make([]Point, 68)
	for i := range pts {
		pts[i] = Point{X: 50, Y: 50}
	}
	set, err := NewLandmarkSet(pts)
	if err != nil {
		t.Fatalf("failed to build landmark set: %v", err)
	}

	if got := set.PoseAsymmetry(); got != 0 {
		t.Errorf("expected 0 for degenerate jaw span, got %f", got)
	}
	if got := set.EyeOpenness(); got != 0 {
		t.Errorf("expected 0 for degenerate eye span, got %f", got)
	}
}

func TestBoundingBox(t *testing.T) {
	pts := make([]Point, 68)
	for i := range pts {
		pts[i] = Point{X: 10.5, Y: 20.5}
	}
	pts[30] = Point{X: 99.2, Y: 80.7}

	set, err := NewLandmarkSet(pts)
	if err != nil {
		t.Fatalf("failed to build landmark set: %v", err)
	}

	box := set.BoundingBox()
	expected := Rectangle{Left: 10, Top: 20, Right: 100, Bottom: 81}
	if box != expected {
		t.Errorf("expected box %+v, got %+v", expected, box)
	}
}

func TestRectangleMarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		rect     Rectangle
		expected string
	}{
		{"face box", Rectangle{Left: 10, Top: 20, Right: 110, Bottom: 140}, "[10,20,110,140]"},
		{"zero box", Rectangle{}, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.rect)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, string(data))
			}
		})
	}
}

func TestResolveLandmarks(t *testing.T) {
	set := makeLandmarks(t, 0.3, 0.2, 0)

	t.Run("frame with landmarks", func(t *testing.T) {
		got, err := ResolveLandmarks(Frame{Faces: []LandmarkSet{*set}}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got == nil {
			t.Fatal("expected a landmark set, got nil")
		}
	})

	t.Run("frame with short landmark set", func(t *testing.T) {
		_, err := ResolveLandmarks(Frame{Faces: []LandmarkSet{{}}}, nil)
		if !errors.Is(err, ErrNoFaceDetected) {
			t.Errorf("expected ErrNoFaceDetected, got %v", err)
		}
	})

	t.Run("frame with two faces", func(t *testing.T) {
		_, err := ResolveLandmarks(Frame{Faces: []LandmarkSet{*set, *set}}, nil)
		if !errors.Is(err, ErrMultipleFaces) {
			t.Errorf("expected ErrMultipleFaces, got %v", err)
		}
	})

	t.Run("empty frame", func(t *testing.T) {
		_, err := ResolveLandmarks(Frame{}, nil)
		if !errors.Is(err, ErrNoFaceDetected) {
			t.Errorf("expected ErrNoFaceDetected, got %v", err)
		}
	})

	t.Run("image without detector", func(t *testing.T) {
		_, err := ResolveLandmarks(Frame{Image: []byte("jpeg")}, nil)
		if !errors.Is(err, ErrNoFaceDetected) {
			t.Errorf("expected ErrNoFaceDetected, got %v", err)
		}
	})

	t.Run("image resolved through detector", func(t *testing.T) {
		det := &fakeDetector{sets: []LandmarkSet{*set}}
		got, err := ResolveLandmarks(Frame{Image: []byte("jpeg")}, det)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got == nil {
			t.Fatal("expected a landmark set, got nil")
		}
		if det.calls != 1 {
			t.Errorf("expected 1 detector call, got %d", det.calls)
		}
	})

	t.Run("detector reports two faces", func(t *testing.T) {
		det := &fakeDetector{sets: []LandmarkSet{*set, *set}}
		_, err := ResolveLandmarks(Frame{Image: []byte("jpeg")}, det)
		if !errors.Is(err, ErrMultipleFaces) {
			t.Errorf("expected ErrMultipleFaces, got %v", err)
		}
	})

	t.Run("detector failure passes through", func(t *testing.T) {
		det := &fakeDetector{err: ErrNoFaceDetected}
		_, err := ResolveLandmarks(Frame{Image: []byte("jpeg")}, det)
		if !errors.Is(err, ErrNoFaceDetected) {
			t.Errorf("expected ErrNoFaceDetected, got %v", err)
		}
	})
}

type fakeDetector struct {
	sets  []LandmarkSet
	err   error
	calls int
}

func (d *fakeDetector) DetectLandmarks(image []byte) ([]LandmarkSet, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.sets, nil
}

// makeLandmarks builds a synthetic 68-point set whose eye aspect ratio,
// mouth aspect ratio, and pose asymmetry equal the given targets.
func makeLandmarks(t *testing.T, ear, mar, pose float64) *LandmarkSet {
	t.Helper()

	pts := make([]Point, 68)
	for i := range pts {
		pts[i] = Point{X: 50, Y: 50}
	}

	placeEye(pts, 36, 30, 40, ear)
	placeEye(pts, 42, 60, 40, ear)
	placeMouth(pts, 60, 40, 70, mar)

	// Jaw span 0..100 with the nose offset producing the target asymmetry.
	pts[2] = Point{X: 0, Y: 60}
	pts[14] = Point{X: 100, Y: 60}
	pts[33] = Point{X: 50 + 50*pose, Y: 55}

	set, err := NewLandmarkSet(pts)
	if err != nil {
		t.Fatalf("failed to build landmark set: %v", err)
	}
	return set
}

// placeEye writes a six-point eye ring with horizontal span 4 and
// vertical spread chosen so the aspect ratio equals ear.
func placeEye(pts []Point, start int, cx, cy, ear float64) {
	h := 2 * ear
	pts[start+0] = Point{X: cx, Y: cy}
	pts[start+1] = Point{X: cx + 1, Y: cy - h}
	pts[start+2] = Point{X: cx + 3, Y: cy - h}
	pts[start+3] = Point{X: cx + 4, Y: cy}
	pts[start+4] = Point{X: cx + 3, Y: cy + h}
	pts[start+5] = Point{X: cx + 1, Y: cy + h}
}

// placeMouth writes an eight-point inner-mouth ring with horizontal
// span 6 and vertical spread chosen so the aspect ratio equals mar.
func placeMouth(pts []Point, start int, cx, cy, mar float64) {
	v := 3 * mar
	pts[start+0] = Point{X: cx, Y: cy}
	pts[start+1] = Point{X: cx + 1, Y: cy - v}
	pts[start+2] = Point{X: cx + 2, Y: cy - v}
	pts[start+3] = Point{X: cx + 3, Y: cy - v}
	pts[start+4] = Point{X: cx + 6, Y: cy}
	pts[start+5] = Point{X: cx + 3, Y: cy + v}
	pts[start+6] = Point{X: cx + 2, Y: cy + v}
	pts[start+7] = Point{X: cx + 1, Y: cy + v}
}
