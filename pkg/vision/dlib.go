//go:build cgo

package vision

import (
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/recognition"
)

// DlibProvider implements Provider using dlib via go-face.
type DlibProvider struct {
	rec        *face.Recognizer
	modelPath  string
	loaded     bool
	mu         sync.RWMutex
	classifier *GeometricClassifier
}

// NewDlibProvider creates a new DlibProvider instance. Models must be
// loaded with LoadModels before the provider can analyze images.
func NewDlibProvider() *DlibProvider {
	p := &DlibProvider{}
	p.classifier = &GeometricClassifier{Detector: p}
	return p
}

// LoadModels loads the dlib models from the specified path.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - shape_predictor_68_face_landmarks.dat (for landmark analysis)
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat (optional, for CNN detection)
func (p *DlibProvider) LoadModels(modelPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}

	logging.Infof("Loading face models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	p.rec = rec
	p.modelPath = modelPath
	p.loaded = true

	logging.Info("Face models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (p *DlibProvider) IsLoaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

// Close releases the recognizer resources.
func (p *DlibProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rec != nil {
		p.rec.Close()
		p.rec = nil
	}
	p.loaded = false
	return nil
}

// recognize runs go-face detection and enforces the single-subject
// discipline shared by all provider methods.
func (p *DlibProvider) recognize(image []byte) (face.Face, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.loaded {
		return face.Face{}, ErrModelNotLoaded
	}

	faces, err := p.rec.Recognize(image)
	if err != nil {
		return face.Face{}, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		return face.Face{}, ErrNoFaceDetected
	}
	if len(faces) > 1 {
		return face.Face{}, ErrMultipleFaces
	}

	return faces[0], nil
}

// DetectLandmarks locates faces in an encoded image and returns their
// landmark sets. The loaded shape predictor must produce the full
// 68-point scheme; shorter shapes are rejected as ErrNoFaceDetected.
func (p *DlibProvider) DetectLandmarks(image []byte) ([]LandmarkSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.loaded {
		return nil, ErrModelNotLoaded
	}

	faces, err := p.rec.Recognize(image)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	sets := make([]LandmarkSet, 0, len(faces))
	for _, f := range faces {
		pts := make([]Point, len(f.Shapes))
		for i, sp := range f.Shapes {
			pts[i] = Point{X: float64(sp.X), Y: float64(sp.Y)}
		}
		set, err := NewLandmarkSet(pts)
		if err != nil {
			return nil, err
		}
		sets = append(sets, *set)
	}

	logging.Debugf("Detected %d face(s) with landmarks", len(sets))
	return sets, nil
}

// Embed computes the identity descriptor for the single face in an
// encoded image, along with its bounding box.
func (p *DlibProvider) Embed(image []byte) (recognition.Descriptor, Rectangle, error) {
	f, err := p.recognize(image)
	if err != nil {
		return recognition.Descriptor{}, Rectangle{}, err
	}

	box := Rectangle{
		Left:   f.Rectangle.Min.X,
		Top:    f.Rectangle.Min.Y,
		Right:  f.Rectangle.Max.X,
		Bottom: f.Rectangle.Max.Y,
	}
	return recognition.Descriptor(f.Descriptor), box, nil
}

// Classify assigns an emotion label to the face in a frame using the
// landmark-geometry heuristic.
func (p *DlibProvider) Classify(frame Frame) (string, float64, error) {
	return p.classifier.Classify(frame)
}
