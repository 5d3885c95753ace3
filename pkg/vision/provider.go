package vision

import "github.com/facegate/facegate/pkg/recognition"

// LandmarkDetector locates faces in an encoded image and returns one
// landmark set per face.
type LandmarkDetector interface {
	DetectLandmarks(image []byte) ([]LandmarkSet, error)
}

// Embedder computes the identity embedding for the single face in an
// encoded image, along with its bounding box.
type Embedder interface {
	Embed(image []byte) (recognition.Descriptor, Rectangle, error)
}

// EmotionClassifier assigns an emotion label with a confidence score
// to the face in a frame.
type EmotionClassifier interface {
	Classify(frame Frame) (label string, confidence float64, err error)
}

// Provider bundles the external model capabilities the system consumes.
// The core never depends on a specific model library; any adapter
// satisfying this interface can serve.
type Provider interface {
	LandmarkDetector
	Embedder
	EmotionClassifier
}
