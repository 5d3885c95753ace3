package vision

// Emotion labels produced by the geometric classifier, a subset of the
// usual seven-class emotion vocabulary.
const (
	EmotionHappy    = "happy"
	EmotionSurprise = "surprise"
	EmotionNeutral  = "neutral"
)

// Geometry gates for the heuristic labels.
const (
	surpriseMouthRatio = 0.55
	surpriseEyeRatio   = 0.30
	happyMouthRatio    = 0.35
)

// GeometricClassifier is a landmark-only EmotionClassifier: a wide-open
// mouth with wide eyes reads as surprise, an open mouth as happy,
// anything else as neutral. It needs no model files, so it serves as
// the default classifier; a model-backed one can replace it behind the
// EmotionClassifier interface.
type GeometricClassifier struct {
	// Detector resolves landmarks for frames that carry only an image.
	// May be nil when every frame arrives with pre-computed landmarks.
	Detector LandmarkDetector
}

// Classify labels the face in the frame. Frames without a resolvable
// single face fail with ErrNoFaceDetected or ErrMultipleFaces.
func (c *GeometricClassifier) Classify(frame Frame) (string, float64, error) {
	set, err := ResolveLandmarks(frame, c.Detector)
	if err != nil {
		return "", 0, err
	}

	mouth := set.MouthOpenness()
	eyes := set.EyeOpenness()

	switch {
	case mouth > surpriseMouthRatio && eyes > surpriseEyeRatio:
		return EmotionSurprise, confidence(mouth, surpriseMouthRatio), nil
	case mouth > happyMouthRatio:
		return EmotionHappy, confidence(mouth, happyMouthRatio), nil
	default:
		return EmotionNeutral, confidence(happyMouthRatio, mouth), nil
	}
}

// confidence maps the distance past a threshold onto [0.5, 0.95].
func confidence(value, threshold float64) float64 {
	c := 0.5 + (value-threshold)*2
	if c < 0.5 {
		return 0.5
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}
