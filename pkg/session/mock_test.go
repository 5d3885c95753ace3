package session

import (
	"testing"

	"github.com/facegate/facegate/pkg/recognition"
	"github.com/facegate/facegate/pkg/storage"
	"github.com/facegate/facegate/pkg/vision"
)

// fakeEmbedder maps image bytes (as a string key) to descriptors.
type fakeEmbedder struct {
	descriptors map[string]recognition.Descriptor
}

func (f *fakeEmbedder) Embed(image []byte) (recognition.Descriptor, vision.Rectangle, error) {
	d, ok := f.descriptors[string(image)]
	if !ok {
		return recognition.Descriptor{}, vision.Rectangle{}, vision.ErrNoFaceDetected
	}
	return d, vision.Rectangle{Left: 10, Top: 10, Right: 110, Bottom: 110}, nil
}

// fakeStore is an in-memory template store.
type fakeStore struct {
	templates map[string][]recognition.Descriptor
}

func newFakeStore() *fakeStore {
	return &fakeStore{templates: make(map[string][]recognition.Descriptor)}
}

func (f *fakeStore) LookupAll() ([]recognition.NamedTemplate, error) {
	out := make([]recognition.NamedTemplate, 0, len(f.templates))
	for name, vecs := range f.templates {
		out = append(out, recognition.NamedTemplate{Name: name, Embeddings: vecs})
	}
	return out, nil
}

func (f *fakeStore) Append(name string, embedding recognition.Embedding) error {
	if _, ok := f.templates[name]; ok {
		return storage.ErrDuplicateName
	}
	f.templates[name] = []recognition.Descriptor{embedding.Vector}
	return nil
}

func (f *fakeStore) Exists(name string) bool {
	_, ok := f.templates[name]
	return ok
}

func (f *fakeStore) UpdateLastUsed(string) error { return nil }

// fakeClassifier labels every frame identically.
type fakeClassifier struct {
	label string
}

func (f *fakeClassifier) Classify(vision.Frame) (string, float64, error) {
	return f.label, 0.9, nil
}

// descriptorAt builds a descriptor whose distance from the zero
// descriptor is exactly v.
func descriptorAt(v float32) recognition.Descriptor {
	var d recognition.Descriptor
	d[0] = v
	return d
}

// landmarksWith builds a 68-point set whose geometric signals match
// the requested eye, mouth and pose values.
func landmarksWith(t *testing.T, eye, mouth, pose float64) vision.LandmarkSet {
	t.Helper()

	pts := make([]vision.Point, vision.MinLandmarkPoints)

	// Eye rings: horizontal span 4, vertical gap 2h per pair, so the
	// aspect ratio comes out at h/2.
	h := 2 * eye
	eyeRing := func(start int, baseX, baseY float64) {
		pts[start+0] = vision.Point{X: baseX, Y: baseY}
		pts[start+1] = vision.Point{X: baseX + 1, Y: baseY - h}
		pts[start+2] = vision.Point{X: baseX + 3, Y: baseY - h}
		pts[start+3] = vision.Point{X: baseX + 4, Y: baseY}
		pts[start+4] = vision.Point{X: baseX + 3, Y: baseY + h}
		pts[start+5] = vision.Point{X: baseX + 1, Y: baseY + h}
	}
	eyeRing(36, 1, 30)
	eyeRing(42, 7, 30)

	// Inner mouth ring, same aspect-ratio construction.
	v := 2 * mouth
	mouthPts := []vision.Point{
		{X: 4, Y: 50}, {X: 5, Y: 50 - v}, {X: 6, Y: 50 - v}, {X: 7, Y: 50 - v},
		{X: 8, Y: 50}, {X: 7, Y: 50 + v}, {X: 6, Y: 50 + v}, {X: 5, Y: 50 + v},
	}
	copy(pts[60:], mouthPts)

	// Pose proxy (dL-dR)/(dL+dR) over nose-to-jaw X distances.
	pts[2] = vision.Point{X: 0, Y: 40}
	pts[14] = vision.Point{X: 10, Y: 40}
	pts[33] = vision.Point{X: 5 * (pose + 1), Y: 42}

	set, err := vision.NewLandmarkSet(pts)
	if err != nil {
		t.Fatalf("NewLandmarkSet failed: %v", err)
	}
	return *set
}

// frameWith wraps synthetic landmarks and image bytes into a frame.
func frameWith(t *testing.T, eye, mouth, pose float64, image string) vision.Frame {
	t.Helper()
	return vision.Frame{
		Image: []byte(image),
		Faces: []vision.LandmarkSet{landmarksWith(t, eye, mouth, pose)},
	}
}

// framesFor returns a frame sequence that satisfies the challenge
// named by the prompt.
func framesFor(t *testing.T, prompt, image string) []vision.Frame {
	t.Helper()

	type sample struct{ eye, mouth, pose float64 }
	var samples []sample
	switch prompt {
	case "Blink":
		samples = []sample{
			{0.30, 0.20, 0}, {0.30, 0.20, 0},
			{0.10, 0.20, 0}, {0.10, 0.20, 0},
			{0.30, 0.20, 0},
		}
	case "Smile":
		samples = []sample{
			{0.30, 0.20, 0}, {0.30, 0.50, 0},
			{0.30, 0.50, 0}, {0.30, 0.50, 0},
		}
	case "Look Left":
		samples = []sample{
			{0.30, 0.20, 0}, {0.30, 0.20, -0.40},
			{0.30, 0.20, -0.40}, {0.30, 0.20, -0.05},
		}
	case "Look Right":
		samples = []sample{
			{0.30, 0.20, 0}, {0.30, 0.20, 0.40},
			{0.30, 0.20, 0.40}, {0.30, 0.20, 0.05},
		}
	default:
		t.Fatalf("unknown prompt %q", prompt)
	}

	frames := make([]vision.Frame, len(samples))
	for i, s := range samples {
		frames[i] = frameWith(t, s.eye, s.mouth, s.pose, image)
	}
	return frames
}
