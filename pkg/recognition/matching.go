// Package recognition provides face identity matching over fixed-size
// descriptors. Descriptors come from an external embedding model; this
// package implements only the distance metric and candidate selection,
// so it stays independent of any model library.
package recognition

import (
	"errors"
	"math"
)

// Descriptor is a 128-dimensional face descriptor.
type Descriptor [128]float32

// Embedding represents a face embedding with metadata.
type Embedding struct {
	Vector  Descriptor `json:"vector"`
	Quality float64    `json:"quality"`
	Angle   string     `json:"angle"` // "front", "left", "right", "up", "down"
}

// NamedTemplate groups the stored embeddings of one enrolled person.
type NamedTemplate struct {
	Name       string
	Embeddings []Descriptor
}

// Match is a successful identity selection.
type Match struct {
	Name     string
	Distance float64
}

// ErrNoMatch is returned when no stored template is a sufficiently
// confident and unambiguous match for the probe.
var ErrNoMatch = errors.New("no matching face template")

// EuclideanDistance calculates the Euclidean distance between two
// descriptors. Lower means more similar; typical same-person distances
// fall below 0.4-0.6.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FindBestMatch finds the closest descriptor in a gallery.
// Returns the index of the best match, the distance, and whether it is
// within tolerance. An empty gallery returns index -1.
func FindBestMatch(probe Descriptor, gallery []Descriptor, tolerance float64) (int, float64, bool) {
	if len(gallery) == 0 {
		return -1, math.MaxFloat64, false
	}

	bestIdx := 0
	bestDist := math.MaxFloat64

	for i, d := range gallery {
		dist := EuclideanDistance(probe, d)
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	return bestIdx, bestDist, bestDist < tolerance
}

// SelectIdentity picks the enrolled person best matching the probe.
// A candidate's distance is the minimum over its stored embeddings.
// The winner is accepted only when its distance is below threshold AND
// the second-best candidate trails by at least minMargin, so near-tie
// distances between different people never produce a match. A single
// enrolled candidate satisfies the margin trivially. An empty template
// set always yields ErrNoMatch.
func SelectIdentity(probe Descriptor, templates []NamedTemplate, threshold, minMargin float64) (Match, error) {
	bestIdx := -1
	bestDist := math.MaxFloat64
	secondDist := math.MaxFloat64

	for i, tpl := range templates {
		dist := templateDistance(probe, tpl)
		if dist < bestDist {
			secondDist = bestDist
			bestDist = dist
			bestIdx = i
		} else if dist < secondDist {
			secondDist = dist
		}
	}

	if bestIdx < 0 || bestDist >= threshold {
		return Match{}, ErrNoMatch
	}
	if secondDist != math.MaxFloat64 && secondDist-bestDist < minMargin {
		return Match{}, ErrNoMatch
	}

	return Match{Name: templates[bestIdx].Name, Distance: bestDist}, nil
}

// templateDistance returns the minimum distance from the probe to any
// embedding of the template, or MaxFloat64 for an empty template.
func templateDistance(probe Descriptor, tpl NamedTemplate) float64 {
	best := math.MaxFloat64
	for _, emb := range tpl.Embeddings {
		if dist := EuclideanDistance(probe, emb); dist < best {
			best = dist
		}
	}
	return best
}

// AverageEmbedding computes the average of multiple embeddings.
// This is useful for combining multiple angles of the same face.
func AverageEmbedding(embeddings []Embedding) Embedding {
	if len(embeddings) == 0 {
		return Embedding{}
	}

	if len(embeddings) == 1 {
		return embeddings[0]
	}

	var avgVector Descriptor
	for _, emb := range embeddings {
		for i, v := range emb.Vector {
			avgVector[i] += v
		}
	}

	count := float32(len(embeddings))
	for i := range avgVector {
		avgVector[i] /= count
	}

	var avgQuality float64
	for _, emb := range embeddings {
		avgQuality += emb.Quality
	}
	avgQuality /= float64(len(embeddings))

	return Embedding{
		Vector:  avgVector,
		Quality: avgQuality,
		Angle:   "averaged",
	}
}
