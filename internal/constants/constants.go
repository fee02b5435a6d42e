// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultMatchThreshold is the minimum cosine similarity for a face to be
	// accepted as a known identity.
	DefaultMatchThreshold = 0.6

	// DefaultTieEpsilon is the score gap under which the two best identities
	// are considered tied. Tied matches are reported as unknown.
	DefaultTieEpsilon = 1e-6

	// FaceEmbeddingDim is the default dimension for face embeddings (512 for ArcFace/FaceNet-512)
	FaceEmbeddingDim = 512
)

// HNSW index parameters for identity stores
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWMinIdentities is the store size from which near-duplicate checks
	// use an HNSW index instead of comparing every pair. Matching always
	// scores every identity.
	HNSWMinIdentities = 256

	// HNSWDuplicateNeighbors is how many neighbours of each identity the
	// near-duplicate check inspects.
	HNSWDuplicateNeighbors = 8

	// DefaultDuplicateSimilarity is the similarity from which two identities
	// are reported as near-duplicates after training.
	DefaultDuplicateSimilarity = 0.9
)

// Unknown face tracking constants
const (
	// DefaultUnknownStreak is the number of consecutive unknown frames after
	// which a face triggers a notification.
	DefaultUnknownStreak = 10

	// DefaultTrackTTL is how long a face track may go unseen before its
	// streak is considered finished (face left view).
	DefaultTrackTTL = 1500 * time.Millisecond
)

// Processing constants
const (
	// DefaultWorkers is the default number of parallel workers per frame
	DefaultWorkers = 4

	// DefaultMarkCacheSize is the number of marked attendance windows kept in memory
	DefaultMarkCacheSize = 4096
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// HTTP constants
const (
	// MaxFrameBodySize caps a single frame request (faces x embeddings)
	MaxFrameBodySize = 4 << 20

	// MaxTrainingBodySize caps identity uploads from the training pipeline
	MaxTrainingBodySize = 64 << 20
)
