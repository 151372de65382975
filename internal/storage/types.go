package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/scrypster/metacluster/pkg/types"
)

var (
	// ErrNotFound indicates that the requested run was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// RunInfo summarizes a stored reduction run.
type RunInfo struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Rounds         int       `json:"rounds"`
	Degraded       bool      `json:"degraded"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
	RootCount      int       `json:"root_count"`
	ClusterCount   int       `json:"cluster_count"`
}

// NewRunInfo describes tree as run id, created now.
func NewRunInfo(id string, tree *types.Tree) RunInfo {
	return RunInfo{
		ID:             id,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		Rounds:         tree.Rounds,
		Degraded:       tree.Degraded,
		DegradedReason: tree.DegradedReason,
		RootCount:      len(tree.RootIDs),
		ClusterCount:   len(tree.Clusters),
	}
}

// ValidateSave checks the arguments shared by every SaveTree implementation.
func ValidateSave(runID string, tree *types.Tree) error {
	if runID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}
	if tree == nil {
		return fmt.Errorf("%w: tree is required", ErrInvalidInput)
	}
	for _, c := range tree.Clusters {
		if c.ID == "" {
			return fmt.Errorf("%w: cluster ID is required", ErrInvalidInput)
		}
	}
	return nil
}

// EncodeVector serializes a centroid as little-endian float32 values.
// A nil or empty vector encodes to nil.
func EncodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
