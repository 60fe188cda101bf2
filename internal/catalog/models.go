package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Experiment is one indexed experiment root. Identity is the
// (Name, RootDir) pair; the human metadata fields come from the sidecar
// descriptor and are re-merged on every index pass.
type Experiment struct {
	ID      int64
	Name    string
	RootDir string

	Contact     string
	Email       string
	Created     string
	Description string
	Notes       string
	URL         string
}

// File is one catalog row for an array file, addressed by its path
// relative to the experiment root.
type File struct {
	ID           int64
	ExperimentID int64
	Path         string
	IndexTime    time.Time
	Present      bool
	TimeStart    string
	TimeEnd      string
	Frequency    string
}

// Variable is the canonical (interned) form of a variable: one row per
// distinct (name, long_name, units) however many files carry it.
type Variable struct {
	ID           int64
	Name         string
	LongName     string
	StandardName string
	Units        string
}

// VarInstance links one File to one Variable and carries the per-file
// dimensions and chunking. Chunking nil means contiguous storage.
type VarInstance struct {
	ID         int64
	FileID     int64
	VariableID int64
	Dimensions []string
	Chunking   []int64
}

const indexTimeFormat = time.RFC3339Nano

func encodeDims(dims []string) string {
	if dims == nil {
		dims = []string{}
	}
	b, _ := json.Marshal(dims)
	return string(b)
}

func decodeDims(s string) ([]string, error) {
	var dims []string
	if err := json.Unmarshal([]byte(s), &dims); err != nil {
		return nil, fmt.Errorf("malformed dimensions %q: %w", s, err)
	}
	return dims, nil
}

// encodeChunking serialises a chunk shape; nil marshals to the JSON null
// sentinel for contiguous storage.
func encodeChunking(chunks []int64) string {
	b, _ := json.Marshal(chunks)
	return string(b)
}

func decodeChunking(s string) ([]int64, error) {
	var chunks []int64
	if err := json.Unmarshal([]byte(s), &chunks); err != nil {
		return nil, fmt.Errorf("malformed chunking %q: %w", s, err)
	}
	return chunks, nil
}
