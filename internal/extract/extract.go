// Package extract harvests metadata from one array file: its variables,
// their dimensions, chunking and attributes, plus a derived temporal range
// and frequency classification. Every per-file outcome is a tagged value;
// extraction never propagates an error across the batch boundary.
package extract

import (
	"path/filepath"

	"go.uber.org/zap"

	"nccatalog/internal/logging"
	"nccatalog/internal/ncio"
)

// Kind tags a per-file extraction outcome.
type Kind int

const (
	// Ok means metadata was captured and the file is present. Temporal
	// fields may still be empty for files without a usable time axis.
	Ok Kind = iota
	// NotFound means the file disappeared between scan and open.
	NotFound
	// Broken means the file exists but could not be read or parsed.
	Broken
	// Empty means the file's time dimension has zero length.
	Empty
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case NotFound:
		return "not-found"
	case Broken:
		return "broken"
	case Empty:
		return "empty"
	}
	return "unknown"
}

// Outcome is the result of extracting one file.
type Outcome struct {
	Kind Kind
	Path string // experiment-relative path
	Err  error  // cause, for Broken
	Meta *FileMeta
}

// FileMeta is everything harvested from one file.
type FileMeta struct {
	Attrs     map[string]string
	Vars      []VarMeta
	TimeStart string
	TimeEnd   string
	Frequency string
}

// VarMeta is one stored variable's metadata.
type VarMeta struct {
	Name         string
	LongName     string
	StandardName string
	Units        string
	Dimensions   []string
	Chunking     []int64 // nil means contiguous
	Attrs        map[string]string
}

// File extracts metadata for the file at rel under root, using the given
// opener.
func File(open ncio.Opener, root, rel string) Outcome {
	log := logging.L(logging.CategoryExtract)
	path := filepath.Join(root, rel)

	f, err := open(path)
	if err != nil {
		if ncio.IsNotExist(err) {
			log.Info("unable to find file", zap.String("path", path))
			return Outcome{Kind: NotFound, Path: rel, Err: err}
		}
		log.Error("error opening file", zap.String("path", path), zap.Error(err))
		return Outcome{Kind: Broken, Path: rel, Err: err}
	}
	defer f.Close()

	meta := &FileMeta{Attrs: f.Attributes()}
	for _, name := range f.Variables() {
		v, err := f.Variable(name)
		if err != nil {
			log.Error("error reading variable",
				zap.String("path", path), zap.String("variable", name), zap.Error(err))
			return Outcome{Kind: Broken, Path: rel, Err: err}
		}
		attrs := v.Attributes()
		meta.Vars = append(meta.Vars, VarMeta{
			Name:         name,
			LongName:     attrs["long_name"],
			StandardName: attrs["standard_name"],
			Units:        attrs["units"],
			Dimensions:   v.Dimensions(),
			Chunking:     v.Chunking(),
			Attrs:        attrs,
		})
	}

	if kind, err := updateTimeInfo(f, meta); err != nil {
		if kind == Empty {
			log.Warn("file has empty time dimension", zap.String("path", path))
			return Outcome{Kind: Empty, Path: rel, Err: err, Meta: meta}
		}
		log.Error("error extracting time info",
			zap.String("path", path), zap.Error(err))
		return Outcome{Kind: Broken, Path: rel, Err: err, Meta: meta}
	}

	return Outcome{Kind: Ok, Path: rel, Meta: meta}
}
