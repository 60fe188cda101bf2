// Package indexer reconciles the on-disk file set of an experiment against
// the catalog: scan, diff, prune per policy, extract metadata for new
// files on a worker pool, and commit one transaction per experiment.
package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nccatalog/internal/catalog"
	"nccatalog/internal/extract"
	"nccatalog/internal/logging"
	"nccatalog/internal/ncio"
)

// Policy selects how stale or missing catalog rows are handled.
type Policy int

const (
	// PolicyFlag retains rows for missing files, marked not present.
	// Stale rows cannot be replaced under this policy and are left
	// untouched with a warning.
	PolicyFlag Policy = iota
	// PolicyDelete removes rows for missing files and replaces stale
	// ones.
	PolicyDelete
)

// ParsePolicy maps the config/CLI spelling to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "flag":
		return PolicyFlag, nil
	case "delete":
		return PolicyDelete, nil
	}
	return PolicyFlag, fmt.Errorf("unknown prune policy %q", s)
}

// Options control an index pass.
type Options struct {
	// Update allows re-visiting an experiment that is already in the
	// catalog. Without it, a known experiment is skipped.
	Update bool
	// Force deletes every known row for the experiment before scanning,
	// unconditionally re-indexing all on-disk files.
	Force bool
	// Policy is the prune policy.
	Policy Policy
	// Glob is matched against file base names during the scan.
	Glob string
	// FollowSymlinks enables traversal through symlinked directories.
	// Off by default to bound traversal.
	FollowSymlinks bool
	// Workers bounds concurrent metadata extraction; <=1 is serial.
	Workers int
	// Open substitutes the file opener; nil means ncio.Open.
	Open ncio.Opener
}

func (o Options) withDefaults() Options {
	if o.Glob == "" {
		o.Glob = "*.nc"
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Open == nil {
		o.Open = ncio.Open
	}
	return o
}

// Build indexes the given experiment root directories, serially, and
// returns the total number of newly indexed files.
func Build(ctx context.Context, db *catalog.DB, dirs []string, opts Options) (int, error) {
	opts = opts.withDefaults()
	log := logging.L(logging.CategoryIndex)

	indexed := 0
	for _, dir := range dirs {
		n, err := indexExperiment(ctx, db, dir, opts)
		if err != nil {
			return indexed, err
		}
		indexed += n
	}
	log.Info("index pass complete", zap.Int("new_files", indexed))
	return indexed, nil
}

func indexExperiment(ctx context.Context, db *catalog.DB, dir string, opts Options) (int, error) {
	log := logging.L(logging.CategoryIndex)

	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("resolve experiment root %s: %w", dir, err)
	}
	name := filepath.Base(root)

	// Skip a known experiment entirely unless updating.
	if !opts.Update && !opts.Force {
		if _, err := db.ExperimentByNameDir(name, root); err == nil {
			log.Info("not re-indexing experiment; pass update to re-scan",
				zap.String("experiment", name))
			return 0, nil
		}
	}

	log.Info("indexing experiment", zap.String("experiment", name), zap.String("root", root))

	// Scanning
	onDisk, err := scan(root, opts.Glob, opts.FollowSymlinks)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", root, err)
	}
	log.Debug("scanned experiment root",
		zap.String("experiment", name), zap.Int("candidates", len(onDisk)))

	sess, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer sess.Rollback()

	exp, created, err := sess.GetOrCreateExperiment(name, root)
	if err != nil {
		return 0, err
	}
	if err := mergeMetadata(sess, exp); err != nil {
		return 0, err
	}

	// Reconciling
	var known map[string]catalog.File
	if created {
		known = map[string]catalog.File{}
	} else if known, err = sess.FilesForExperiment(exp.ID); err != nil {
		return 0, err
	}
	plan := reconcile(known, onDisk, opts)
	for _, w := range plan.warnings {
		log.Warn(w, zap.String("experiment", name))
	}

	// Mutating
	if opts.Force {
		if err := sess.DeleteExperimentFiles(exp.ID); err != nil {
			return 0, err
		}
	} else {
		for _, id := range plan.deletions {
			if err := sess.DeleteFile(id); err != nil {
				return 0, err
			}
		}
		for _, id := range plan.flags {
			if err := sess.FlagFileMissing(id); err != nil {
				return 0, err
			}
		}
	}

	outcomes, err := extractAll(ctx, opts, root, plan.candidates)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, out := range outcomes {
		if err := insertOutcome(sess, exp.ID, out); err != nil {
			return 0, err
		}
		indexed++
	}

	// Committed
	if err := sess.Commit(); err != nil {
		return 0, fmt.Errorf("commit experiment %s: %w", name, err)
	}
	log.Info("indexed experiment",
		zap.String("experiment", name), zap.Int("new_files", indexed))
	return indexed, nil
}

// reconcilePlan is the diff of disk against catalog.
type reconcilePlan struct {
	candidates []string // paths to extract and insert
	deletions  []int64  // file row ids to delete
	flags      []int64  // file row ids to mark not present
	warnings   []string
}

// reconcile diffs the catalog's known rows for an experiment against the
// on-disk set.
func reconcile(known map[string]catalog.File, onDisk map[string]time.Time, opts Options) reconcilePlan {
	var plan reconcilePlan

	if opts.Force {
		for path := range onDisk {
			plan.candidates = append(plan.candidates, path)
		}
		sortPaths(plan.candidates)
		return plan
	}

	for path, row := range known {
		mtime, exists := onDisk[path]
		if !exists {
			if opts.Policy == PolicyDelete {
				plan.deletions = append(plan.deletions, row.ID)
			} else if row.Present {
				plan.flags = append(plan.flags, row.ID)
			}
			continue
		}
		// Staleness: a known row is eligible for re-index only once the
		// on-disk copy is newer than its index time. Replacing the row
		// needs the delete policy; flag cannot do it without violating
		// per-(experiment, path) uniqueness.
		if mtime.After(row.IndexTime) {
			if opts.Policy == PolicyDelete {
				plan.deletions = append(plan.deletions, row.ID)
				plan.candidates = append(plan.candidates, path)
			} else {
				plan.warnings = append(plan.warnings, fmt.Sprintf(
					"%s is newer on disk than its index entry; re-index with the delete policy to refresh it", path))
			}
		}
	}

	for path := range onDisk {
		if _, ok := known[path]; !ok {
			plan.candidates = append(plan.candidates, path)
		}
	}
	sortPaths(plan.candidates)
	return plan
}

// extractAll runs per-file extraction on a bounded worker pool. Results
// come back in candidate order; individual file failures are tagged
// outcomes and never abort the batch. Cancellation does abort it: the
// pass must roll back rather than commit a partial view of the run.
func extractAll(ctx context.Context, opts Options, root string, candidates []string) ([]extract.Outcome, error) {
	outcomes := make([]extract.Outcome, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, rel := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = extract.File(opts.Open, root, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// insertOutcome stages one extraction outcome: the file row, uniqued
// variables, instances, and interned attributes.
func insertOutcome(sess *catalog.Session, expID int64, out extract.Outcome) error {
	f := &catalog.File{
		ExperimentID: expID,
		Path:         out.Path,
		IndexTime:    time.Now(),
		Present:      out.Kind == extract.Ok,
	}
	meta := out.Meta
	if meta == nil {
		meta = &extract.FileMeta{}
	}
	f.TimeStart = meta.TimeStart
	f.TimeEnd = meta.TimeEnd
	f.Frequency = meta.Frequency

	fileID, err := sess.InsertFile(f)
	if err != nil {
		return err
	}
	if len(meta.Attrs) > 0 {
		if err := sess.SetFileAttrs(fileID, meta.Attrs); err != nil {
			return err
		}
	}
	for _, vm := range meta.Vars {
		varID, err := sess.UniqueVariable(vm.Name, vm.LongName, vm.StandardName, vm.Units)
		if err != nil {
			return err
		}
		nvID, err := sess.InsertVarInstance(fileID, varID, vm.Dimensions, vm.Chunking)
		if err != nil {
			return err
		}
		if len(vm.Attrs) > 0 {
			if err := sess.SetVarAttrs(nvID, vm.Attrs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Prune reconciles a single known experiment without indexing new files:
// rows whose backing file is gone are deleted or flagged per policy.
func Prune(ctx context.Context, db *catalog.DB, experiment string, policy Policy) error {
	log := logging.L(logging.CategoryIndex)

	exp, err := db.ExperimentByName(experiment)
	if err != nil {
		return err
	}
	known, err := db.FilesForExperiment(exp.ID)
	if err != nil {
		return err
	}

	sess, err := db.Begin()
	if err != nil {
		return err
	}
	defer sess.Rollback()

	pruned := 0
	for path, row := range known {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fileExists(filepath.Join(exp.RootDir, path)) {
			continue
		}
		switch {
		case policy == PolicyDelete:
			err = sess.DeleteFile(row.ID)
		case row.Present:
			err = sess.FlagFileMissing(row.ID)
		default:
			// already flagged; nothing to do
			continue
		}
		if err != nil {
			return err
		}
		pruned++
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	log.Info("pruned experiment",
		zap.String("experiment", experiment), zap.Int("files", pruned))
	return nil
}
