package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"nccatalog/internal/catalog"
	"nccatalog/internal/config"
	"nccatalog/internal/indexer"
	"nccatalog/internal/logging"
	"nccatalog/internal/query"
)

var (
	// Global flags
	verbose    bool
	dbPath     string
	configPath string

	// Index flags
	flagUpdate         bool
	flagForce          bool
	flagPolicy         string
	flagGlob           string
	flagWorkers        int
	flagFollowSymlinks bool
	flagDebounce       time.Duration

	// Listing and query flags
	flagFrequency string
	flagStart     string
	flagEnd       string
	flagN         int
	flagStrict    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nccatalog",
	Short: "nccatalog - metadata catalog and query engine for model output",
	Long: `nccatalog maintains a queryable catalog of the NetCDF output of
simulation experiments. It indexes experiment directories incrementally
into a SQLite database and resolves a variable name to the ordered set
of files holding it, across output chunks and frequencies.

An experiment is one output directory tree; its catalog entry carries
per-file time ranges, sampling frequencies and per-variable attributes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		// Flags given on the command line win over config and environment.
		if cmd.Root().PersistentFlags().Changed("db") || cfg.Database == "" {
			cfg.Database = dbPath
		}
		if verbose {
			cfg.Logging.Verbose = true
		}
		return logging.Init(cfg.Logging.Verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [directory]...",
	Short: "Index experiment directories into the catalog",
	Long: `Scans each directory as one experiment (named after the directory)
and records every matching file's variables, time range and frequency.
A known experiment is skipped unless --update or --force is given.

Broken files are recorded as not present so later passes do not
re-attempt them; --force clears the experiment and starts over.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var pruneCmd = &cobra.Command{
	Use:   "prune [experiment]",
	Short: "Reconcile an experiment against its files on disk",
	Long: `Checks every catalog entry of the experiment against the filesystem.
Entries whose file is gone are flagged as not present, or deleted
outright under --policy delete.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrune,
}

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "List the experiments in the catalog",
	RunE:  runExperiments,
}

var variablesCmd = &cobra.Command{
	Use:   "variables [experiment]",
	Short: "List an experiment's variables by sampling frequency",
	Args:  cobra.ExactArgs(1),
	RunE:  runVariables,
}

var filesCmd = &cobra.Command{
	Use:   "files [experiment]",
	Short: "List an experiment's indexed files",
	Args:  cobra.ExactArgs(1),
	RunE:  runFiles,
}

var removeCmd = &cobra.Command{
	Use:   "remove [experiment]",
	Short: "Remove an experiment and all its catalog entries",
	Long: `Deletes the experiment row and cascades to its files, variable
instances and attributes. The files on disk are not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [experiment] [variable]",
	Short: "Resolve a variable to its ordered file set",
	Long: `Runs the query engine against the catalog and prints the files that
would back the variable, in time order, after disambiguation. Useful
for checking what a retrieval would read without opening any file.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

var watchCmd = &cobra.Command{
	Use:   "watch [directory]...",
	Short: "Watch experiment directories and re-index on change",
	Long: `Holds the experiment directories under a filesystem watch and runs an
update pass whenever matching files appear or change, debounced so a
burst of writes triggers one pass.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "catalog.db", "Catalog database path (or set NCCATALOG_DB)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	for _, cmd := range []*cobra.Command{indexCmd, watchCmd} {
		cmd.Flags().BoolVar(&flagUpdate, "update", false, "Re-scan experiments already in the catalog")
		cmd.Flags().StringVar(&flagPolicy, "policy", "", "Prune policy: flag or delete")
		cmd.Flags().StringVar(&flagGlob, "glob", "", "Filename pattern to index (default *.nc)")
		cmd.Flags().IntVar(&flagWorkers, "workers", 0, "Concurrent extraction workers (default all CPUs)")
		cmd.Flags().BoolVar(&flagFollowSymlinks, "follow-symlinks", false, "Follow symlinked directories while scanning")
	}
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "Drop and fully re-index each experiment")
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", 5*time.Second, "Quiet period before a change triggers a pass")

	pruneCmd.Flags().StringVar(&flagPolicy, "policy", "", "Prune policy: flag or delete")
	variablesCmd.Flags().StringVar(&flagFrequency, "frequency", "", "Restrict to one sampling frequency")

	resolveCmd.Flags().StringVar(&flagFrequency, "frequency", "", "Restrict to one sampling frequency")
	resolveCmd.Flags().StringVar(&flagStart, "start", "", "Window start, \"YYYY-MM-DD[ hh:mm:ss]\"")
	resolveCmd.Flags().StringVar(&flagEnd, "end", "", "Window end, \"YYYY-MM-DD[ hh:mm:ss]\"")
	resolveCmd.Flags().IntVar(&flagN, "n", 0, "Keep only the first n files (negative: last n)")
	resolveCmd.Flags().BoolVar(&flagStrict, "strict", false, "Treat ambiguity warnings as errors")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(experimentsCmd)
	rootCmd.AddCommand(variablesCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// indexOptions merges config with the index/watch command line flags.
func indexOptions(cmd *cobra.Command) (indexer.Options, error) {
	if flagPolicy == "" {
		flagPolicy = cfg.Index.Policy
	}
	policy, err := indexer.ParsePolicy(flagPolicy)
	if err != nil {
		return indexer.Options{}, err
	}
	opts := indexer.Options{
		Update:         flagUpdate,
		Force:          flagForce,
		Policy:         policy,
		Glob:           cfg.Index.Glob,
		FollowSymlinks: cfg.Index.FollowSymlinks,
		Workers:        cfg.Index.Workers,
	}
	if flagGlob != "" {
		opts.Glob = flagGlob
	}
	if flagWorkers > 0 {
		opts.Workers = flagWorkers
	}
	if cmd.Flags().Changed("follow-symlinks") {
		opts.FollowSymlinks = flagFollowSymlinks
	}
	return opts, nil
}

func openCatalog() (*catalog.DB, error) {
	return catalog.Open(cfg.Database)
}

// signalContext cancels on SIGINT/SIGTERM for the long-running commands.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runIndex(cmd *cobra.Command, args []string) error {
	opts, err := indexOptions(cmd)
	if err != nil {
		return err
	}
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	n, err := indexer.Build(ctx, db, args, opts)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d new files across %d directories\n", n, len(args))
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	if flagPolicy == "" {
		flagPolicy = cfg.Index.Policy
	}
	policy, err := indexer.ParsePolicy(flagPolicy)
	if err != nil {
		return err
	}
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return indexer.Prune(ctx, db, args[0], policy)
}

func runExperiments(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	exps, err := db.Experiments()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "EXPERIMENT\tROOT\tFILES")
	for _, e := range exps {
		fmt.Fprintf(w, "%s\t%s\t%d\n", e.Name, e.RootDir, e.NFiles)
	}
	return w.Flush()
}

func runVariables(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	exp, err := db.ExperimentByName(args[0])
	if err != nil {
		return err
	}
	vars, err := db.Variables(exp.ID, flagFrequency)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tFREQUENCY\tFILES\tFROM\tTO\tLONG NAME")
	for _, v := range vars {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			v.Name, v.Frequency, v.NFiles, v.TimeStart, v.TimeEnd, v.LongName)
	}
	return w.Flush()
}

func runFiles(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	exp, err := db.ExperimentByName(args[0])
	if err != nil {
		return err
	}
	files, err := db.FileList(exp.ID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tPRESENT\tFREQUENCY\tFROM\tTO")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n",
			f.Path, f.Present, f.Frequency, f.TimeStart, f.TimeEnd)
	}
	return w.Flush()
}

func runRemove(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	exp, err := db.ExperimentByName(args[0])
	if err != nil {
		return err
	}
	sess, err := db.Begin()
	if err != nil {
		return err
	}
	defer sess.Rollback()
	if err := sess.DeleteExperiment(exp.ID); err != nil {
		return err
	}
	return sess.Commit()
}

func runResolve(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := query.Resolve(db, query.Options{
		Experiment: args[0],
		Variable:   args[1],
		StartTime:  flagStart,
		EndTime:    flagEnd,
		Frequency:  flagFrequency,
		N:          flagN,
		Strict:     flagStrict || cfg.Query.Strict,
	})
	if err != nil {
		return err
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tFREQUENCY\tFROM\tTO")
	for _, m := range res.Matches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.File.Path, m.File.Frequency, m.File.TimeStart, m.File.TimeEnd)
	}
	return w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	opts, err := indexOptions(cmd)
	if err != nil {
		return err
	}
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return indexer.Watch(ctx, db, args, opts, flagDebounce)
}
