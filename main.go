package main

// cvsgittransfer program
// This connects to a CVS server, reads the rlog of a module, reconstructs a
// coherent commit graph from the per-file histories and writes a git
// fast-import stream to stdout:
//   * per-file revisions are clustered into changesets
//   * the branch/tag tree is rebuilt from the revision numbers
//   * changesets are emitted in topological order, with fix-up commits
//     wherever a tag doesn't correspond to any tree state that ever existed
//
// Design:
// main parses the rlog into the database (file/version/tag model), then
// the pipeline in transfer.go:
//     Clusters revisions into changesets and grafts vendor-branch merges
//     Analyses the branch graph, breaking any cycles
//     Runs an ordering pass to place tags, then emits for real, fetching
//     blob contents from the server as each commit needs them.

import (
	"bufio"
	"os"
	"time"

	"github.com/rcowham/cvsgittransfer/config"
	"github.com/rcowham/cvsgittransfer/cvs"
	libfastimport "github.com/rcowham/go-libgitfastimport"

	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

const defaultConfigFile = "cvsgittransfer.yaml"

type MyWriterCloser struct {
	f *os.File
	*bufio.Writer
}

func (mwc *MyWriterCloser) Close() error {
	if err := mwc.Flush(); err != nil {
		return err
	}
	if mwc.f != nil {
		return mwc.f.Close()
	}
	return nil
}

func loadConfig(logger *logrus.Logger, configFile string) *config.Config {
	if _, err := os.Stat(configFile); err != nil && configFile == defaultConfigFile {
		// No config file is fine; run with the defaults.
		cfg, _ := config.Unmarshal(nil)
		return cfg
	}
	cfg, err := config.LoadConfigFile(configFile)
	if err != nil {
		logger.Errorf("error loading config file: %v", err)
		os.Exit(-1)
	}
	return cfg
}

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for cvsgittransfer.",
		).Default(defaultConfigFile).Short('c').String()
		cvsRoot = kingpin.Arg(
			"root",
			"CVS root to read from, e.g. :pserver:user@host/repo or a local path.",
		).Required().String()
		cvsModule = kingpin.Arg(
			"module",
			"Module within the repository to convert.",
		).Required().String()
		masterBranch = kingpin.Flag(
			"master.branch",
			"Branch name used for the trunk (overrides config).",
		).Default(config.DefaultMasterBranch).Short('b').String()
		fuzzWindow = kingpin.Flag(
			"fuzz",
			"Changeset clustering window in seconds (overrides config).",
		).Int()
		archiveRoot = kingpin.Flag(
			"archive.root",
			"Root dir under which to also store fetched file contents.",
		).String()
		dummyFiles = kingpin.Flag(
			"dummy",
			"Store dummy (small) archive files - for quick analysis of large repos.",
		).Bool()
		dryrun = kingpin.Flag(
			"dryrun",
			"Analyse only; report branch/tag statistics without emitting a stream.",
		).Bool()
		filterCmd = kingpin.Flag(
			"filter",
			"Command run over the ordered changesets; may delete tags and graft merges.",
		).String()
		outputGraph = kingpin.Flag(
			"graphfile",
			"Graphviz dot file to output the analysed branch/tag graph to.",
		).String()
		memProfile = kingpin.Flag(
			"memprofile",
			"Write a memory profile on exit.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("cvsgittransfer")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Converts a CVS repository module to a git fast-import stream\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *memProfile {
		defer profile.Start(profile.MemProfile).Stop()
	}

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}

	cfg := loadConfig(logger, *configFile)
	if *masterBranch != config.DefaultMasterBranch {
		cfg.MasterBranch = *masterBranch
	}
	if *fuzzWindow > 0 {
		cfg.FuzzWindow = *fuzzWindow
	}

	startTime := time.Now()
	logger.Infof("%v", version.Print("cvsgittransfer"))
	logger.Infof("Starting %s, root: %v module: %v", startTime, *cvsRoot, *cvsModule)

	conn := cvs.Connect(logger, *cvsRoot)
	defer conn.Close()
	conn.Module = *cvsModule
	conn.Prefix = conn.RemoteRoot + "/" + *cvsModule + "/"

	conn.Printf("Global_option -q\n"+
		"Argument --\n"+
		"Argument %s\n"+
		"rlog\n", *cvsModule)

	db := NewDatabase(logger)
	db.ParseRLog(conn, conn.RemoteRoot+"/"+*cvsModule)
	logger.Infof("Parsed %d files, %d tags", len(db.Files), len(db.Tags))

	mwc := &MyWriterCloser{nil, bufio.NewWriter(os.Stdout)}
	defer mwc.Close()
	backend := libfastimport.NewBackend(mwc, nil, nil)

	var archiver *Archiver
	if *archiveRoot != "" {
		archiver = NewArchiver(logger, *archiveRoot, *dummyFiles)
		defer archiver.Finish()
	}

	fetcher := &CvsFetcher{logger: logger, db: db, conn: conn, backend: backend, archiver: archiver}

	opts := &TransferOptions{
		config:      cfg,
		root:        *cvsRoot,
		module:      *cvsModule,
		graphFile:   *outputGraph,
		archiveRoot: *archiveRoot,
		filterCmd:   *filterCmd,
		dryRun:      *dryrun,
		dummyFiles:  *dummyFiles,
	}
	t := NewCvsGitTransfer(logger, opts, db, backend, fetcher)
	t.Run()

	logger.Infof("Fetched %d versions in %d transactions", conn.CountVersions, conn.CountTransactions)
	logger.Infof("Finished in %v", time.Since(startTime))
}
