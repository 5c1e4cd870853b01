// movasm CLI - runs program images and hosts the movasm server
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/chazu/movasm/config"
	"github.com/chazu/movasm/journal"
	"github.com/chazu/movasm/mods"
	"github.com/chazu/movasm/server"
	"github.com/chazu/movasm/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configDir := flag.String("c", ".", "Directory to search (upwards) for movasm.toml")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides the config file)")
	execPath := flag.String("exec", "", "Run a program image and print its output")
	input := flag.String("input", "", "Input text for -exec")
	stepLimit := flag.Uint64("step-limit", 0, "Halt -exec after this many steps (0 = config value)")
	snapshotPath := flag.String("snapshot", "", "Write the CBOR snapshot of the -exec machine to this file")
	recent := flag.Int("runs", 0, "List the most recent journal entries")
	serveMode := flag.Bool("serve", false, "Initialize mods and start the status listener and exec service")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: movasm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs transport-triggered program images.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  movasm -exec hello.bin               # Run an image, print its output\n")
		fmt.Fprintf(os.Stderr, "  movasm -exec echo.bin -input hi      # Feed input to the program\n")
		fmt.Fprintf(os.Stderr, "  movasm -exec a.bin -snapshot a.cbor  # Save final machine state\n")
		fmt.Fprintf(os.Stderr, "  movasm -serve                        # Run mods, status listener and exec service\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	configureLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var j *journal.Journal
	if path := cfg.JournalPath(); path != "" {
		j, err = journal.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
			os.Exit(1)
		}
		defer j.Close()
	}

	switch {
	case *execPath != "":
		limit := *stepLimit
		if limit == 0 {
			limit = uint64(cfg.Exec.StepLimit)
		}
		err = execImage(ctx, os.Stdout, execOptions{
			path:      *execPath,
			input:     *input,
			stepLimit: limit,
			snapshot:  *snapshotPath,
			journal:   j,
		})
	case *recent > 0:
		err = listRuns(ctx, os.Stdout, j, *recent)
	case *serveMode:
		err = serve(ctx, cfg, j)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configureLogging(c config.Log) {
	var path *string
	if c.Path != "" {
		path = &c.Path
	}
	commonlog.Configure(c.Verbosity, path)
}

type execOptions struct {
	path      string
	input     string
	stepLimit uint64
	snapshot  string
	journal   *journal.Journal
}

// execImage runs one image synchronously and writes its output to w.
func execImage(ctx context.Context, w io.Writer, opts execOptions) error {
	image, err := os.ReadFile(opts.path)
	if err != nil {
		return err
	}
	m, err := vm.New(image)
	if err != nil {
		return err
	}
	m.WriteInputString(opts.input)

	runErr := m.Run(ctx, vm.WithStepLimit(opts.stepLimit))

	if opts.journal != nil {
		entry, err := journal.NewEntry(journal.OriginCLI, image, m, runErr)
		if err != nil {
			return err
		}
		if _, err := opts.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
			return err
		}
	}
	if opts.snapshot != "" {
		data, err := vm.MarshalSnapshot(m.Snapshot())
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.snapshot, data, 0644); err != nil {
			return err
		}
	}

	if _, err := w.Write(m.ReadOutput()); err != nil {
		return err
	}
	return runErr
}

// listRuns prints the most recent journal entries.
func listRuns(ctx context.Context, w io.Writer, j *journal.Journal, n int) error {
	if j == nil {
		return fmt.Errorf("no journal configured (set [journal] path in %s)", config.FileName)
	}
	entries, err := j.Recent(ctx, n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-4s  %s  steps=%-8d %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Origin, e.ID, e.Steps, e.State)
		if e.Error != "" {
			fmt.Fprintf(w, "  %s", e.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// serve initializes mods and runs the server until ctx is done.
func serve(ctx context.Context, cfg *config.Config, j *journal.Journal) error {
	var modOpts []mods.Option
	var srvOpts []server.ServerOption
	if j != nil {
		modOpts = append(modOpts, mods.WithJournal(j))
		srvOpts = append(srvOpts, server.WithJournal(j))
	}

	if _, err := mods.NewManager(cfg, modOpts...).Initialize(ctx); err != nil {
		return err
	}

	srv := server.New(cfg, srvOpts...)
	defer srv.Stop()
	return srv.ListenAndServe(ctx)
}
