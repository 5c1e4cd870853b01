// Package mods initializes host extensions listed in the mods file and
// performs the host's boot-time machine launch.
package mods

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/movasm/config"
	"github.com/chazu/movasm/journal"
	"github.com/chazu/movasm/vm"
)

// ErrModNotFound is returned by a Loader that has nothing for a name.
var ErrModNotFound = errors.New("mod not found")

// Loader resolves a mod name to its program image.
type Loader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// NotFoundLoader reports every mod as missing.
type NotFoundLoader struct{}

// Load always fails with ErrModNotFound.
func (NotFoundLoader) Load(_ context.Context, name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrModNotFound, name)
}

// Report summarizes one Initialize call.
type Report struct {
	Listed  []string
	Failed  int
	Started int

	// Boot is the output of the boot machine; BootRunID is its journal
	// entry, empty when no journal is configured.
	Boot      string
	BootRunID string
}

// Manager reads the mods list and launches machines.
type Manager struct {
	cfg     config.Mods
	path    string
	loader  Loader
	journal *journal.Journal
	log     commonlog.Logger
	runOpts []vm.RunOption
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoader replaces the default NotFoundLoader.
func WithLoader(l Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithJournal records each launched machine in j.
func WithJournal(j *journal.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLogger overrides the "movasm.mods" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithRunOptions applies opts to every machine the manager runs.
func WithRunOptions(opts ...vm.RunOption) Option {
	return func(m *Manager) { m.runOpts = opts }
}

// NewManager creates a manager for the mods section of cfg.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.Mods,
		path:   cfg.ModsPath(),
		loader: NotFoundLoader{},
		log:    commonlog.GetLogger("movasm.mods"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize walks the mods list, then launches the boot machine from an
// empty image on its own goroutine and logs its output. It fails only when
// the list cannot be read; per-mod failures are logged and counted.
func (m *Manager) Initialize(ctx context.Context) (*Report, error) {
	report := &Report{}
	if !m.cfg.Enabled {
		m.log.Info("mods are disabled, skipping initialization")
		return report, nil
	}

	names, err := readList(m.path)
	if err != nil {
		return nil, err
	}
	report.Listed = names

	m.log.Info("initializing mods", "count", len(names))
	for _, name := range names {
		m.log.Infof("initializing mod %s", name)
		image, err := m.loader.Load(ctx, name)
		if err != nil {
			m.log.Errorf("mod %s: %s, skipping", name, err.Error())
			report.Failed++
			continue
		}
		machine, err := vm.New(image)
		if err != nil {
			m.log.Errorf("mod %s: %s, skipping", name, err.Error())
			report.Failed++
			continue
		}
		if _, _, err := m.launch(ctx, journal.OriginMods, image, machine); err != nil {
			m.log.Errorf("mod %s: %s", name, err.Error())
			report.Failed++
			continue
		}
		report.Started++
	}
	if report.Failed > 0 {
		m.log.Warningf("%d mods failed, %d mods started", report.Failed, report.Started)
	}

	boot, err := vm.New(nil)
	if err != nil {
		return nil, err
	}
	report.Boot, report.BootRunID, err = m.launch(ctx, journal.OriginMods, nil, boot)
	if err != nil {
		return report, fmt.Errorf("boot machine: %w", err)
	}
	return report, nil
}

// launch runs machine in isolation, joins it and logs its drained output.
func (m *Manager) launch(ctx context.Context, origin string, image []byte, machine *vm.Machine) (string, string, error) {
	machine, runErr := vm.Start(ctx, machine, m.runOpts...).Join()

	var runID string
	if m.journal != nil {
		entry, err := journal.NewEntry(origin, image, machine, runErr)
		if err == nil {
			runID, err = m.journal.Record(ctx, entry)
		}
		if err != nil {
			m.log.Warningf("journal: %s", err.Error())
		}
	}

	out := machine.ReadOutputString()
	m.log.Infof("machine output: %q", out)
	return out, runID, runErr
}

// readList returns the non-blank lines of the mods file.
func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read mods list: %w", err)
	}
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names, sc.Err()
}
