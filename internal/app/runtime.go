package app

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/config"
	"github.com/blackwell-systems/agswitch/internal/exchange"
	"github.com/blackwell-systems/agswitch/internal/guard"
	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/logging"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
	"github.com/blackwell-systems/agswitch/internal/switcher"
)

// runtime holds the configuration and the components built from it for
// one command. The store is opened on first use so commands that only
// talk to the host never create the data directory.
type runtime struct {
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	guard     *guard.Guard

	store *store.Store
	repo  *snapshots.Manager
	ctrl  *host.ProcessController
	mon   *host.Monitor
	live  *host.Live
}

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"data-dir":   "data_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	log, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"command": cmd.CommandPath(),
		"config":  v.ConfigFileUsed(),
	}).Debug("configuration loaded")

	r := &runtime{
		cfg:       cfg,
		log:       log,
		logCloser: closer,
		guard:     guard.NewShared(cfg.LockPath()),
	}
	r.ctrl = host.NewProcessController(cfg.Host.ProcessNames, cfg.Host.Executable, log)
	r.mon = host.NewMonitor(r.ctrl, cfg.Host.PollInterval, log)
	r.live = host.NewLive(cfg.Host.DataDir, cfg.Host.StateFiles, cfg.Host.AuthKey, log)
	return r, nil
}

// repository opens the metadata store and snapshot repository.
func (r *runtime) repository() (*snapshots.Manager, error) {
	if r.repo != nil {
		return r.repo, nil
	}
	if err := os.MkdirAll(r.cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(r.cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.store = st
	r.repo = snapshots.New(st, r.cfg.AccountsDir(), r.log)
	return r.repo, nil
}

func (r *runtime) orchestrator(prompt exchange.PasswordPrompt, dialog exchange.FileDialog) (*exchange.Orchestrator, error) {
	repo, err := r.repository()
	if err != nil {
		return nil, err
	}
	return exchange.NewOrchestrator(repo, exchange.NewCodec(), prompt, dialog, r.guard, r.log,
		exchange.WithExtension(r.cfg.Exchange.Extension),
		exchange.WithRecorder(r.store),
	), nil
}

func (r *runtime) coordinator(obs switcher.Observer) (*switcher.Coordinator, error) {
	repo, err := r.repository()
	if err != nil {
		return nil, err
	}
	opts := []switcher.Option{
		switcher.WithTimeouts(r.cfg.Host.StopTimeout, r.cfg.Host.StartTimeout),
		switcher.WithRecorder(r.store),
	}
	if obs != nil {
		opts = append(opts, switcher.WithObserver(obs))
	}
	return switcher.New(repo, r.live, r.ctrl, r.mon, r.guard, r.log, opts...), nil
}

// Close releases the store and the log file.
func (r *runtime) Close() error {
	var err error
	if r.store != nil {
		err = r.store.Close()
	}
	if r.logCloser != nil {
		if cerr := r.logCloser.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
