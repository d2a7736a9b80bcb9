package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/darkroom/cli/config"
	"github.com/justapithecus/darkroom/cli/render"
	"github.com/justapithecus/darkroom/cli/tui"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/storage"
)

// StorageCommand returns the storage command with subcommands.
func StorageCommand() *cli.Command {
	return &cli.Command{
		Name:  "storage",
		Usage: "Inspect and maintain the artifact store",
		Subcommands: []*cli.Command{
			storageUsageCommand(),
			storageListCommand(),
			storageCleanupCommand(),
		},
	}
}

func storageUsageCommand() *cli.Command {
	return &cli.Command{
		Name:   "usage",
		Usage:  "Show bytes used against the quota",
		Flags:  ReadOnlyFlags(),
		Action: storageUsageAction,
	}
}

func storageListCommand() *cli.Command {
	return &cli.Command{
		Name:   "ls",
		Usage:  "List stored objects in eviction order",
		Flags:  ReadOnlyFlags(),
		Action: storageListAction,
	}
}

func storageCleanupCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), &cli.BoolFlag{
		Name:  "force",
		Usage: "Evict down to the target even when below the hard limit",
	})
	return &cli.Command{
		Name:   "cleanup",
		Usage:  "Evict the oldest objects until usage is within the target",
		Flags:  flags,
		Action: storageCleanupAction,
	}
}

// openQuota builds the configured store and its quota manager.
func openQuota(c *cli.Context) (*config.Config, *storage.QuotaManager, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Storage.Backend == "" {
		return nil, nil, fmt.Errorf("storage is not configured (set storage.backend)")
	}
	logger := log.NewLogger("")
	collector := metrics.NewCollector("", "", cfg.Storage.Backend)
	store, err := newStore(c.Context, cfg.Storage, newTransport(cfg, logger, collector))
	if err != nil {
		return nil, nil, err
	}
	return cfg, newQuota(store, cfg.Storage, logger, collector), nil
}

func storageUsageAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, quota, err := openQuota(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	usage, err := quota.Usage(c.Context)
	if err != nil {
		return fmt.Errorf("storage usage: %w", err)
	}
	view := usageView(cfg.Storage.Backend, usage, quota.TargetBytes())

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStorageUsage, view)
	}
	return r.Render(view)
}

func usageView(backend string, u storage.Usage, target int64) *tui.UsageView {
	view := &tui.UsageView{
		Backend:        backend,
		TotalBytes:     u.TotalBytes,
		ObjectCount:    u.ObjectCount,
		ProtectedBytes: u.ProtectedBytes,
		HardLimitBytes: u.HardLimitBytes,
		TargetBytes:    target,
	}
	if u.HardLimitBytes > 0 {
		view.UsedPercent = float64(u.TotalBytes) / float64(u.HardLimitBytes) * 100
	}
	return view
}

func storageListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for storage ls", 1)
	}
	_, quota, err := openQuota(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	objects, err := quota.Objects(c.Context)
	if err != nil {
		return fmt.Errorf("storage list: %w", err)
	}
	return r.Render(objects)
}

func storageCleanupAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for storage cleanup", 1)
	}
	_, quota, err := openQuota(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	report, err := quota.Cleanup(c.Context, c.Bool("force"))
	if err != nil {
		return fmt.Errorf("storage cleanup: %w", err)
	}
	return r.Render(report)
}
