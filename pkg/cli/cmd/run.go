package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/di"
	"github.com/cheap-k8s/stageflow/pkg/io/configmanager"
	"github.com/cheap-k8s/stageflow/pkg/svc/catalog"
	"github.com/cheap-k8s/stageflow/pkg/svc/credential"
	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/metrics"
	"github.com/cheap-k8s/stageflow/pkg/svc/namespace"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	"github.com/cheap-k8s/stageflow/pkg/svc/source"
	"github.com/cheap-k8s/stageflow/pkg/svc/watcher"
	"github.com/cheap-k8s/stageflow/pkg/utils/notify"
	"github.com/cheap-k8s/stageflow/pkg/utils/parallel"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
)

const runCmdLong = `Reconcile the cluster with every stage of the catalog until interrupted.

Before any stage runs, the credential of each repository is written to the
git-secret-{repository} secret of the system namespace. Stages then run as
soon as every stage they depend on is Ready. Branches are polled for new
commits and copied secrets for rotation. Edits of the catalog file are
picked up without a restart, and the records of all stages are served on the
metrics address.

Examples:
  # Reconcile using ./stageflow.yaml
  stageflow run

  # Serve records and metrics on another port
  stageflow run --metrics-address :8080`

type runOptions struct {
	metricsAddress string
	watch          bool
	pollInterval   time.Duration
}

// NewRunCmd creates the run command.
func NewRunCmd(runtime *di.Runtime) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Continuously reconcile the cluster with the catalog",
		Long:         runCmdLong,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opts.metricsAddress, "metrics-address", metrics.DefaultAddress,
		"Address serving /records and /metrics; empty disables the server")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "Replan when the catalog file changes")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0,
		"Branch polling interval (default: spec.defaults.sourceInterval)")

	cmd.RunE = runWithModel(runtime, func(cmd *cobra.Command, injector di.Injector, model *di.Model) error {
		return handleRun(cmd, injector, model, opts)
	})

	return cmd
}

func handleRun(cmd *cobra.Command, injector di.Injector, model *di.Model, opts runOptions) error {
	logger := di.ResolveLogger(injector)
	ctrllog.SetLogger(logr.FromSlogHandler(logger.Handler()))

	graph, err := planner.PlanCatalog(model.Catalog)
	if err != nil {
		return err
	}

	k8sClient, err := di.ResolveClient(injector)
	if err != nil {
		return err
	}

	cluster, err := di.ResolveCluster(injector)
	if err != nil {
		return err
	}

	collector, err := di.ResolveCollector(injector)
	if err != nil {
		return err
	}

	manager, err := di.ResolveConfigManager(injector)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	systemNamespace := model.Config.Spec.SystemNamespace
	provisioner := namespace.NewProvisioner(k8sClient, logger)
	binder := credential.NewBinder(k8sClient, systemNamespace, logger)

	notify.Titlef(cmd.OutOrStdout(), "🚀", "Reconciling %d stages", graph.Len())

	err = provisioner.EnsureNamespace(ctx, systemNamespace)
	if err != nil {
		return err
	}

	bindCredentials(ctx, binder, model.Registry, logger)

	src := source.NewGitSource(model.Registry, boundCredential(binder, logger), logger)
	drv := driver.New(cluster,
		driver.WithNamespaces(provisioner),
		driver.WithManifests(src),
		driver.WithCopies(credential.NewCopyRenderer(k8sClient)),
		driver.WithObserver(collector),
		driver.WithLogger(logger),
	)
	drv.Apply(graph)

	pollInterval := opts.pollInterval
	if pollInterval <= 0 {
		pollInterval = model.Config.Spec.Defaults.SourceInterval.Duration
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return drv.Run(groupCtx) })
	group.Go(func() error {
		src.Poll(groupCtx, pollInterval, func(repository, _ string) {
			drv.TriggerRepository(repository)
		})

		return nil
	})
	group.Go(func() error {
		drv.PollCopies(groupCtx, pollInterval)

		return nil
	})

	if opts.metricsAddress != "" {
		server := metrics.NewServer(opts.metricsAddress, collector, drv, logger)
		group.Go(func() error { return server.Run(groupCtx) })
	}

	if opts.watch {
		group.Go(func() error {
			return watchCatalog(groupCtx, manager, reloader{
				driver: drv,
				source: src,
				binder: binder,
				logger: logger,
			})
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}

	notify.Successf(cmd.OutOrStdout(), "stopped")

	return nil
}

func bindCredentials(ctx context.Context, binder *credential.Binder, reg *registry.Registry, logger *slog.Logger) {
	repos := reg.List()
	tasks := make([]parallel.Task, 0, len(repos))

	for _, repo := range repos {
		tasks = append(tasks, func(ctx context.Context) error {
			return binder.BindCredential(ctx, repo)
		})
	}

	// Stages of a repository whose credential is missing fail on fetch and are retried.
	err := parallel.NewExecutor(0).ExecuteAll(ctx, tasks...)
	if err != nil {
		logger.Error("binding credentials failed", "error", err)
	}
}

// boundCredential reads the credential from its secret, falling back to the
// catalog value when the secret cannot be read.
func boundCredential(binder *credential.Binder, logger *slog.Logger) source.CredentialFunc {
	return func(ctx context.Context, repo registry.Repository) (registry.Credential, error) {
		if repo.Credential.IsZero() {
			return repo.Credential, nil
		}

		bound, err := binder.ReadCredential(ctx, repo)
		if err != nil {
			logger.Debug("using catalog credential", "repository", repo.Name, "error", err)

			return repo.Credential, nil
		}

		return bound, nil
	}
}

type reloader struct {
	driver *driver.Driver
	source *source.GitSource
	binder *credential.Binder
	logger *slog.Logger
}

func (r reloader) reload(ctx context.Context, manager *configmanager.ConfigManager) {
	cfg, err := manager.Reload()
	if err != nil {
		r.logger.Error("catalog reload rejected, keeping current graph", "error", err)

		return
	}

	reg, cat, err := catalog.FromConfig(cfg)
	if err != nil {
		r.logger.Error("catalog reload rejected, keeping current graph", "error", err)

		return
	}

	diff, err := r.driver.Replan(func() (*planner.Graph, error) {
		graph, planErr := planner.PlanCatalog(cat)
		if planErr != nil {
			return nil, planErr
		}

		bindCredentials(ctx, r.binder, reg, r.logger)
		r.source.SetRegistry(reg)

		return graph, nil
	})
	if err != nil {
		return
	}

	r.logger.Info("catalog reloaded",
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"changed", len(diff.Changed),
	)

	for _, repo := range reg.List() {
		r.driver.TriggerRepository(repo.Name)
	}
}

func watchCatalog(ctx context.Context, manager *configmanager.ConfigManager, r reloader) error {
	path := manager.ConfigFileUsed()
	if path == "" {
		r.logger.Warn("catalog file unknown, not watching for changes")

		return nil
	}

	catalogWatcher, err := watcher.New(path, watcher.DefaultDebounce, r.logger)
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}

	err = catalogWatcher.Run(ctx, func() { r.reload(ctx, manager) })
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}

	return nil
}
