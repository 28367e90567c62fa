package main

import (
	"strings"
	"sync"

	"log/slog"

	"github.com/spf13/cobra"

	"taskmill/internal/bundle"
	"taskmill/internal/config"
	"taskmill/internal/events"
	"taskmill/internal/lifecycle"
	"taskmill/internal/locks"
	"taskmill/internal/logging"
	"taskmill/internal/notifications"
	"taskmill/internal/review"
	"taskmill/internal/selection"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

type commandContext struct {
	configFlag   *string
	jsonFlag     *bool
	userFlag     *int64
	elevatedFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool, userFlag *int64, elevatedFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		jsonFlag:     jsonFlag,
		userFlag:     userFlag,
		elevatedFlag: elevatedFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// actingUser builds the user identity from the global flags. User id zero
// is a guest and will be rejected by mutating operations.
func (c *commandContext) actingUser() task.User {
	user := task.User{}
	if c.userFlag != nil {
		user.ID = *c.userFlag
	}
	if c.elevatedFlag != nil {
		user.Elevated = *c.elevatedFlag
	}
	user.Guest = user.ID == 0
	return user
}

// services bundles everything a command needs against one open store.
type services struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	locks      *locks.Manager
	bundles    *bundle.Coordinator
	reviews    *review.Service
	selector   *selection.Engine
	orch       *lifecycle.Orchestrator
	dispatcher *events.Dispatcher
	notifier   notifications.Service
}

// withServices opens the store, wires the component services, runs fn, and
// waits for post-commit events to drain before closing.
func (c *commandContext) withServices(fn func(*services) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier := notifications.NewService(cfg)
	dispatcher := events.NewDispatcher(logger, events.WithNotifier(notifier))
	defer dispatcher.Wait()

	lockMgr := locks.NewManager(st, logger)
	svcs := &services{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		locks:      lockMgr,
		bundles:    bundle.NewCoordinator(st, logger),
		reviews:    review.NewService(st, logger, dispatcher),
		selector:   selection.NewEngine(st, cfg, logger),
		orch:       lifecycle.NewOrchestrator(st, cfg, lockMgr, nil, dispatcher, logger),
		dispatcher: dispatcher,
		notifier:   notifier,
	}
	return fn(svcs)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
