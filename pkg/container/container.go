package container

import (
	"github.com/boxpress/boxpress/config"
	"github.com/boxpress/boxpress/pkg/api/handlers"
	"github.com/boxpress/boxpress/pkg/cache"
	"github.com/boxpress/boxpress/pkg/campaign"
	"github.com/boxpress/boxpress/pkg/database"
	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/jobs"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/mailer"
	"github.com/boxpress/boxpress/pkg/metrics"
	"github.com/boxpress/boxpress/pkg/store"
	"github.com/boxpress/boxpress/pkg/template"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger logger.Logger

	// Infrastructure
	DB      *database.Client
	Cache   domain.CacheRepository
	Store   domain.Store
	Mailer  domain.Mailer
	Metrics *metrics.Metrics

	// Templates
	Templates *template.Registry

	// Campaign engine
	Runner          *campaign.Runner
	CampaignService *campaign.Service

	// Scheduler
	Cron *jobs.CronManager

	// Handlers
	CampaignHandler *handlers.CampaignHandler
	RunnerHandler   *handlers.RunnerHandler
}

// New creates and initializes all application dependencies
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger.New(cfg.LogLevel, cfg.LogFormat),
	}

	if err := c.initInfrastructure(); err != nil {
		return nil, err
	}

	c.initServices()
	c.initHandlers()

	c.Logger.Info("container initialized",
		"environment", cfg.APIEnvironment,
		"database", "connected",
		"cache", "connected")

	return c, nil
}

// initInfrastructure initializes database and cache connections
func (c *Container) initInfrastructure() error {
	var err error

	c.DB, err = database.NewClient(c.Config.DatabaseURL)
	if err != nil {
		c.Logger.Error("failed to connect to database", "error", err)
		return err
	}
	c.Store = store.NewPostgres(c.DB.DB)

	cacheClient, err := cache.NewClient(c.Config.RedisURL)
	if err != nil {
		c.Logger.Error("failed to connect to cache", "error", err)
		return err
	}
	c.Cache = cacheClient

	c.Metrics = metrics.New()
	c.Mailer = mailer.NewSendGrid(
		c.Config.EmailFrom,
		c.Config.EmailFromName,
		c.Config.SendGridAPIKey,
		c.Logger,
	)

	return nil
}

// initServices initializes the template registry and the campaign engine
func (c *Container) initServices() {
	c.Templates = template.NewRegistry()
	registerBuiltinTemplates(c.Templates)

	runnerCfg := c.Config.RunnerConfig()

	lock := campaign.NewLock(c.Store, runnerCfg.LockTTL, c.Logger)
	processor := campaign.NewProcessor(c.Store, c.Mailer, c.Templates, c.Metrics, c.Logger)
	c.Runner = campaign.NewRunner(c.Store, processor, lock, c.Metrics, c.Logger)

	planner := campaign.NewFollowUpPlanner(c.Store, c.Logger)
	c.CampaignService = campaign.NewService(c.Store, c.Runner, planner, c.Cache, runnerCfg, c.Logger)

	c.Cron = jobs.NewCronManager(c.CampaignService, c.Config.RunnerTickInterval, c.Logger)
}

// initHandlers initializes all HTTP handlers
func (c *Container) initHandlers() {
	c.CampaignHandler = handlers.NewCampaignHandler(c.CampaignService)
	c.RunnerHandler = handlers.NewRunnerHandler(c.CampaignService)
}

// Close closes all resources (database, cache connections)
func (c *Container) Close() error {
	c.Logger.Info("shutting down container")

	if err := c.DB.Close(); err != nil {
		c.Logger.Error("failed to close database", "error", err)
		return err
	}

	if err := c.Cache.Close(); err != nil {
		c.Logger.Error("failed to close cache", "error", err)
		return err
	}

	return nil
}

// registerBuiltinTemplates installs the stock campaign templates. Register
// errors are impossible here, the set is static and well formed.
func registerBuiltinTemplates(r *template.Registry) {
	_ = r.Register(template.Template{
		ID: "welcome",
		HTML: `<html><body><h1>Welcome to BoxPress, {name}!</h1>` +
			`<p>Your first box ships soon. Questions? Just reply to this email.</p></body></html>`,
		Required: []string{"name"},
	})
	_ = r.Register(template.Template{
		ID: "monthly-promo",
		HTML: `<html><body><h1>{headline}</h1>` +
			`<p>Hi {name}, this month's box features {theme}. ` +
			`Use code <strong>{promo_code}</strong> for {discount} off your next renewal.</p></body></html>`,
		Required: []string{"name", "headline", "theme", "promo_code", "discount"},
	})
	_ = r.Register(template.Template{
		ID: "winback",
		HTML: `<html><body><h1>We miss you, {name}</h1>` +
			`<p>Come back and get {discount} off your first box back. No commitment.</p></body></html>`,
		Required: []string{"name", "discount"},
	})
	_ = r.Register(template.Template{
		ID: "followup-nudge",
		HTML: `<html><body><p>Hi {name}, in case you missed it: {headline}. ` +
			`The offer is still live for a few more days.</p></body></html>`,
		Required: []string{"name", "headline"},
	})
}
