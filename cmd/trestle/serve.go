package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	gh "github.com/google/go-github/v68/github"
	"github.com/spf13/cobra"
	"github.com/trestle-dev/trestle/internal/agent"
	"github.com/trestle-dev/trestle/internal/aggregate"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/config"
	"github.com/trestle-dev/trestle/internal/db"
	"github.com/trestle-dev/trestle/internal/dedupe"
	"github.com/trestle-dev/trestle/internal/platform/discord"
	githubadapter "github.com/trestle-dev/trestle/internal/platform/github"
	slackadapter "github.com/trestle-dev/trestle/internal/platform/slack"
	"github.com/trestle-dev/trestle/internal/registry"
	"github.com/trestle-dev/trestle/internal/resolve"
	"github.com/trestle-dev/trestle/internal/server"
	"github.com/trestle-dev/trestle/internal/sweep"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Trestle webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trestle.yaml", "path to Trestle config file")
	return cmd
}

func runServe(cfg *config.Config) error {
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(conn); err != nil {
		return err
	}

	client, err := agent.NewClient(agent.ClientOpts{
		BaseURL:      cfg.Backend.BaseURL,
		SharedSecret: cfg.Backend.SharedSecret,
	})
	if err != nil {
		return err
	}

	reg, err := registry.New(registry.Opts{
		DB:        conn,
		ThreadTTL: time.Duration(cfg.TTL.ThreadHours) * time.Hour,
		IssueTTL:  time.Duration(cfg.TTL.IssueDays) * 24 * time.Hour,
	})
	if err != nil {
		return err
	}
	store, err := dedupe.NewStore(dedupe.StoreOpts{
		DB:  conn,
		TTL: time.Duration(cfg.TTL.DedupeMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	prefs, err := bridge.NewPreferences(conn)
	if err != nil {
		return err
	}

	modelReg, policies, err := buildModelRegistry(cfg)
	if err != nil {
		return err
	}
	cascade, err := buildCascade(cfg)
	if err != nil {
		return err
	}
	adapters, err := buildAdapters(cfg)
	if err != nil {
		return err
	}

	orch, err := bridge.NewOrchestrator(bridge.OrchestratorOpts{
		Registry: reg,
		Prefs:    prefs,
		Cascade:  cascade,
		Models:   modelReg,
		Policies: policies,
		Backend:  client,
	})
	if err != nil {
		return err
	}
	agg, err := aggregate.New(client)
	if err != nil {
		return err
	}
	completer, err := bridge.NewCompleter(bridge.CompleterOpts{
		Registry:   reg,
		Aggregator: agg,
		Adapters:   adapters,
	})
	if err != nil {
		return err
	}

	executor := bridge.NewExecutor(bridge.DefaultTaskTimeout)
	srv, err := server.New(server.Opts{
		Adapters:     adapters,
		Orchestrator: orch,
		Completer:    completer,
		Dedupe:       store,
		Executor:     executor,
		SharedSecret: cfg.Backend.SharedSecret,
		Version:      Version,
	})
	if err != nil {
		return err
	}

	sweeper, err := sweep.New(sweep.DefaultSchedule,
		sweep.Job{Name: "dedupe", Run: store.Sweep},
		sweep.Job{Name: "registry", Run: reg.Sweep},
	)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("trestle: serving on :%d", cfg.Server.Port)
	return srv.Run(ctx, cfg.Server.Port)
}

// buildModelRegistry converts the config model section into the resolver's
// registry and per-repo policies.
func buildModelRegistry(cfg *config.Config) (*resolve.ModelRegistry, map[string]resolve.RepoPolicy, error) {
	specs := make([]resolve.ModelSpec, 0, len(cfg.Models.Registry))
	for _, m := range cfg.Models.Registry {
		specs = append(specs, resolve.ModelSpec{
			Name:          m.Name,
			Efforts:       m.Efforts,
			DefaultEffort: m.DefaultEffort,
		})
	}
	modelReg, err := resolve.NewModelRegistry(specs, cfg.Models.Default, cfg.Models.DefaultEffort)
	if err != nil {
		return nil, nil, err
	}
	policies := make(map[string]resolve.RepoPolicy, len(cfg.Models.RepoDefaults))
	for repo, rm := range cfg.Models.RepoDefaults {
		policies[repo] = resolve.RepoPolicy{
			Model:              rm.Model,
			Effort:             rm.ReasoningEffort,
			AllowUserOverride:  rm.AllowUserOverride,
			AllowLabelOverride: rm.AllowLabelOverride,
		}
	}
	return modelReg, policies, nil
}

// buildCascade assembles the resolution strategies in precedence order.
// The suggestion and classifier strategies need the GitHub repository list
// and are skipped when no organization is configured.
func buildCascade(cfg *config.Config) (*resolve.Cascade, error) {
	rules := make([]resolve.ChannelRule, 0, len(cfg.Repos.Channels))
	for _, ch := range cfg.Repos.Channels {
		rules = append(rules, resolve.ChannelRule{
			Channel: ch.Channel,
			Label:   ch.Label,
			Repo:    ch.Repo,
		})
	}
	strategies := []resolve.Strategy{
		resolve.NewProjectMapStrategy(cfg.Repos.Projects),
		resolve.NewChannelMapStrategy(rules),
	}

	if cfg.Platforms.GitHub.Token != "" && cfg.Platforms.GitHub.Org != "" {
		ghClient := gh.NewClient(nil).WithAuthToken(cfg.Platforms.GitHub.Token)
		cache, err := resolve.NewRepoCache(
			githubadapter.ListOrgRepos(ghClient, cfg.Platforms.GitHub.Org),
			resolve.DefaultRepoCacheTTL, nil)
		if err != nil {
			return nil, err
		}
		suggester, err := githubadapter.NewSuggester(cache)
		if err != nil {
			return nil, err
		}
		suggest, err := resolve.NewSuggestStrategy(suggester)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, suggest)

		if cfg.Classifier.APIKey != "" {
			anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.Classifier.APIKey))
			caller, err := resolve.NewAnthropicCaller(&anthropicClient, cfg.Classifier.Model)
			if err != nil {
				return nil, err
			}
			classify, err := resolve.NewClassifyStrategy(cache, caller)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, classify)
		}
	}

	return resolve.NewCascade(strategies...), nil
}

// buildAdapters creates an adapter for every platform with credentials.
func buildAdapters(cfg *config.Config) ([]bridge.Adapter, error) {
	var adapters []bridge.Adapter

	if cfg.Platforms.Slack.SigningSecret != "" {
		a, err := slackadapter.New(slackadapter.AdapterOpts{
			SigningSecret: cfg.Platforms.Slack.SigningSecret,
			BotToken:      cfg.Platforms.Slack.BotToken,
			BotUserID:     cfg.Platforms.Slack.BotUserID,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Platforms.GitHub.WebhookSecret != "" {
		a, err := githubadapter.New(githubadapter.AdapterOpts{
			WebhookSecret: cfg.Platforms.GitHub.WebhookSecret,
			Token:         cfg.Platforms.GitHub.Token,
			BotLogin:      cfg.Platforms.GitHub.BotLogin,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Platforms.Discord.WebhookSecret != "" {
		a, err := discord.New(discord.AdapterOpts{
			WebhookSecret: cfg.Platforms.Discord.WebhookSecret,
			BotToken:      cfg.Platforms.Discord.BotToken,
			BotUserID:     cfg.Platforms.Discord.BotUserID,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no platform credentials configured")
	}
	return adapters, nil
}
