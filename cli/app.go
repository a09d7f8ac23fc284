package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"ytrelay/automation"
	"ytrelay/config"
	"ytrelay/extract"
	"ytrelay/formats"
	yhttp "ytrelay/http"
	"ytrelay/internal/retry"
	"ytrelay/metadata"
	"ytrelay/platform"
	"ytrelay/server"
	"ytrelay/storage"
	"ytrelay/transfer"
	"ytrelay/youtube"
)

// app holds every component built from the configuration.
type app struct {
	store      storage.Store
	http       *yhttp.Client
	registry   *platform.Registry
	classifier *platform.Classifier
	extractor  extract.Extractor
	oauth      *oauth2.Config
	transfers  *transfer.Orchestrator
	automation *automation.Manager
	preview    *server.Previewer
	cache      *metadata.Cache
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry, err := platform.LoadRegistry(cfg.Platforms.CookiesDir, cfg.Platforms.OverridesFile, cfg.Download.ChunkSizeBytes)
	if err != nil {
		return nil, err
	}
	policy, err := formats.PolicyFromConfig(cfg.Formats.Targets, cfg.Formats.Estimates)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hc := yhttp.New(nil)
	classifier := platform.NewClassifier(hc, cfg.Probe.Timeout)
	extractor := &extract.Router{
		Classifier: classifier,
		Tool:       extract.NewYtdlp(cfg.Ytdlp.Path, cfg.Ytdlp.Timeout),
		Direct:     extract.NewDirect(hc),
	}

	var oauth *oauth2.Config
	var publisher transfer.Publisher = unauthorisedPublisher{}
	if cfg.OAuth.ClientID != "" {
		oauth = youtube.OAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL)
		rc := retry.UploadConfig()
		rc.MaxRetries = cfg.Upload.MaxRetries
		rc.InitialBackoff = cfg.Upload.InitialBackoff
		rc.MaxBackoff = cfg.Upload.MaxBackoff
		clients := &youtube.ClientFactory{Config: oauth, Store: store}
		publisher = youtube.NewUploader(clients, cfg.Upload.ChunkSizeBytes, rc)
	} else {
		log.Warnln("oauth.client_id is not set, uploads are disabled")
	}

	queue := cfg.Workers.Queue
	if queue == 0 {
		// workers.queue: 0 asks for no waiting jobs.
		queue = -1
	}
	orch := transfer.New(transfer.Options{
		Pool: transfer.NewPool(transfer.PoolConfig{
			Global:  cfg.Workers.Global,
			PerUser: cfg.Workers.PerUser,
			Queue:   queue,
		}),
		Extractor:   extractor,
		Publisher:   publisher,
		Classifier:  classifier,
		Registry:    registry,
		History:     store,
		DownloadDir: cfg.Download.Dir,
		MaxSize:     cfg.Download.MaxSizeBytes,
		Privacy:     cfg.Upload.Privacy,
		Category:    cfg.Upload.Category,
	})

	manager := automation.NewManager(automation.Options{
		Store:     store,
		Channels:  automation.NewChannelsFactory(hc),
		Extractor: extractor,
		Relay:     orch,
		Registry:  registry,
		HTTP:      hc,
		APIKey:    cfg.YouTube.APIKey,
		Config: automation.Config{
			DefaultInterval: cfg.Automation.DefaultInterval,
			DefaultQuality:  cfg.Automation.DefaultQuality,
			IdleWait:        cfg.Automation.IdleWait,
			ErrorCooldown:   cfg.Automation.ErrorCooldown,
			LogRetention:    cfg.Automation.LogRetention,
		},
	})

	cache := metadata.NewCache(cfg.Cache.TTL)
	return &app{
		store:      store,
		http:       hc,
		registry:   registry,
		classifier: classifier,
		extractor:  extractor,
		oauth:      oauth,
		transfers:  orch,
		automation: manager,
		cache:      cache,
		preview: &server.Previewer{
			Classifier: classifier,
			Registry:   registry,
			Extractor:  extractor,
			Cache:      cache,
			Policy:     policy,
		},
	}, nil
}

// Close stops the background workers and releases the store.
func (a *app) Close(ctx context.Context) {
	if err := a.automation.Shutdown(ctx); err != nil {
		log.Warnf("automation shutdown: %v", err)
	}
	if err := a.transfers.Pool().Shutdown(ctx); err != nil {
		log.Warnf("transfer pool shutdown: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Warnf("close store: %v", err)
	}
	a.http.Close()
}

func (a *app) server() *server.Server {
	return server.New(server.Options{
		Transfers:  a.transfers,
		Automation: a.automation,
		Store:      a.store,
		Preview:    a.preview,
		OAuth:      a.oauth,
	})
}

// unauthorisedPublisher stands in for the uploader when no OAuth client
// is configured.
type unauthorisedPublisher struct{}

func (unauthorisedPublisher) Begin(ctx context.Context, userID, path string, req youtube.VideoRequest) (youtube.UploadSession, error) {
	return nil, fmt.Errorf("%w: oauth.client_id is not configured", youtube.ErrNotAuthorized)
}
