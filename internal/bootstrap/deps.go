// Package bootstrap wires configuration, infrastructure and services into
// runnable API and worker units.
package bootstrap

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mailvault/adapter/in/worker"
	"mailvault/adapter/out/automation"
	"mailvault/adapter/out/broker"
	"mailvault/adapter/out/persistence"
	"mailvault/adapter/out/provider"
	"mailvault/config"
	"mailvault/core/service/mail"
	"mailvault/core/service/sync"
	"mailvault/core/service/token"
	"mailvault/infra/database"
	"mailvault/pkg/logger"
)

// Dependencies holds every shared component. API and worker units built from
// the same Dependencies share the task service and the pool, so submissions
// from HTTP run on the in-process workers.
type Dependencies struct {
	Store  *database.Store
	Redis  *redis.Client
	Broker *broker.Broker

	Tokens   *persistence.TokenAdapter
	Folders  *persistence.FolderAdapter
	Accounts *persistence.AccountAdapter
	Mails    *persistence.MailAdapter

	Provider *provider.GraphClient

	TokenService *token.Service
	SyncService  *sync.Service
	MailService  *mail.Service
	Downloader   *mail.Downloader

	Tasks  *worker.Tasks
	Pool   *worker.Pool
	Writer *worker.Writer
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	log := logger.L()

	store, err := database.Open(cfg.SQLitePath, &database.StoreConfig{
		PoolSize:       cfg.DBPoolSize,
		AcquireTimeout: cfg.DBPoolTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.InitSchema(initCtx); err != nil {
		store.Close()
		return nil, nil, err
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	brk := broker.New(redisClient)

	// Persistence adapters share the pooled store.
	tokens := persistence.NewTokenAdapter(store)
	folders := persistence.NewFolderAdapter(store)
	accounts := persistence.NewAccountAdapter(store)
	mails := persistence.NewMailAdapter(store)

	graph := provider.NewGraphClient(log)

	tokenSvc := token.NewService(tokens, token.Config{
		ClientID: cfg.MSALClientID,
		TenantID: cfg.MSALTenantID,
		Scopes:   cfg.MSALScopes,
	}, log)

	syncSvc := sync.NewService(tokenSvc, graph, folders, accounts, brk, cfg.DefaultSyncDays, log)
	mailSvc := mail.NewService(mails, accounts, tokenSvc, graph, log)
	downloader := mail.NewDownloader(mails, tokenSvc, graph, brk, cfg.DownloadWorkers, log)

	login := worker.NewLoginProcessor(accounts, automation.NewRemoteLogin(cfg.LoginAutomationURL, log), tokenSvc, log)
	handler := worker.NewHandler(login, syncSvc, downloader, brk, log)

	tasks := worker.NewTasks(handler, brk, brk, cfg.AdminConcurrency, cfg.UserConcurrency, log)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerPoolSize > 0 {
		poolConfig.Workers = cfg.WorkerPoolSize
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.WorkerChanSize = cfg.WorkerQueueSize
	}
	pool := worker.NewPool(tasks, poolConfig, log)
	tasks.AttachPool(pool)

	writerConfig := worker.DefaultWriterConfig()
	if cfg.WriteBatchSize > 0 {
		writerConfig.BatchSize = cfg.WriteBatchSize
	}
	if cfg.FlushInterval > 0 {
		writerConfig.FlushInterval = cfg.FlushInterval
	}
	writer := worker.NewWriter(store, brk, writerConfig, log)

	deps := &Dependencies{
		Store:        store,
		Redis:        redisClient,
		Broker:       brk,
		Tokens:       tokens,
		Folders:      folders,
		Accounts:     accounts,
		Mails:        mails,
		Provider:     graph,
		TokenService: tokenSvc,
		SyncService:  syncSvc,
		MailService:  mailSvc,
		Downloader:   downloader,
		Tasks:        tasks,
		Pool:         pool,
		Writer:       writer,
	}

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("redis close failed")
		}
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close failed")
		}
	}
	return deps, cleanup, nil
}
