// cmd/server/serve.go
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jason-s-yu/tourney/internal/auth"
	"github.com/jason-s-yu/tourney/internal/cache"
	"github.com/jason-s-yu/tourney/internal/claim"
	"github.com/jason-s-yu/tourney/internal/config"
	"github.com/jason-s-yu/tourney/internal/database"
	"github.com/jason-s-yu/tourney/internal/handlers"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/lobby"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/jason-s-yu/tourney/internal/tournament"
	"github.com/jason-s-yu/tourney/internal/wallet"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("port", "", "listen port")
	v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	return cmd
}

func initAuth(cfg config.Config) error {
	ttl, err := auth.ParseTTL(cfg.TokenExpireTime)
	if err != nil {
		return err
	}
	if cfg.AuthPrivateKeyPath != "" {
		return auth.InitFromPath(cfg.AuthPrivateKeyPath, cfg.AuthPublicKeyPath, ttl)
	}
	return auth.Init(ttl)
}

// openStorage returns the configured wallet link backend and a shared redis
// client when one was opened.
func openStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (wallet.Storage, *redis.Client, func(), error) {
	switch cfg.WalletStore {
	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Postgres.URL(), logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return wallet.NewPostgresStorage(pool), nil, pool.Close, nil
	case config.StoreRedis:
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, nil, err
		}
		return wallet.NewRedisStorage(rdb, wallet.DefaultRedisKey), rdb, func() { rdb.Close() }, nil
	default:
		fs, err := wallet.OpenFileStorage(cfg.WalletLinksPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return fs, nil, func() {}, nil
	}
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if err := initAuth(cfg); err != nil {
		return err
	}

	storage, rdb, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open wallet store: %w", err)
	}
	defer closeStorage()

	// The lobby index shares redis with the wallet store when one is configured.
	var index *cache.LobbyIndex
	if rdb != nil {
		index = cache.NewLobbyIndex(rdb, cache.DefaultLobbyIndexKey, cfg.LobbyIndexTTL)
	}

	client, err := ledger.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	reader := ledger.NewReader(client, cfg.ContractAddress, logger)
	opts := []ledger.SubmitterOption{ledger.WithLogger(logger)}
	if cfg.ChainID != 0 {
		opts = append(opts, ledger.WithChainID(big.NewInt(cfg.ChainID)))
	}
	var serverKey *ecdsa.PrivateKey
	if cfg.ServerPrivateKey != "" {
		key, err := ledger.ParseKey(cfg.ServerPrivateKey)
		if err != nil {
			return err
		}
		serverKey = key
	}
	submitter := ledger.NewSubmitter(client, cfg.ContractAddress, serverKey, opts...)
	if !submitter.Configured() {
		logger.Warn("SERVER_PRIVATE_KEY not set: start, declare and cancel are unavailable")
	}

	hub := wallet.NewHub()
	store := wallet.NewStore(storage,
		wallet.WithNonceTTL(cfg.NonceTTL),
		wallet.WithMaxNonceFailures(cfg.NonceMaxFailures),
		wallet.WithHub(hub),
	)
	rooms := lobby.NewManager(logger)
	orch := tournament.New(reader, client, submitter,
		tournament.WithLifecycle(rooms),
		tournament.WithLogger(logger),
	)
	browser := tournament.NewBrowser(reader, index, logger)

	srv := &handlers.Server{
		Logger:        logger,
		Linker:        wallet.NewLinker(store, cfg.LinkDomain, logger),
		Hub:           hub,
		Orchestrator:  orch,
		Browser:       browser,
		Claims:        claim.NewEngine(reader, store, poll.Claim, logger),
		Rooms:         rooms,
		Backend:       client,
		Contract:      cfg.ContractAddress,
		EventPolicy:   poll.State,
		EventLookback: cfg.EventLookback,
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.LobbyIndexInterval),
		gocron.NewTask(func() {
			rctx, cancel := context.WithTimeout(ctx, cfg.LobbyIndexInterval)
			defer cancel()
			if _, err := browser.Refresh(rctx); err != nil {
				logger.WithError(err).Warn("lobby index refresh failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule lobby index refresh: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.NonceTTL),
		gocron.NewTask(func() {
			if n := store.SweepNonces(); n > 0 {
				logger.WithField("expired", n).Debug("swept link challenges")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule nonce sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	}
}
