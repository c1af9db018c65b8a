package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"bindery/internal/commerce"
	"bindery/internal/config"
	"bindery/internal/gitclient"
	"bindery/internal/mailer"
	"bindery/internal/notify"
	"bindery/internal/payment"
	"bindery/internal/ratelimit"
	"bindery/internal/server"
	syncsvc "bindery/internal/sync"
	"bindery/internal/usertoken"
	"bindery/internal/util"
	"bindery/pkg/storage"
	"bindery/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	tokens, err := usertoken.NewManager(usertoken.Config{
		Secret: cfg.JWTSecret,
		TTL:    time.Duration(cfg.JWTTTLHours) * time.Hour,
	})
	if err != nil {
		log.Fatalf("failed to init token manager: %v", err)
	}

	gateway, err := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.PaymentCurrency)
	if err != nil {
		log.Fatalf("failed to init payment gateway: %v", err)
	}

	ctx := context.Background()

	var notifier commerce.Notifier
	if cfg.RedisAddr != "" {
		var sender notify.Sender
		var lists notify.ListClient
		if cfg.MailBaseURL != "" {
			mailClient, err := mailer.NewClient(cfg.MailBaseURL, cfg.MailAPIKey)
			if err != nil {
				log.Fatalf("failed to init mail client: %v", err)
			}
			sender = mailClient
			lists = mailClient
		}
		dispatcher, err := notify.New(notify.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, sender, lists)
		if err != nil {
			log.Fatalf("failed to init notification dispatcher: %v", err)
		}
		dispatcher.Start(ctx, cfg.NotifyConcurrency)
		notifier = dispatcher
	} else {
		slog.Warn("redis not configured, purchase notifications disabled")
	}

	syncer := syncsvc.New(dataStore, gitclient.NewGitHub(cfg.GitHubBaseURL), cfg.SyncConcurrency)
	purchaser := commerce.New(dataStore, dataStore, dataStore, gateway, notifier, commerce.Config{
		SenderAddress: cfg.SenderAddress,
		MailingList:   cfg.MailingList,
	})

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		objects = minioStore
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxy cidrs: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.PurchaseRateLimit > 0 {
		window := time.Duration(cfg.PurchaseRateWindowSeconds) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "bindery:ratelimit:purchase", cfg.PurchaseRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		Store:          dataStore,
		Syncer:         syncer,
		Purchaser:      purchaser,
		Tokens:         tokens,
		Objects:        objects,
		Limiter:        limiter,
		TrustedProxy:   trusted,
		GitToken:       cfg.GitHubToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("bindery server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
