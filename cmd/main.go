/**
 * @description
 * This is the main entry point for the ingestion-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the credential vault, the provider API client, message
 * brokers, repositories, the core application service, the replication
 * worker, and the HTTP server. It wires everything together and starts the
 * service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Address cache backing store.
 * - internal/api, internal/app, internal/cache, internal/config,
 *   internal/store, internal/tenantdb, internal/vault: Internal packages.
 * - pkg/provider, pkg/rabbitmq, pkg/retry: Provider client, RabbitMQ client,
 *   backoff policy.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/solixdb/ingestion-service/internal/api"
	"github.com/solixdb/ingestion-service/internal/app"
	"github.com/solixdb/ingestion-service/internal/cache"
	"github.com/solixdb/ingestion-service/internal/config"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/store"
	"github.com/solixdb/ingestion-service/internal/tenantdb"
	"github.com/solixdb/ingestion-service/internal/vault"
	"github.com/solixdb/ingestion-service/pkg/provider"
	"github.com/solixdb/ingestion-service/pkg/rabbitmq"
	"github.com/solixdb/ingestion-service/pkg/retry"
)

const replicationJobRoutingKey = "replication.job"

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook url must be configured\" env=WEBHOOK_URL")
	}

	// The vault key gates every tenant credential; refuse to boot without it.
	credentialVault, err := vault.New(cfg.VaultEncryptionKey)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"vault key invalid\" env=VAULT_ENCRYPTION_KEY err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting ingestion-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the control-plane PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Redis backs the tracked-address cache. The cache is an optimization:
	// a missing or unreachable redis degrades to aggregate reads, it never
	// prevents boot.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; address cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; address cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; address cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// The producer enqueues replication jobs; without it the webhook receiver
	// cannot guarantee durability, so failure here is fatal.
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq producer init failed\" err=%v", err)
	}
	defer rabbitProducer.Close()
	log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")

	// Initialize the client for the upstream data provider API.
	providerClient := provider.NewClient(cfg.ProviderAPIBaseURL)

	// Tenant database pool manager with an idle-eviction janitor.
	tenantManager := tenantdb.NewManager(retry.DefaultPolicy(), time.Duration(cfg.TenantDBMaxIdleMinutes)*time.Minute)
	defer tenantManager.Close()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			tenantManager.CloseIdle()
		}
	}()

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)
	addressCache := cache.New(redisClient)

	credentials := map[domain.Cluster]app.ClusterCredentials{
		domain.ClusterMainnet: {APIKey: cfg.ProviderMainnetAPIKey, WebhookSecret: cfg.WebhookMainnetSecret},
		domain.ClusterDevnet:  {APIKey: cfg.ProviderDevnetAPIKey, WebhookSecret: cfg.WebhookDevnetSecret},
	}

	// Initialize the core application service with its dependencies.
	ingestionService := app.NewService(
		repository,
		providerClient,
		rabbitProducer,
		credentialVault,
		addressCache,
		credentials,
		cfg.WebhookURL,
		cfg.EventsExchange,
		replicationJobRoutingKey,
		cfg.IndexingCreditCost,
	)

	// Initialize the API handlers.
	ingestionHandlers := api.NewIngestionHandlers(ingestionService, map[domain.Cluster]string{
		domain.ClusterMainnet: cfg.WebhookMainnetSecret,
		domain.ClusterDevnet:  cfg.WebhookDevnetSecret,
	})

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.IngestionRoutes(ingestionHandlers, cfg.ClerkJWKSURL, cfg.ClerkAudience, cfg.ClerkIssuer))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the replication worker: a RabbitMQ consumer bound to the job
	// routing key, with bounded redelivery into the dead-letter queue.
	replicationWorker := app.NewReplicationConsumer(repository, credentialVault, tenantManager)

	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	replicationBindings := map[string]rabbitmq.Handler{
		replicationJobRoutingKey: replicationWorker.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithDeadLetter(
		cfg.EventsExchange,
		cfg.ReplicationQueue,
		cfg.ReplicationDeadLetter,
		cfg.ReplicationMaxAttempts,
		time.Duration(cfg.ReplicationRetryDelaySecs)*time.Second,
		replicationBindings,
	); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"replication consumer start failed\" err=%v", err)
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
