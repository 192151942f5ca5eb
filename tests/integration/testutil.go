//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/imagestudio-ai/imagestudio/internal/api"
	"github.com/imagestudio-ai/imagestudio/internal/audit"
	"github.com/imagestudio-ai/imagestudio/internal/auth"
	"github.com/imagestudio-ai/imagestudio/internal/catalog"
	"github.com/imagestudio-ai/imagestudio/internal/config"
	"github.com/imagestudio-ai/imagestudio/internal/events"
	"github.com/imagestudio-ai/imagestudio/internal/generation"
	"github.com/imagestudio-ai/imagestudio/internal/quota"
	"github.com/imagestudio-ai/imagestudio/internal/users"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Events      *events.Client
	Publisher   *events.Publisher
	Server      *httptest.Server
	AuthSvc     *auth.Service
	UserSvc     *users.Service
	QuotaSvc    *quota.Service
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "imagestudio_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Start NATS container with JetStream
	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting nats container: %v", err)
	}
	t.Cleanup(func() { natsContainer.Terminate(ctx) })

	natsHost, _ := natsContainer.Host(ctx)
	natsPort, _ := natsContainer.MappedPort(ctx, "4222")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/imagestudio_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	migrationsPath := getMigrationsPath()
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		dsn,
	)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Connect to NATS
	eventsClient, err := events.NewClient(ctx, config.NATSConfig{
		URL: fmt.Sprintf("nats://%s:%s", natsHost, natsPort.Port()),
	})
	if err != nil {
		t.Fatalf("connecting to nats: %v", err)
	}
	t.Cleanup(func() { eventsClient.Close() })

	publisher := events.NewPublisher(eventsClient.JetStream())
	consumerMgr := events.NewConsumerManager(eventsClient.JetStream())

	// Setup services
	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", "test-refresh-secret-32-chars-long!!", 15*time.Minute, 7*24*time.Hour)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc)

	quotaRepo := quota.NewRepository(pool)
	quotaSvc := quota.NewService(quotaRepo)
	quotaHandler := quota.NewHandler(quotaSvc)

	catalogRepo := catalog.NewRepository(pool)
	catalogSvc := catalog.NewService(catalogRepo, publisher)
	catalogHandler := catalog.NewHandler(catalogSvc, quotaSvc)

	generationRepo := generation.NewRepository(pool)
	generationSvc := generation.NewService(generationRepo, quotaSvc, catalogSvc, publisher)
	generationHandler := generation.NewHandler(generationSvc)

	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	// Background consumers
	consumerCtx, cancelConsumers := context.WithCancel(ctx)
	t.Cleanup(cancelConsumers)

	usageConsumer := generation.NewUsageConsumer(generationRepo, quotaSvc, consumerMgr)
	go usageConsumer.Start(consumerCtx)

	auditConsumer := audit.NewConsumer(auditRepo, consumerMgr)
	go auditConsumer.Start(consumerCtx)

	router := api.NewRouter(pool, eventsClient,
		api.RouterConfig{},
		api.HandlerSet{
			Register: authHandler.Register,
			Login:    authHandler.Login,
			Refresh:  authHandler.Refresh,
			Logout:   authHandler.Logout,

			ListModels: catalogHandler.ListModels,

			GetQuotaStatus: quotaHandler.GetStatus,
			GetModelQuota:  quotaHandler.GetModelQuota,

			CreateGeneration: generationHandler.Create,
			ListGenerations:  generationHandler.List,
			GetGeneration:    generationHandler.Get,

			ListTiers:     catalogHandler.ListTiers,
			CreateTier:    catalogHandler.CreateTier,
			DeleteTier:    catalogHandler.DeleteTier,
			AdminModels:   catalogHandler.AdminListModels,
			CreateModel:   catalogHandler.CreateModel,
			UpdateModel:   catalogHandler.UpdateModel,
			SetAccess:     catalogHandler.SetAccess,
			SetLimits:     catalogHandler.SetLimits,
			ListAuditLogs: auditHandler.List,

			AuthMiddleware:  auth.Middleware(authSvc),
			AdminMiddleware: auth.RequireAdmin(userSvc),
		})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Events:      eventsClient,
		Publisher:   publisher,
		Server:      server,
		AuthSvc:     authSvc,
		UserSvc:     userSvc,
		QuotaSvc:    quotaSvc,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func RegisterUser(t *testing.T, env *TestEnv, email, password string) map[string]any {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	resp := DoRequest(t, env, "POST", "/api/v1/auth/register", body, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: status %d", resp.StatusCode)
	}
	return ParseResponse(t, resp)
}

func LoginUser(t *testing.T, env *TestEnv, email, password string) string {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	resp := DoRequest(t, env, "POST", "/api/v1/auth/login", body, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: status %d", resp.StatusCode)
	}
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	return data["access_token"].(string)
}

// PromoteToAdmin flips a registered user's profile to the admin tier.
func PromoteToAdmin(t *testing.T, env *TestEnv, email string) {
	t.Helper()
	_, err := env.Pool.Exec(context.Background(),
		`UPDATE profiles SET tier = 'admin' WHERE user_id = (SELECT id FROM users WHERE email = $1)`, email)
	if err != nil {
		t.Fatalf("promoting user to admin: %v", err)
	}
}

// UserIDByEmail looks up a registered user's ID.
func UserIDByEmail(t *testing.T, env *TestEnv, email string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := env.Pool.QueryRow(context.Background(),
		`SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if err != nil {
		t.Fatalf("looking up user by email: %v", err)
	}
	return id
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parsing uuid %q: %v", s, err)
	}
	return id
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
