package infra

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container is a started test dependency. A zero value owns nothing.
type Container struct {
	C testcontainers.Container
}

func (c *Container) Terminate(ctx context.Context) error {
	if c == nil || c.C == nil {
		return nil
	}
	return c.C.Terminate(ctx)
}

// StartPostgres16 starts a Postgres 16 container and returns a DSN. If overrideDSN or
// STRESS_TEST_PG_DSN is set, it reuses that database.
func StartPostgres16(ctx context.Context, overrideDSN string) (*Container, string, error) {
	if overrideDSN != "" {
		return &Container{}, overrideDSN, nil
	}
	if dsn := os.Getenv("STRESS_TEST_PG_DSN"); dsn != "" {
		return &Container{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("barter"),
		postgres.WithUsername("barter"),
		postgres.WithPassword("barter"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start postgres: %w", err)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable", "application_name="+AppName)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", fmt.Errorf("postgres dsn: %w", err)
	}
	return &Container{C: pgC}, dsn, nil
}

// StartRedis starts a Redis 7 container and returns its address. REDIS_ADDR short-circuits.
func StartRedis(ctx context.Context) (*Container, string, error) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return &Container{}, addr, nil
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start redis: %w", err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", fmt.Errorf("redis endpoint: %w", err)
	}
	return &Container{C: c}, endpoint, nil
}
