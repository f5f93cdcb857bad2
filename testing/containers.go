// Package testing provides test utilities and helpers.
package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerStartupTimeout bounds how long integration tests wait for a
// database image to come up.
const ContainerStartupTimeout = 3 * time.Minute

// RedisContainer provides a Redis container for testing.
type RedisContainer struct {
	*redis.RedisContainer
	ConnectionString string
}

// StartRedisContainer starts a Redis container for integration tests.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithLogLevel(redis.LogLevelNotice),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis connection string: %w", err)
	}

	return &RedisContainer{
		RedisContainer:   container,
		ConnectionString: connStr,
	}, nil
}

// SQLContainer is a started database container and its DSN.
type SQLContainer struct {
	testcontainers.Container
	ConnectionString string
}

// Terminate terminates the container.
func (c *SQLContainer) Terminate(ctx context.Context) error {
	return c.Container.Terminate(ctx)
}

const (
	postgresPort nat.Port = "5432/tcp"
	mysqlPort    nat.Port = "3306/tcp"
)

func postGISRequest() testcontainers.ContainerRequest {
	return testcontainers.ContainerRequest{
		Image:        "postgis/postgis:16-3.4",
		ExposedPorts: []string{string(postgresPort)},
		Env: map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
		},
		// The server restarts once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(ContainerStartupTimeout),
	}
}

func mariaDBRequest() testcontainers.ContainerRequest {
	return testcontainers.ContainerRequest{
		Image:        "mariadb:11.4",
		ExposedPorts: []string{string(mysqlPort)},
		Env: map[string]string{
			"MARIADB_DATABASE":      "testdb",
			"MARIADB_USER":          "testuser",
			"MARIADB_PASSWORD":      "testpass",
			"MARIADB_ROOT_PASSWORD": "rootpass",
		},
		WaitingFor: wait.ForListeningPort(mysqlPort).WithStartupTimeout(ContainerStartupTimeout),
	}
}

func mySQLRequest() testcontainers.ContainerRequest {
	return testcontainers.ContainerRequest{
		Image:        "mysql:8.4",
		ExposedPorts: []string{string(mysqlPort)},
		Env: map[string]string{
			"MYSQL_DATABASE":      "testdb",
			"MYSQL_USER":          "testuser",
			"MYSQL_PASSWORD":      "testpass",
			"MYSQL_ROOT_PASSWORD": "rootpass",
		},
		// The entrypoint runs a temporary server for initialization first.
		WaitingFor: wait.ForAll(
			wait.ForLog("port: 3306  MySQL Community Server"),
			wait.ForListeningPort(mysqlPort),
		).WithDeadline(ContainerStartupTimeout),
	}
}

// StartPostGISContainer starts PostgreSQL with PostGIS. The returned DSN is a
// postgres:// URL.
func StartPostGISContainer(ctx context.Context) (*SQLContainer, error) {
	c, host, port, err := startGeneric(ctx, postGISRequest(), postgresPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start PostGIS container: %w", err)
	}

	return &SQLContainer{
		Container:        c,
		ConnectionString: fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port),
	}, nil
}

// StartMariaDBContainer starts MariaDB. The returned DSN is in the
// go-sql-driver/mysql format.
func StartMariaDBContainer(ctx context.Context) (*SQLContainer, error) {
	c, host, port, err := startGeneric(ctx, mariaDBRequest(), mysqlPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start MariaDB container: %w", err)
	}

	return &SQLContainer{
		Container:        c,
		ConnectionString: mysqlDSN(host, port),
	}, nil
}

// StartMySQLContainer starts MySQL 8. The returned DSN is in the
// go-sql-driver/mysql format.
func StartMySQLContainer(ctx context.Context) (*SQLContainer, error) {
	c, host, port, err := startGeneric(ctx, mySQLRequest(), mysqlPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	return &SQLContainer{
		Container:        c,
		ConnectionString: mysqlDSN(host, port),
	}, nil
}

func mysqlDSN(host, port string) string {
	return fmt.Sprintf("testuser:testpass@tcp(%s:%s)/testdb?parseTime=true", host, port)
}

func startGeneric(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (testcontainers.Container, string, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", "", fmt.Errorf("failed to get host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", "", fmt.Errorf("failed to get port: %w", err)
	}

	return container, host, mapped.Port(), nil
}

// ContainerCleanup provides a cleanup function for t.Cleanup.
type ContainerCleanup interface {
	Terminate(ctx context.Context) error
}

// CleanupContainer returns a cleanup function for testing.T.Cleanup.
func CleanupContainer(ctx context.Context, c ContainerCleanup) func() {
	return func() {
		if err := c.Terminate(context.WithoutCancel(ctx)); err != nil {
			fmt.Printf("failed to terminate container: %v\n", err)
		}
	}
}
