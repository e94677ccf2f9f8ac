// Package config loads server configuration from the environment and
// assembles the content manager from it.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tylew/pl4m-com/pkg/content"
	memoryrepo "github.com/tylew/pl4m-com/pkg/content/repo/memory"
	postgresrepo "github.com/tylew/pl4m-com/pkg/content/repo/postgres"
	fsstorage "github.com/tylew/pl4m-com/pkg/content/storage/fs"
	memorystorage "github.com/tylew/pl4m-com/pkg/content/storage/memory"
	s3storage "github.com/tylew/pl4m-com/pkg/content/storage/s3"
)

// ServerConfig is the environment-driven configuration of the content
// server.
type ServerConfig struct {
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	Bucket      string `env:"PL4M_BUCKET" env-default:"pl4m-public-content"`

	// MetadataBackend selects the record store: "memory" or "postgres".
	MetadataBackend string `env:"METADATA_BACKEND" env-default:"memory"`
	DB              DbConfig

	// StorageBackend selects the blob store: "memory", "fs" or "s3".
	StorageBackend string `env:"STORAGE_BACKEND" env-default:"memory"`
	FSDir          string `env:"FS_STORAGE_DIR" env-default:"./data/blobs"`
	FSURLPrefix    string `env:"FS_URL_PREFIX" env-default:""`
	S3             S3Config
}

// DbConfig holds the PostgreSQL connection parameters.
type DbConfig struct {
	Port     uint16 `env:"CONTENT_PG_PORT" env-default:"5432"`
	Host     string `env:"CONTENT_PG_HOST" env-default:"localhost"`
	Name     string `env:"CONTENT_PG_NAME" env-default:"pl4m_db"`
	User     string `env:"CONTENT_PG_USER" env-default:"content"`
	Password string `env:"CONTENT_PG_PASSWORD" env-default:"pwd"`
}

// S3Config holds the S3/MinIO connection parameters.
type S3Config struct {
	Endpoint        string `env:"AWS_S3_ENDPOINT" env-default:""`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" env-default:""`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
	EnableSSE       bool   `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm    string `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID     string `env:"AWS_S3_SSE_KMS_KEY_ID" env-default:""`
}

func (c DbConfig) toDatabaseUrl() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Name,
	}
	return u.String()
}

// Load reads the configuration from the environment.
func Load() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return &cfg, nil
}

// NewDbPool opens and pings a pgx pool for the configured database.
func NewDbPool(ctx context.Context, dbConfig DbConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dbConfig.toDatabaseUrl())
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// BuildManager assembles the metadata store, blob store and content
// manager from the configuration. The returned cleanup function closes
// whatever connections were opened.
func (c *ServerConfig) BuildManager(ctx context.Context) (*content.Manager, func(), error) {
	cleanup := func() {}

	var store content.MetadataStore
	switch c.MetadataBackend {
	case "memory":
		store = memoryrepo.New()
	case "postgres":
		pool, err := NewDbPool(ctx, c.DB)
		if err != nil {
			return nil, nil, err
		}
		repo := postgresrepo.NewWithPool(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store = repo
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown metadata backend: %s", c.MetadataBackend)
	}

	var blobs content.BlobStore
	switch c.StorageBackend {
	case "memory":
		blobs = memorystorage.New(c.Bucket)
	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{
			Bucket:    c.Bucket,
			BaseDir:   c.FSDir,
			URLPrefix: c.FSURLPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		blobs = backend
	case "s3":
		backend, err := s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		blobs = backend
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
	}

	slog.Info("content manager configured",
		"metadata_backend", c.MetadataBackend,
		"storage_backend", c.StorageBackend,
		"bucket", c.Bucket,
		"environment", c.Environment)

	manager, err := content.New(
		content.WithMetadataStore(store),
		content.WithBlobStore(blobs),
		content.WithBucket(c.Bucket),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return manager, cleanup, nil
}
