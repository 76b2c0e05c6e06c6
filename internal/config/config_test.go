package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-nft-archiver/internal/fetcher"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/imaging"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, fetcher.DefaultGateways, cfg.Fetcher.Gateways)
	assert.Equal(t, fetcher.FirstCompleted, cfg.Fetcher.RacePolicy)
	assert.Equal(t, 100, cfg.Retry.ChunkSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(imaging.DefaultMaxPixels), cfg.Imaging.MaxPixels)
	assert.Equal(t, 3*time.Second, cfg.Fetcher.FailureBackoff)
	assert.True(t, cfg.Identity.DomainFallback)
	assert.Len(t, cfg.Identity.Templates, 2)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  http_addr: ":9000"
fetcher:
  race_policy: first_success
  request_timeout: 5s
retry:
  chunk_size: 25
storage:
  backend: s3
archive:
  bucket: archive-bucket
identity:
  domain_templates:
    - domain: "https://nfts.example.org"
      template: "{domain}/meta/{token_id}"
analytics:
  enabled: false
  batch_size: 7
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Service.HTTPAddr)
	assert.Equal(t, fetcher.FirstSuccess, cfg.Fetcher.RacePolicy)
	assert.Equal(t, 5*time.Second, cfg.Fetcher.RequestTimeout)
	assert.Len(t, cfg.Fetcher.Gateways, 4)
	assert.Equal(t, 25, cfg.Retry.ChunkSize)
	assert.Equal(t, "archive-bucket", cfg.Archive.Bucket)
	assert.Equal(t, "nft-cache-failed-log", cfg.Failures.Bucket)
	require.Len(t, cfg.Identity.Templates, 1)
	assert.Equal(t, "https://nfts.example.org", cfg.Identity.Templates[0].Domain)
	assert.False(t, cfg.Analytics.Enabled)
	assert.Equal(t, 7, cfg.Analytics.BatchSize)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DATA_DUMP_BUCKET":        "dump",
		"CACHE_FAILED_LOG_BUCKET": "failed",
		"BITHOMP_TOKEN":           "tok",
		"POSTGRES_DSN":            "postgres://x",
		"XRPL_WS_ENDPOINT":        "wss://s1.ripple.com",
		"LOG_LEVEL":               "",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "dump", cfg.Archive.Bucket)
	assert.Equal(t, "failed", cfg.Failures.Bucket)
	assert.Equal(t, "tok", cfg.Lookup.Token)
	assert.Equal(t, "postgres://x", cfg.Storage.PostgresDSN)
	assert.Equal(t, "wss://s1.ripple.com", cfg.XRPL.WSEndpoint)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidate_Errors(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "gcs"
	cfg.Retry.ChunkSize = 0
	cfg.Retry.MaxAttempts = -1
	cfg.Imaging.MaxPixels = 0
	cfg.Fetcher.RacePolicy = "fastest"
	cfg.Identity.Templates = append(cfg.Identity.Templates, identityTemplate("https://x.org", "{domain}/static"))

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "chunk_size")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "max_pixels")
	assert.Contains(t, err.Error(), "race policy")
	assert.Contains(t, err.Error(), "domain_templates[2]")
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nARCHIVER_TEST_A=1\nexport ARCHIVER_TEST_B=\"two\"\nARCHIVER_TEST_C=keep\nbroken\n"), 0o600))
	t.Setenv("ARCHIVER_TEST_C", "preset")
	t.Setenv("ARCHIVER_TEST_A", "")
	t.Setenv("ARCHIVER_TEST_B", "")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "1", os.Getenv("ARCHIVER_TEST_A"))
	assert.Equal(t, "two", os.Getenv("ARCHIVER_TEST_B"))
	assert.Equal(t, "preset", os.Getenv("ARCHIVER_TEST_C"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func identityTemplate(domain, template string) identity.DomainTemplate {
	return identity.DomainTemplate{Domain: domain, Template: template}
}
