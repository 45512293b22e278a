package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, "dev", p.Mode)
	assert.Equal(t, 1536, p.EmbeddingDim)
	assert.Equal(t, 0.5, p.VectorWeight)
	assert.Equal(t, 0.5, p.SimilarityThreshold)
	assert.Equal(t, 10, p.SearchLimit)
	assert.Equal(t, 15*time.Minute, p.QueryCacheTTL)
	assert.True(t, p.IsDev())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MAILSENSE_DRIVER", "memory")
	t.Setenv("MAILSENSE_VECTOR_WEIGHT", "0.7")
	t.Setenv("MAILSENSE_SEARCH_LIMIT", "25")
	t.Setenv("MAILSENSE_QUERY_CACHE_TTL", "30s")
	t.Setenv("MAILSENSE_AI_ENABLED", "true")

	p := Default()
	p.FromEnv()

	assert.Equal(t, "memory", p.Driver)
	assert.Equal(t, 0.7, p.VectorWeight)
	assert.Equal(t, 25, p.SearchLimit)
	assert.Equal(t, 30*time.Second, p.QueryCacheTTL)
	assert.True(t, p.AIEnabled)
	// No API key configured, so the provider stays off.
	assert.False(t, p.IsAIEnabled())
}

func TestFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("MAILSENSE_SEARCH_LIMIT", "not-a-number")
	t.Setenv("MAILSENSE_VECTOR_WEIGHT", "also-not")

	p := Default()
	p.FromEnv()

	assert.Equal(t, 10, p.SearchLimit)
	assert.Equal(t, 0.5, p.VectorWeight)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"Memory driver needs no DSN", func(p *Profile) { p.Driver = "memory" }, false},
		{"Postgres without DSN", func(p *Profile) { p.Driver = "postgres"; p.DSN = "" }, true},
		{"Postgres with DSN", func(p *Profile) { p.Driver = "postgres"; p.DSN = "postgres://localhost/mailsense" }, false},
		{"Unknown driver", func(p *Profile) { p.Driver = "mysql" }, true},
		{"Bad dimension", func(p *Profile) { p.Driver = "memory"; p.EmbeddingDim = 0 }, true},
		{"Weight above one", func(p *Profile) { p.Driver = "memory"; p.VectorWeight = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
