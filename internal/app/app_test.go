package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/suggest"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	Logger(config.Config{Env: "prod"}, &buf).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	Logger(config.Config{Env: "dev"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestOpenStore_SQLite(t *testing.T) {
	st, closeFn, err := OpenStore(context.Background(), config.Config{StoreDriver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	defer closeFn()

	_, err = st.ListJobs(context.Background(), 10)
	assert.NoError(t, err)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.Config{StoreDriver: "mongo"})
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestEngine(t *testing.T) {
	_, ok := Engine(config.Config{SuggestStrategy: "rules"}).(*suggest.RuleBased)
	assert.True(t, ok)
	_, ok = Engine(config.Config{SuggestStrategy: "agent", LLMBaseURL: "http://localhost:1"}).(*suggest.Agent)
	assert.True(t, ok)
}
