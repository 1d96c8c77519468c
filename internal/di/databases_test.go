package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	defer container.Close()

	assert.NotNil(t, container.FolioDB)
	assert.NotNil(t, container.ClientDataDB)
	assert.Len(t, container.Databases(), 2)

	assert.FileExists(t, filepath.Join(cfg.DataDir, "folio.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "client_data.db"))

	for _, db := range container.Databases() {
		assert.NoError(t, db.QuickCheck(context.Background()), db.Name())
	}
}

func TestInitializeRepositories_RequiresDatabases(t *testing.T) {
	err := InitializeRepositories(&Container{}, zerolog.Nop())
	assert.Error(t, err)
}
