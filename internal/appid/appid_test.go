package appid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetIdentity clears gofulmen's process cache and re-registers the embedded
// identity, which Reset also drops.
func resetIdentity(t *testing.T) {
	t.Helper()
	appidentity.Reset()
	require.NoError(t, appidentity.RegisterEmbeddedIdentityYAML(embeddedYAML))
	t.Cleanup(func() {
		appidentity.Reset()
		_ = appidentity.RegisterEmbeddedIdentityYAML(embeddedYAML)
	})
}

func TestGetUsesEmbeddedIdentityOutsideRepo(t *testing.T) {
	resetIdentity(t)
	t.Setenv(appidentity.EnvIdentityPath, "")
	t.Chdir(t.TempDir())

	identity, err := Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cambiowatch", identity.BinaryName)
	assert.Equal(t, "cambiowatch", identity.ConfigName)
	assert.Equal(t, "CAMBIOWATCH_", identity.EnvPrefix)
	assert.Equal(t, "CAMBIOWATCH", ViperPrefix(identity))
	assert.NotEmpty(t, identity.Description)
	assert.Equal(t, "cambiowatch", identity.TelemetryNamespace())
}

func TestExplicitIdentityPathIsAuthoritative(t *testing.T) {
	resetIdentity(t)
	t.Setenv(appidentity.EnvIdentityPath, filepath.Join(t.TempDir(), "missing-app.yaml"))

	_, err := Get(context.Background())
	require.Error(t, err)
	var notFound *appidentity.NotFoundError
	assert.True(t, errors.As(err, &notFound), "got %T: %v", err, err)

	fallback := Current()
	assert.Equal(t, "cambiowatch", fallback.BinaryName)
	assert.Equal(t, "CAMBIOWATCH_", fallback.EnvPrefix)
}

func TestExplicitIdentityOverridesEmbedded(t *testing.T) {
	resetIdentity(t)
	path := filepath.Join(t.TempDir(), "app.yaml")
	custom := []byte(`app:
  vendor: acme
  binary_name: cambiowatch-staging
  config_name: cambiowatch-staging
  env_prefix: CWSTAGE_
  description: staging rate tracker
metadata:
  telemetry_namespace: cambiowatch_staging
`)
	require.NoError(t, os.WriteFile(path, custom, 0o600))
	t.Setenv(appidentity.EnvIdentityPath, path)

	identity := Current()
	assert.Equal(t, "cambiowatch-staging", identity.BinaryName)
	assert.Equal(t, "CWSTAGE", ViperPrefix(identity))
}
