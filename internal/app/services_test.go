package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"skein/internal/appconfig"
)

func TestInitializeServicesWiresCollaborators(t *testing.T) {
	cfg := appconfig.Default()
	cfg.BaseDir = t.TempDir()

	svc, err := InitializeServices(&cfg)
	require.NoError(t, err)
	require.NotNil(t, svc.Sessions)
	require.NotNil(t, svc.Loader)
	require.NotNil(t, svc.Store)
	require.NotNil(t, svc.Engine)
	require.NotNil(t, svc.Packages)
	require.NotNil(t, svc.Registry)

	require.NoError(t, svc.Close())
}
