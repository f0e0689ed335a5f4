// Package appid resolves the cambiowatch application identity through
// gofulmen. An explicit FULMEN_APP_IDENTITY_PATH or a .fulmen/app.yaml found
// from the working directory wins; otherwise the embedded app.yaml is used,
// so a copied binary still knows its name and env prefix.
package appid

import (
	"context"
	_ "embed"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

//go:embed app.yaml
var embeddedYAML []byte

func init() {
	_ = appidentity.RegisterEmbeddedIdentityYAML(embeddedYAML)
}

// Get loads the identity, caching it for the process.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// Current is Get for callers that cannot fail, such as command help text.
// A broken explicit identity path degrades to the built-in names.
func Current() *appidentity.Identity {
	if identity, err := appidentity.Get(context.Background()); err == nil && identity != nil {
		return identity
	}
	return &appidentity.Identity{
		BinaryName: "cambiowatch",
		Vendor:     "cambiowatch",
		ConfigName: "cambiowatch",
		EnvPrefix:  "CAMBIOWATCH_",
	}
}

// ViperPrefix returns the env prefix without its trailing underscore, the
// form viper.SetEnvPrefix expects.
func ViperPrefix(identity *appidentity.Identity) string {
	return strings.TrimSuffix(identity.EnvPrefix, "_")
}
