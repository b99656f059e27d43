package provider

import (
	"fmt"
	"net/http"
	"os"

	"github.com/lucasnoah/relayfactory/internal/config"
)

// BuildOptions carries runtime dependencies that config cannot express.
type BuildOptions struct {
	// HTTPClient is used by remote providers. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Replay, when set, serves every role and config is ignored.
	Replay *Replay
	// Getenv resolves the JWT secret variable. Nil means os.Getenv.
	Getenv func(string) string
}

// Build resolves one provider per role for the given environment. The
// selection is fixed for the lifetime of the returned registry.
func Build(roles []string, cfg config.ProviderSettings, env string, handlers map[string]Handler, opts BuildOptions) (Registry, error) {
	reg := make(Registry, len(roles))
	if opts.Replay != nil {
		for _, role := range roles {
			reg[role] = opts.Replay
		}
		return reg, nil
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	var signer *TokenSigner
	if cfg.JWTSecretEnv != "" {
		if secret := getenv(cfg.JWTSecretEnv); secret != "" {
			signer = NewTokenSigner([]byte(secret), 0)
		}
	}

	for _, role := range roles {
		rp := cfg.Resolve(role, env)
		switch rp.Kind {
		case "", "local":
			h, ok := handlers[role]
			if !ok {
				return nil, fmt.Errorf("role %q: no local worker registered", role)
			}
			reg[role] = NewLocal(role, h)
		case "remote":
			if rp.Endpoint == "" {
				return nil, fmt.Errorf("role %q: remote provider has no endpoint", role)
			}
			var ropts []RemoteOption
			if opts.HTTPClient != nil {
				ropts = append(ropts, WithHTTPClient(opts.HTTPClient))
			}
			if signer != nil {
				ropts = append(ropts, WithSigner(signer))
			}
			reg[role] = NewRemote(rp.Endpoint, ropts...)
		default:
			return nil, fmt.Errorf("role %q: unknown provider kind %q", role, rp.Kind)
		}
	}
	return reg, nil
}
