package earthdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bgentry/go-netrc/netrc"
)

// URSHost is the Earthdata Login machine name looked up in netrc files.
const URSHost = "urs.earthdata.nasa.gov"

// Credential strategies.
const (
	StrategyNetrc       = "netrc"
	StrategyEnvironment = "environment"
)

// Environment variables read by the environment strategy.
const (
	EnvUsername = "EARTHDATA_USERNAME"
	EnvPassword = "EARTHDATA_PASSWORD"
)

// Credentials is an Earthdata Login username and password.
type Credentials struct {
	Username string
	Password string
}

// CredentialOptions selects where credentials come from.
type CredentialOptions struct {
	Strategy  string
	NetrcPath string // defaults to $NETRC, then ~/.netrc
	Host      string // defaults to URSHost

	// Username and Password take precedence over the environment for the
	// environment strategy.
	Username string
	Password string

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// LoadCredentials resolves credentials with the configured strategy.
func LoadCredentials(opts CredentialOptions) (Credentials, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	host := opts.Host
	if host == "" {
		host = URSHost
	}

	switch opts.Strategy {
	case StrategyNetrc, "":
		path := opts.NetrcPath
		if path == "" {
			path = defaultNetrcPath(getenv)
		}
		n, err := netrc.ParseFile(path)
		if err != nil {
			return Credentials{}, fmt.Errorf("read netrc %s: %w", path, err)
		}
		m := n.FindMachine(host)
		if m == nil || m.Login == "" {
			return Credentials{}, fmt.Errorf("no credentials for %s in %s", host, path)
		}
		return Credentials{Username: m.Login, Password: m.Password}, nil

	case StrategyEnvironment:
		creds := Credentials{Username: opts.Username, Password: opts.Password}
		if creds.Username == "" {
			creds.Username = getenv(EnvUsername)
		}
		if creds.Password == "" {
			creds.Password = getenv(EnvPassword)
		}
		if creds.Username == "" || creds.Password == "" {
			return Credentials{}, fmt.Errorf("%s and %s must be set", EnvUsername, EnvPassword)
		}
		return creds, nil
	}
	return Credentials{}, fmt.Errorf("unknown credential strategy %q", opts.Strategy)
}

func defaultNetrcPath(getenv func(string) string) string {
	if p := getenv("NETRC"); p != "" {
		return p
	}
	home := getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".netrc")
}
