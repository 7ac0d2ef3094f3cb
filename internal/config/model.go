// internal/config/model.go
//
// Typed configuration model for Intake.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/intake.yaml`                       – primary static file,
//   • `INTAKE_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs—only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "path/filepath"

//
// API section
//

// API holds the form-service endpoint the wizard client talks to.
type API struct {
	BaseURL        string `koanf:"base_url" validate:"required,url"`
	Token          string `koanf:"token"`
	TimeoutSeconds int    `koanf:"timeout_seconds" validate:"gte=0"`
}

//
// Devserver section
//

// DevServer holds the reference API server tunables.
//
// The DSN *template* stays in YAML so operators can tweak host, port, or
// flags without touching Vault.  The *secret* portion (`Password`) is
// stored in Vault and injected at runtime, keeping credentials out of flat
// files and git history.
type DevServer struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	DSN        string `koanf:"dsn"         validate:"required"`
	Password   string `koanf:"password"`
}

//
// Logs section
//

// Logs points the rotating file logger somewhere other than the default
// `<root>/logs`.  Empty means the default.
type Logs struct {
	Dir string `koanf:"dir"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or INTAKE_ROOT override) so later code can
// build absolute file paths, such as the log directory.
type Paths struct {
	Root string // INTAKE_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	API       API       `koanf:"api"`
	DevServer DevServer `koanf:"devserver"`
	Logs      Logs      `koanf:"logs"`
	Paths     Paths     `koanf:"-"` // not loaded from config files
}

// LogDir resolves the log directory: the configured override, or the
// `logs` directory under the runtime root.
func (c *Config) LogDir() string {
	if c.Logs.Dir != "" {
		return c.Logs.Dir
	}
	return filepath.Join(c.Paths.Root, "logs")
}
