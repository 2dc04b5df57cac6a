// Package config provides configuration types, defaults and validation for
// metaportal.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "config.yaml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration options for metaportal.
type Config struct {
	DataFile   string           `mapstructure:"data_file"`
	PublicDir  string           `mapstructure:"public_dir"`
	QrDir      string           `mapstructure:"qr_dir"`
	Verifier   VerifierConfig   `mapstructure:"verifier"`
	Clean      CleanConfig      `mapstructure:"clean"`
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Github     GithubConfig     `mapstructure:"github"`
	Signing    SigningConfig    `mapstructure:"signing"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
	Chains     []Chain          `mapstructure:"chains"`

	// ChainTemplates maps a chain title from the upstream chains list to the
	// local name and color used by update-chains.
	ChainTemplates map[string]ChainTemplate `mapstructure:"chain_templates"`
}

// VerifierConfig names who signs the published QR codes.
type VerifierConfig struct {
	Name      string `mapstructure:"name"`
	PublicKey string `mapstructure:"public_key"` // hex encoded ed25519 key, optional 0x prefix
}

// CleanConfig tunes garbage collection.
type CleanConfig struct {
	// PruneUnsignedDuplicates removes unsigned metadata files whose slot also
	// holds a signed file, even at or above the live version.
	PruneUnsignedDuplicates bool `mapstructure:"prune_unsigned_duplicates"`
}

// DeploymentConfig points at the currently deployed export file.
type DeploymentConfig struct {
	URL string `mapstructure:"url"`
}

// GithubConfig configures runtime downloads from GitHub releases.
type GithubConfig struct {
	APIURL   string `mapstructure:"api_url"`
	TokenEnv string `mapstructure:"token_env"` // name of the env var holding an API token
}

// SigningConfig locates the signing seed.
type SigningConfig struct {
	SeedEnv string `mapstructure:"seed_env"`
	EnvFile string `mapstructure:"env_file"`
}

// Chain is a configured chain. Configuration order is export order.
type Chain struct {
	Name          string   `mapstructure:"name"`
	Title         string   `mapstructure:"title"`
	Color         string   `mapstructure:"color"`
	Icon          string   `mapstructure:"icon"`
	RPCEndpoints  []string `mapstructure:"rpc_endpoints"`
	RelayChain    string   `mapstructure:"relay_chain"`
	GithubRelease string   `mapstructure:"github_release"` // "owner/repo"
	TokenUnit     string   `mapstructure:"token_unit"`
	TokenDecimals *uint8   `mapstructure:"token_decimals"`
	Testnet       bool     `mapstructure:"testnet"`
}

// PortalID is the key of the chain in the export file and the chain part of
// its asset file names.
func (c Chain) PortalID() string {
	if c.RelayChain != "" {
		return c.RelayChain + "-" + c.Name
	}
	return c.Name
}

// DisplayTitle returns the configured title, falling back to the name.
func (c Chain) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Name
}

// ChainTemplate is the local identity of an upstream chain.
type ChainTemplate struct {
	Name  string `mapstructure:"name"`
	Color string `mapstructure:"color"`
}

// Defaults returns a Config with default values. It has no chains.
func Defaults() Config {
	return Config{
		DataFile:  "public/data.json",
		PublicDir: "public",
		QrDir:     "public/qr",
		Verifier: VerifierConfig{
			Name: "Parity",
		},
		Github: GithubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
		},
		Signing: SigningConfig{
			SeedEnv: "SIGNING_SEED",
			EnvFile: ".env",
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// SetDefaults registers Defaults on v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("data_file", d.DataFile)
	v.SetDefault("public_dir", d.PublicDir)
	v.SetDefault("qr_dir", d.QrDir)
	v.SetDefault("verifier.name", d.Verifier.Name)
	v.SetDefault("clean.prune_unsigned_duplicates", d.Clean.PruneUnsignedDuplicates)
	v.SetDefault("github.api_url", d.Github.APIURL)
	v.SetDefault("github.token_env", d.Github.TokenEnv)
	v.SetDefault("signing.seed_env", d.Signing.SeedEnv)
	v.SetDefault("signing.env_file", d.Signing.EnvFile)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads the config file at path (DefaultPath when empty) into a Config,
// resolves relative paths against the file's directory and validates it.
func Load(v *viper.Viper, path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}

	abs, err := filepath.Abs(v.ConfigFileUsed())
	if err != nil {
		return Config{}, fmt.Errorf("resolving config path: %w", err)
	}
	cfg.ResolvePaths(filepath.Dir(abs))

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	log.Debug(log.CatConfig, "Loaded config", "path", abs, "chains", len(cfg.Chains))
	return cfg, nil
}

// ResolvePaths makes the directory and file settings absolute relative to root.
func (c *Config) ResolvePaths(root string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.DataFile = resolve(c.DataFile)
	c.PublicDir = resolve(c.PublicDir)
	c.QrDir = resolve(c.QrDir)
	c.Signing.EnvFile = resolve(c.Signing.EnvFile)
	if c.Tracing.FilePath != "" {
		c.Tracing.FilePath = resolve(c.Tracing.FilePath)
	}
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if cfg.QrDir == "" {
		return fmt.Errorf("%w: qr_dir is required", ErrInvalid)
	}
	if cfg.PublicDir == "" {
		return fmt.Errorf("%w: public_dir is required", ErrInvalid)
	}
	if cfg.DataFile == "" {
		return fmt.Errorf("%w: data_file is required", ErrInvalid)
	}
	if rel, err := filepath.Rel(cfg.PublicDir, cfg.QrDir); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%w: qr_dir %s must be inside public_dir %s", ErrInvalid, cfg.QrDir, cfg.PublicDir)
	}
	if _, err := cfg.Verifier.Key(); err != nil {
		return fmt.Errorf("%w: verifier.public_key: %v", ErrInvalid, err)
	}
	if err := ValidateChains(cfg.Chains); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateChains checks that every portal id is usable as the chain part of
// asset file names and that names and portal ids are unique.
func ValidateChains(chains []Chain) error {
	names := make(map[string]bool, len(chains))
	portals := make(map[string]bool, len(chains))
	for i, chain := range chains {
		if chain.Name == "" {
			return fmt.Errorf("%w: chain %d: name is required", ErrInvalid, i)
		}
		id := chain.PortalID()
		if strings.HasPrefix(id, asset.UnsignedPrefix) {
			return fmt.Errorf("%w: chain %d (%s): portal id must not start with %q", ErrInvalid, i, id, asset.UnsignedPrefix)
		}
		if strings.ContainsAny(id, "./\\ ") || strings.HasPrefix(id, "-") {
			return fmt.Errorf("%w: chain %d (%s): portal id must be a plain file name segment", ErrInvalid, i, id)
		}
		if id != strings.ToLower(id) {
			return fmt.Errorf("%w: chain %d (%s): portal id must be lower case", ErrInvalid, i, id)
		}
		if names[chain.Name] {
			return fmt.Errorf("%w: chain %d (%s): duplicate name", ErrInvalid, i, chain.Name)
		}
		names[chain.Name] = true
		if portals[chain.PortalID()] {
			return fmt.Errorf("%w: chain %d (%s): duplicate portal id %s", ErrInvalid, i, chain.Name, chain.PortalID())
		}
		portals[chain.PortalID()] = true
		if len(chain.RPCEndpoints) == 0 {
			return fmt.Errorf("%w: chain %d (%s): at least one rpc endpoint is required", ErrInvalid, i, chain.Name)
		}
		if chain.GithubRelease != "" {
			owner, repo, ok := strings.Cut(chain.GithubRelease, "/")
			if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
				return fmt.Errorf("%w: chain %d (%s): github_release must be owner/repo, got %q", ErrInvalid, i, chain.Name, chain.GithubRelease)
			}
		}
		if (chain.TokenUnit == "") != (chain.TokenDecimals == nil) {
			return fmt.Errorf("%w: chain %d (%s): token_unit and token_decimals must be set together", ErrInvalid, i, chain.Name)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(cfg tracing.Config) error {
	if cfg.SampleRate < 0.0 || cfg.SampleRate > 1.0 {
		return fmt.Errorf("%w: tracing.sample_rate must be between 0.0 and 1.0, got %v", ErrInvalid, cfg.SampleRate)
	}

	switch cfg.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("%w: tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", ErrInvalid, cfg.Exporter)
	}

	if cfg.Enabled {
		if cfg.Exporter == tracing.ExporterFile && cfg.FilePath == "" {
			return fmt.Errorf("%w: tracing.file_path is required when exporter is \"file\"", ErrInvalid)
		}
		if cfg.Exporter == tracing.ExporterOTLP && cfg.OTLPEndpoint == "" {
			return fmt.Errorf("%w: tracing.otlp_endpoint is required when exporter is \"otlp\"", ErrInvalid)
		}
	}
	return nil
}

// DecodeHex decodes a hex string with an optional 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// Key decodes the verifier public key. It returns nil when none is
// configured.
func (v VerifierConfig) Key() (ed25519.PublicKey, error) {
	if v.PublicKey == "" {
		return nil, nil
	}
	b, err := DecodeHex(v.PublicKey)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// PortalIDs returns configured portal ids in configuration order.
func (c Config) PortalIDs() []string {
	ids := make([]string, 0, len(c.Chains))
	for _, chain := range c.Chains {
		ids = append(ids, chain.PortalID())
	}
	return ids
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# metaportal configuration
# Relative paths are resolved against the directory of this file.

data_file: public/data.json   # export snapshot consumed by the portal
public_dir: public            # asset paths in the export are relative to this
qr_dir: public/qr             # flat directory of QR assets

verifier:
  name: Parity
  # public_key: 0x...         # ed25519 key required by "verify" and signedBy

clean:
  # Remove unsigned metadata files that already have a signed twin.
  prune_unsigned_duplicates: false

# deployment:
#   url: https://metadata.example.org   # base URL the portal is served from

signing:
  seed_env: SIGNING_SEED      # hex ed25519 seed, read from the environment
  env_file: .env              # optional dotenv file loaded before signing

# tracing:
#   enabled: true
#   exporter: file
#   file_path: traces/traces.jsonl

chains:
  - name: polkadot
    title: Polkadot
    color: "#e6007a"
    rpc_endpoints:
      - wss://rpc.polkadot.io
    github_release: paritytech/polkadot
  # - name: statemint
  #   relay_chain: polkadot
  #   color: "#86e62a"
  #   rpc_endpoints: [wss://statemint-rpc.polkadot.io]
  #   token_unit: DOT
  #   token_decimals: 10
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := writeFileAtomic(configPath, []byte(DefaultConfigTemplate())); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
