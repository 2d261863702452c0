package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirectory is the hidden metadata directory inside a project
	ProjectDirectory = ".smelter"

	// ConfigFileTOML and ConfigFileYAML are the accepted project config files,
	// checked in this order
	ConfigFileTOML = "smelter.toml"
	ConfigFileYAML = "smelter.yaml"

	// ProtocolRPC and ProtocolWS are the supported connector protocols
	ProtocolRPC = "rpc"
	ProtocolWS  = "ws"
)

// ErrConfigNotFound is returned when a project has no config file
var ErrConfigNotFound = errors.New("project config not found")

// ProjectConfig represents the complete project configuration
type ProjectConfig struct {
	Sources    SourcesConfig       `toml:"sources" yaml:"sources"`
	Compiler   *CmdExecutionConfig `toml:"compiler,omitempty" yaml:"compiler,omitempty"`
	Blockchain *BlockchainConfig   `toml:"blockchain,omitempty" yaml:"blockchain,omitempty"`
	Deployment *DeploymentManifest `toml:"deployment,omitempty" yaml:"deployment,omitempty"`
}

// SourcesConfig locates contract sources and compiled artifacts
type SourcesConfig struct {
	Artifacts      string   `toml:"artifacts" yaml:"artifacts"`
	SmartContracts []string `toml:"smart_contracts" yaml:"smart_contracts"`
}

// CmdExecutionConfig describes an external command and its options
type CmdExecutionConfig struct {
	Cmd     string   `toml:"cmd,omitempty" yaml:"cmd,omitempty"`
	Options []string `toml:"options,omitempty" yaml:"options,omitempty"`
}

// BlockchainConfig contains node and connector settings
type BlockchainConfig struct {
	Cmd       string           `toml:"cmd,omitempty" yaml:"cmd,omitempty"`
	Options   []string         `toml:"options,omitempty" yaml:"options,omitempty"`
	Connector *ConnectorConfig `toml:"connector,omitempty" yaml:"connector,omitempty"`
}

// ConnectorConfig tells the connector how to reach the node
type ConnectorConfig struct {
	Protocol string `toml:"protocol" yaml:"protocol"` // rpc or ws
	Host     string `toml:"host" yaml:"host"`
	Port     string `toml:"port" yaml:"port"`
}

// DefaultConnectorConfig returns the default connector configuration
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		Protocol: ProtocolRPC,
		Host:     "localhost",
		Port:     "8545",
	}
}

// URL returns the dial URL for the connector. localhost is rewritten to
// 127.0.0.1 so IPv6-first resolvers do not miss dev nodes bound to IPv4.
func (c ConnectorConfig) URL() (string, error) {
	host := c.Host
	if host == "localhost" {
		host = "127.0.0.1"
	}
	switch c.Protocol {
	case "", ProtocolRPC:
		return fmt.Sprintf("http://%s:%s", host, c.Port), nil
	case ProtocolWS:
		return fmt.Sprintf("ws://%s:%s", host, c.Port), nil
	default:
		return "", fmt.Errorf("unsupported connector protocol: %s", c.Protocol)
	}
}

// DeploymentManifest is the deployment section of the project config
type DeploymentManifest struct {
	GasPrice           *uint64        `toml:"gas_price,omitempty" yaml:"gas_price,omitempty"`
	GasLimit           *uint64        `toml:"gas_limit,omitempty" yaml:"gas_limit,omitempty"`
	TxConfirmations    *uint64        `toml:"tx_confirmations,omitempty" yaml:"tx_confirmations,omitempty"`
	TxTimeoutSecs      uint64         `toml:"tx_timeout_secs,omitempty" yaml:"tx_timeout_secs,omitempty"` // 0 waits until the context ends
	TrackingEnabled    *bool          `toml:"tracking_enabled,omitempty" yaml:"tracking_enabled,omitempty"`
	Parallel           *bool          `toml:"parallel,omitempty" yaml:"parallel,omitempty"`
	MaxConstructorArgs int            `toml:"max_constructor_args,omitempty" yaml:"max_constructor_args,omitempty"` // 0 = no cap
	SmartContracts     []ContractSpec `toml:"smart_contracts" yaml:"smart_contracts"`
}

// ContractSpec is one deployable unit of the manifest
type ContractSpec struct {
	Name         string    `toml:"name" yaml:"name"`
	Address      string    `toml:"address,omitempty" yaml:"address,omitempty"`         // preset, never deployed
	InstanceOf   string    `toml:"instance_of,omitempty" yaml:"instance_of,omitempty"` // reuse another artifact pair
	Args         []ArgSpec `toml:"args,omitempty" yaml:"args,omitempty"`
	GasPrice     *uint64   `toml:"gas_price,omitempty" yaml:"gas_price,omitempty"`
	GasLimit     *uint64   `toml:"gas_limit,omitempty" yaml:"gas_limit,omitempty"`
	AbiPath      string    `toml:"abi_path,omitempty" yaml:"abi_path,omitempty"`
	BytecodePath string    `toml:"bytecode_path,omitempty" yaml:"bytecode_path,omitempty"`
}

// ArtifactName returns the artifact stem the spec deploys
func (s ContractSpec) ArtifactName() string {
	if s.InstanceOf != "" {
		return s.InstanceOf
	}
	return s.Name
}

// References returns the names referenced through $name address arguments,
// in argument order
func (s ContractSpec) References() []string {
	var refs []string
	for _, arg := range s.Args {
		if ref, ok := arg.Reference(); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ArgSpec is an untyped constructor argument
type ArgSpec struct {
	Value string `toml:"value" yaml:"value"`
	Kind  string `toml:"kind" yaml:"kind"` // ABI type name
}

// Reference reports the contract name an address argument points at
func (a ArgSpec) Reference() (string, bool) {
	if a.Kind != "address" || !strings.HasPrefix(a.Value, "$") {
		return "", false
	}
	return a.Value[1:], true
}

// Project is a project directory with its config file. Read always goes
// back to disk so edits are picked up between calls.
type Project struct {
	Dir        string
	ConfigFile string
}

// NewProject locates the config file of the project in dir
func NewProject(dir string) *Project {
	dir = expandPath(dir)
	configFile := filepath.Join(dir, ConfigFileTOML)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileYAML)); err == nil {
			configFile = filepath.Join(dir, ConfigFileYAML)
		}
	}
	return &Project{Dir: dir, ConfigFile: configFile}
}

// Exists reports whether the project config file exists
func (p *Project) Exists() bool {
	_, err := os.Stat(p.ConfigFile)
	return err == nil
}

// MetadataDir returns the hidden project metadata directory
func (p *Project) MetadataDir() string {
	return filepath.Join(p.Dir, ProjectDirectory)
}

// Resolve makes a project-relative path absolute
func (p *Project) Resolve(path string) string {
	path = expandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Dir, path)
}

// Read loads the project configuration from disk
func (p *Project) Read() (*ProjectConfig, error) {
	return Load(p.ConfigFile)
}

// Load loads a project configuration file, TOML or YAML by extension
func Load(path string) (*ProjectConfig, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ProjectConfig{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path, TOML or YAML by extension
func (c *ProjectConfig) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isYAML(path) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = out
	} else {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. Per-contract checks that map to
// deployment errors (artifact paths, preset addresses) are left to the
// deployer so they surface with the contract name.
func (c *ProjectConfig) Validate() error {
	if c.Sources.Artifacts == "" {
		return fmt.Errorf("sources.artifacts is required")
	}

	if c.Blockchain != nil && c.Blockchain.Connector != nil {
		if _, err := c.Blockchain.Connector.URL(); err != nil {
			return err
		}
	}

	if c.Deployment != nil {
		if c.Deployment.MaxConstructorArgs < 0 {
			return fmt.Errorf("deployment.max_constructor_args must not be negative")
		}
		for i, spec := range c.Deployment.SmartContracts {
			if spec.Name == "" {
				return fmt.Errorf("deployment.smart_contracts[%d]: name is required", i)
			}
		}
	}

	return nil
}

// Connector returns the configured connector settings, or defaults
func (c *ProjectConfig) Connector() ConnectorConfig {
	if c.Blockchain == nil || c.Blockchain.Connector == nil {
		return DefaultConnectorConfig()
	}
	cc := *c.Blockchain.Connector
	defaults := DefaultConnectorConfig()
	if cc.Protocol == "" {
		cc.Protocol = defaults.Protocol
	}
	if cc.Host == "" {
		cc.Host = defaults.Host
	}
	if cc.Port == "" {
		cc.Port = defaults.Port
	}
	return cc
}

// ValidateAddress checks that s is a 0x-prefixed 20-byte hex address
func ValidateAddress(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("must start with 0x, got %q", s)
	}
	hexPart := s[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("must be 42 characters (0x + 40 hex), got %d", len(s))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("contains invalid hex characters: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
