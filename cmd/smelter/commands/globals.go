package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/smelter-dev/smelter/internal/chain"
	"github.com/smelter-dev/smelter/internal/config"
	"github.com/smelter-dev/smelter/internal/logging"
	"gopkg.in/yaml.v3"
)

// Global CLI flags
var (
	// ProjectDir is the project root holding smelter.toml or smelter.yaml
	ProjectDir string

	// LogFormat and LogLevel configure the global logger
	LogFormat string
	LogLevel  string

	// OutputFormat controls result output: "" (auto), "json", "yaml"
	OutputFormat string
)

// logOutput is where the logger writes; tests swap it
var logOutput io.Writer = os.Stderr

// SetupLogging configures the global logger from the log flags
func SetupLogging() error {
	level, err := logging.ParseLevel(LogLevel)
	if err != nil {
		return err
	}
	return logging.Configure(logOutput, LogFormat, level)
}

// openProject returns the project named by --project, failing when it has
// no config file
func openProject() (*config.Project, *config.ProjectConfig, error) {
	project := config.NewProject(ProjectDir)
	if !project.Exists() {
		return nil, nil, fmt.Errorf("%w in %s (expected %s or %s)",
			config.ErrConfigNotFound, project.Dir, config.ConfigFileTOML, config.ConfigFileYAML)
	}
	cfg, err := project.Read()
	if err != nil {
		return nil, nil, err
	}
	return project, cfg, nil
}

// dialChain connects a client to the node configured for the project
func dialChain(ctx context.Context, cfg *config.ProjectConfig) (*chain.Client, error) {
	url, err := cfg.Connector().URL()
	if err != nil {
		return nil, err
	}
	clientCfg := chain.DefaultClientConfig()
	clientCfg.URL = url

	client := chain.NewClient(clientCfg)
	if err := client.Dial(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// writeStructured writes v as JSON or YAML, depending on --output
func writeStructured(w io.Writer, v interface{}) error {
	switch strings.ToLower(OutputFormat) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", OutputFormat)
	}
}

// structuredOutput reports whether --output asks for machine readable output
func structuredOutput() bool {
	return OutputFormat != ""
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
