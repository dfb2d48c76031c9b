package main

import (
	"fmt"
	"os"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// appLogger is used for logging events in our commands.
var appLogger = log15.New()

// Duration wraps time.Duration so settings files can say "20m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Settings are the operator-side knobs; they describe how to reach the stack,
// not what the stack contains (that lives in the Pulumi config files).
type Settings struct {
	Stack     string   `yaml:"stack"`
	WorkDir   string   `yaml:"workDir"`
	Region    string   `yaml:"region"`
	Namespace string   `yaml:"namespace"`
	UIService string   `yaml:"uiService"`
	Timeout   Duration `yaml:"timeout"`
}

var settingsFile string
var settings Settings

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "retailctl",
	Short: "retailctl manages the retail store EKS deployment.",
	Long: `retailctl manages the EKS cluster and retail store sample application
defined by this repository.

Preview the pending infrastructure changes:
$ retailctl preview

Deploy everything:
$ retailctl up

Then check that the cluster and application are actually serving:
$ retailctl status`,
}

// Execute adds all child commands to the root command and runs it. Called by
// main.main() once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		die(err.Error())
	}
}

func init() {
	appLogger.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StderrHandler))

	RootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "retailctl.yaml", "settings file to load, if present")

	cobra.OnInitialize(initSettings)
}

// initSettings loads the settings file if it exists and fills in defaults.
func initSettings() {
	settings = Settings{
		Stack:     "dev",
		WorkDir:   ".",
		Namespace: "retail-store",
		UIService: "ui",
		Timeout:   Duration(20 * time.Minute),
	}
	data, err := os.ReadFile(settingsFile)
	if err != nil {
		if !os.IsNotExist(err) {
			die("could not read settings file %s: %s", settingsFile, err)
		}
		return
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		die("could not parse settings file %s: %s", settingsFile, err)
	}
}

// die logs the given message at error level and exits non-zero.
func die(msg string, a ...interface{}) {
	appLogger.Error(fmt.Sprintf(msg, a...))
	os.Exit(1)
}
