package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".tracecore"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Tool is the tool name suppressions must carry.
	Tool string `yaml:"tool"`

	// ErrorKinds lists the kinds of error scripts may report.
	ErrorKinds []string `yaml:"error-kinds"`

	// Suppressions is the list of suppression files loaded at startup.
	Suppressions []string `yaml:"suppressions"`

	// DebugInfoDirectories is the list of directories used to resolve
	// external debug info files referenced by a .gnu_debuglink section.
	DebugInfoDirectories []string `yaml:"debug-info-directories"`

	// Verbosity controls how chatty diagnostics are, 1 is the default.
	Verbosity int `yaml:"verbosity"`

	// XML selects the structured output format for errors.
	XML bool `yaml:"xml"`

	// ShowBelowMain keeps printing stack frames below main.
	ShowBelowMain bool `yaml:"show-below-main"`

	// NumCallers is the maximum number of frames collected per trace.
	NumCallers int `yaml:"num-callers"`

	// MaxStackFrame is the largest distance between stack pointer and
	// stack top the unwinder will walk before giving up.
	MaxStackFrame uint64 `yaml:"max-stackframe"`

	// ErrorLimit enables the thresholds below.
	ErrorLimit bool `yaml:"error-limit"`

	// ErrorsSlowlyAfter is the number of distinct shown errors after which
	// comparisons switch to low resolution.
	ErrorsSlowlyAfter int `yaml:"errors-slowly-after"`

	// ErrorsShownLimit is the number of distinct shown errors after which
	// no further errors are collected.
	ErrorsShownLimit int `yaml:"errors-shown-limit"`

	// ErrorsFoundLimit is the number of total errors found after which no
	// further errors are collected.
	ErrorsFoundLimit int `yaml:"errors-found-limit"`

	// Resolution is how closely stack traces are compared to find
	// duplicate errors: "low", "med" or "high".
	Resolution string `yaml:"resolution"`

	// GenSuppressions is one of "no", "yes" or "all".
	GenSuppressions string `yaml:"gen-suppressions"`

	// DBAttach asks whether to attach a debugger after each shown error.
	DBAttach bool `yaml:"db-attach"`

	// DBCommand is the debugger command line, %f is replaced with the
	// executable and %p with the pid.
	DBCommand string `yaml:"db-command"`

	// DataSyms collects object symbols in addition to function symbols.
	DataSyms bool `yaml:"data-syms"`

	// AllowWritableText accepts writable text mappings when loading debug info.
	AllowWritableText bool `yaml:"allow-writable-text"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Tool:                 "tracecore",
		ErrorKinds:           []string{"Addr", "Cond", "Free", "Leak", "Param"},
		DebugInfoDirectories: []string{"/usr/lib/debug"},
		Verbosity:            1,
		NumCallers:           12,
		MaxStackFrame:        2000000,
		ErrorLimit:           true,
		ErrorsSlowlyAfter:    100,
		ErrorsShownLimit:     1000,
		ErrorsFoundLimit:     10000000,
		Resolution:           "med",
		GenSuppressions:      "no",
		DBCommand:            "gdb -nw %f %p",
	}
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return Default()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return Default()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return Default()
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := decode(f)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return Default()
	}
	return c
}

func decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for tracecore.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Tool name used in suppressions, as in "tracecore:Leak".
# tool: tracecore

# Error kinds known to the tool.
# error-kinds: ["Addr", "Cond", "Free", "Leak", "Param"]

# Suppression files loaded at startup.
suppressions: []

# List of directories to use when searching for separate debug info files.
debug-info-directories: ["/usr/lib/debug"]

# Diagnostic verbosity, 0 is quiet, 1 normal, 2 and above verbose.
# verbosity: 1

# Print errors as XML.
# xml: false

# Keep printing stack frames below main.
# show-below-main: false

# Maximum number of callers collected for each error.
# num-callers: 12

# Stacks larger than this many bytes are not unwound.
# max-stackframe: 2000000

# Stop collecting errors after too many have been seen.
# error-limit: true
# errors-slowly-after: 100
# errors-shown-limit: 1000
# errors-found-limit: 10000000

# Compare the stack traces of errors at low (2 frames), med (4 frames)
# or high (whole trace) resolution.
# resolution: med

# Print a suppression for each error: no, yes (ask) or all.
# gen-suppressions: no

# Offer to attach a debugger after each error.
# db-attach: false
# db-command: "gdb -nw %f %p"

# Collect data symbols in addition to functions.
# data-syms: false

# Load debug info for writable text mappings.
# allow-writable-text: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
