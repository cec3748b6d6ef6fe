// Package cfg defines the typed configuration surface for the lcfs
// daemon and binds it to command-line flags via pflag/viper (hand-written
// here rather than generated, since lcfs's flag surface is small enough
// not to need a generator).
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a single mount.
type Config struct {
	Device string `yaml:"device"`

	Mount MountConfig `yaml:"mount"`

	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// MountConfig controls how the block device is opened and the filesystem
// is exposed.
type MountConfig struct {
	ReadOnly bool `yaml:"read-only"`

	// SnapshotRoot is the path, relative to the mounted root, under which
	// snapshot layers are exposed as subdirectories. Empty disables it.
	SnapshotRoot string `yaml:"snapshot-root"`

	Foreground bool `yaml:"foreground"`

	// BlockSize overrides the device block size, validated against the
	// engine's compiled-in block size rather than actually resizing it.
	// Zero keeps the compiled default.
	BlockSize int `yaml:"block-size"`

	// InodeCacheSize overrides the bucket count of every layer's inode
	// hash table. Zero keeps the engine's compiled default.
	InodeCacheSize int `yaml:"inode-cache-size"`
}

// MetricsConfig controls the optional Prometheus scrape endpoint.
type MetricsConfig struct {
	// Addr is the listen address for the metrics HTTP server, e.g.
	// ":9090". Empty disables the metrics server entirely.
	Addr string `yaml:"addr"`
}

// LoggingConfig controls where and how severely lcfs logs.
type LoggingConfig struct {
	FilePath string `yaml:"file-path"`

	Format string `yaml:"format"`

	Severity string `yaml:"severity"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig mirrors lumberjack's own rotation knobs.
type LogRotateConfig struct {
	MaxFileSizeMB int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

// DebugConfig exposes invariant-checking knobs useful in tests and manual
// debugging sessions, never in a production mount.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// GetDefaultLoggingConfig returns lcfs's default logging settings. Config
// is not seeded from it: BindFlags's flag defaults supply the format and
// severity, and the log-rotate fields have no flags.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: "INFO",
		Format:   "text",
		LogRotate: LogRotateConfig{
			MaxFileSizeMB:   512,
			BackupFileCount: 10,
			Compress:        true,
		},
	}
}

// BindFlags registers every Config field as a flag on flagSet and binds it
// to viper under the matching dotted key, so Config can later be populated
// with viper.Unmarshal.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("device", "", "", "Path to the backing block device or file.")
	if err = viper.BindPFlag("device", flagSet.Lookup("device")); err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Mount the filesystem read-only.")
	if err = viper.BindPFlag("mount.read-only", flagSet.Lookup("read-only")); err != nil {
		return err
	}

	flagSet.StringP("snapshot-root", "", "", "Path under which snapshot layers are exposed as subdirectories.")
	if err = viper.BindPFlag("mount.snapshot-root", flagSet.Lookup("snapshot-root")); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "f", false, "Run in the foreground. lcfs mount always runs in the foreground, so this flag has no effect.")
	if err = viper.BindPFlag("mount.foreground", flagSet.Lookup("foreground")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file. Logs to stderr when empty.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum severity logged to --log-file: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF. Logging to stderr stays at INFO.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Exit when internal invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.IntP("block-size", "", 0, "Override the device block size; must match the engine's compiled block size. 0 uses the compiled default.")
	if err = viper.BindPFlag("mount.block-size", flagSet.Lookup("block-size")); err != nil {
		return err
	}

	flagSet.IntP("inode-cache-size", "", 0, "Override the bucket count of each layer's inode cache. 0 uses the compiled default.")
	if err = viper.BindPFlag("mount.inode-cache-size", flagSet.Lookup("inode-cache-size")); err != nil {
		return err
	}

	flagSet.StringP("metrics-addr", "", "", "Listen address for the Prometheus metrics endpoint, e.g. :9090. Empty disables it.")
	if err = viper.BindPFlag("metrics.addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	return nil
}
