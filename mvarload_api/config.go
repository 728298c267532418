package mvarload_api

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

// Environment variables:
//   MVARLOAD_DB_DRIVER=mysql|postgres|sqlite
//   MVARLOAD_DB_DSN=<dsn>
//   MVARLOAD_LOG_MODE=prod|dev

// Read the configuration file, apply the environment and the command line on top and validate
func ReadConfig(Cctx *cli.Context) (*Config, error) {
	config, err := LoadConfig(Cctx.String("config"))
	if err != nil {
		return nil, err
	}
	config.applyEnv()
	config.applyFlags(Cctx)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfig reads a YAML config file. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		configFile, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		if err := yaml.Unmarshal(configFile, &config); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	config.defineMissing()
	return &config, nil
}

// Define all missing fields
func (config *Config) defineMissing() {
	if config.Database.Driver == "" {
		config.Database.Driver = string(DialectSQLite)
	}
	if config.Database.DSN == "" && config.Database.Driver == string(DialectSQLite) {
		config.Database.DSN = "mvar.db"
	}
	if config.Database.MaxInParams <= 0 {
		config.Database.MaxInParams = 900
	}

	if config.Import.BatchSize <= 0 {
		config.Import.BatchSize = 10000
	}
	if config.Import.Assembly == "" {
		config.Import.Assembly = string(MM10)
	}
	if config.Import.Source == "" {
		config.Import.Source = "Sanger_v7"
	}
	if config.Import.MaxLineBytes <= 0 {
		config.Import.MaxLineBytes = defaultMaxLineBytes
	}
	if config.Import.CacheSize <= 0 {
		config.Import.CacheSize = 50000
	}

	if config.Staging.Transcripts == "" {
		config.Staging.Transcripts = "variant_transcript_temp"
	}
	if config.Staging.Genotypes == "" {
		config.Staging.Genotypes = "genotype_temp"
	}
	if config.Staging.AssemblyXref == "" {
		config.Staging.AssemblyXref = "assembly_xref_temp"
	}

	if config.Log.Mode == "" {
		config.Log.Mode = "dev"
	}
}

func (config *Config) applyEnv() {
	if driver := os.Getenv("MVARLOAD_DB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dsn := os.Getenv("MVARLOAD_DB_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if mode := os.Getenv("MVARLOAD_LOG_MODE"); mode != "" {
		config.Log.Mode = mode
	}
}

func (config *Config) applyFlags(Cctx *cli.Context) {
	if Cctx.IsSet("driver") {
		config.Database.Driver = Cctx.String("driver")
	}
	if Cctx.IsSet("dsn") {
		config.Database.DSN = Cctx.String("dsn")
	}
	if Cctx.IsSet("log-mode") {
		config.Log.Mode = Cctx.String("log-mode")
	}
	if Cctx.IsSet("metrics-file") {
		config.Metrics.File = Cctx.String("metrics-file")
	}
}

// Validate checks the values that cannot be defaulted.
func (config *Config) Validate() error {
	config.Database.Driver = strings.ToLower(config.Database.Driver)
	if _, err := ParseDialect(config.Database.Driver); err != nil {
		return err
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database dsn required for driver %s", config.Database.Driver)
	}
	if _, err := ParseAssembly(config.Import.Assembly); err != nil {
		return err
	}
	for _, table := range []string{config.Staging.Transcripts, config.Staging.Genotypes, config.Staging.AssemblyXref} {
		if !validIdentifier(table) {
			return fmt.Errorf("invalid staging table name %q", table)
		}
	}
	return nil
}

// ParseAssembly accepts mm9, mm10 and mm39 as well as their GRCm labels.
func ParseAssembly(value string) (Assembly, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "mm9", "grcm37":
		return MM9, nil
	case "mm10", "grcm38":
		return MM10, nil
	case "mm39", "grcm39":
		return MM39, nil
	}
	return "", fmt.Errorf("unsupported assembly %q, must be one of: mm9, mm10, mm39", value)
}

// Label is the assembly name stored on variant rows.
func (a Assembly) Label() string {
	switch a {
	case MM9:
		return "GRCm37"
	case MM10:
		return "GRCm38"
	case MM39:
		return "GRCm39"
	}
	return string(a)
}

func ParseImputation(value int) (Imputation, error) {
	if value < int(Direct) || value > int(ExternallyImputed) {
		return 0, fmt.Errorf("invalid imputation code %d, must be 0, 1 or 2", value)
	}
	return Imputation(value), nil
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
