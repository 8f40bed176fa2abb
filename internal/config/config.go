// Package config loads PurifierConfig/LinterConfig from a YAML file on
// disk, then applies environment-variable overrides on top — the same
// two-layer approach (file defaults, env overrides win) used throughout
// the rest of the pipeline's tooling.
package config

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// PurifierConfig controls which rule families Purify runs. Field names
// mirror the Skip*-means-enabled convention purifier.Options uses: a
// YAML/env boolean that defaults true is awkward to express with
// envconfig (its zero value is always false), so the toggles are
// inverted — the zero Config{} means "everything on", matching every
// other Options literal in the tree.
type PurifierConfig struct {
	SkipDet   bool `yaml:"skip_det" envconfig:"BASHRS_PURIFIER_SKIP_DET"`
	SkipIdem  bool `yaml:"skip_idem" envconfig:"BASHRS_PURIFIER_SKIP_IDEM"`
	SkipSec   bool `yaml:"skip_sec" envconfig:"BASHRS_PURIFIER_SKIP_SEC"`
	MaxPasses int  `yaml:"max_passes" envconfig:"BASHRS_PURIFIER_MAX_PASSES"`

	SkipPermissionChecks bool `yaml:"skip_permission_checks" envconfig:"BASHRS_PURIFIER_SKIP_PERMISSION_CHECKS"`
	SkipTmpRewrite       bool `yaml:"skip_tmp_rewrite" envconfig:"BASHRS_PURIFIER_SKIP_TMP_REWRITE"`
	SkipTimestampParam   bool `yaml:"skip_timestamp_param" envconfig:"BASHRS_PURIFIER_SKIP_TIMESTAMP_PARAM"`
}

// There is deliberately no toggle for expansion quoting: the emitter
// quotes every expansion unconditionally, since an unquoted expansion is
// never POSIX-safe.

// LinterConfig controls which diagnostic codes the linter reports.
type LinterConfig struct {
	Include []string `yaml:"include" envconfig:"BASHRS_LINTER_INCLUDE"`
	Exclude []string `yaml:"exclude" envconfig:"BASHRS_LINTER_EXCLUDE"`
}

// Config is the top-level document a .bashrs.yaml file holds.
type Config struct {
	Purifier PurifierConfig `yaml:"purifier"`
	Linter   LinterConfig   `yaml:"linter"`
}

// Default returns the zero-value configuration: every rule family
// enabled, no include/exclude filters, default pass budget.
func Default() Config {
	return Config{Purifier: PurifierConfig{MaxPasses: 8}}
}

// Load reads path (if it exists) as YAML over the default config, then
// applies BASHRS_* environment overrides. A missing file is not an error;
// env-only configuration is supported for CI use.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := envconfig.Process("", &cfg.Purifier); err != nil {
		return cfg, err
	}
	if err := envconfig.Process("", &cfg.Linter); err != nil {
		return cfg, err
	}
	return cfg, nil
}
