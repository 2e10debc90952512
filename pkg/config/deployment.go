package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is a site-specific configuration overlay: which policy
// the site serves, the resolving authority, registered COIs, and release
// constraints. Profiles are authored YAML, one per site.
type DeploymentProfile struct {
	Name          string              `yaml:"name" json:"name"`
	Site          string              `yaml:"site" json:"site"`
	Authority     string              `yaml:"authority,omitempty" json:"authority,omitempty"`
	PolicyPath    string              `yaml:"policy_path" json:"policy_path"`
	TablePath     string              `yaml:"table_path,omitempty" json:"table_path,omitempty"`
	RulesDir      string              `yaml:"rules_dir,omitempty" json:"rules_dir,omitempty"`
	COICatalog    []string            `yaml:"coi_catalog,omitempty" json:"coi_catalog,omitempty"`
	Releasability ReleasabilityConfig `yaml:"releasability" json:"releasability"`
	Sweep         SweepConfig         `yaml:"sweep" json:"sweep"`
}

// ReleasabilityConfig constrains which country codes a site accepts in
// releasable-to lists.
type ReleasabilityConfig struct {
	Mode      string   `yaml:"mode" json:"mode"` // "open" | "allowlist"
	Allowlist []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
}

// SweepConfig schedules the stored-label data quality sweep.
type SweepConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	PageSize        int  `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	IntervalMinutes int  `yaml:"interval_minutes,omitempty" json:"interval_minutes,omitempty"`
}

// LoadDeployment loads a deployment profile from a YAML file. A missing
// policy_path is fatal: a site without a policy cannot mark anything.
func LoadDeployment(path string) (*DeploymentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load deployment profile: %w", err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse deployment profile %s: %w", path, err)
	}

	if profile.Name == "" {
		base := filepath.Base(path)
		profile.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if profile.PolicyPath == "" {
		return nil, fmt.Errorf("deployment profile %s: policy_path is required", profile.Name)
	}

	return &profile, nil
}

// LoadSiteProfiles loads all site_*.yaml profiles from a directory, keyed
// by site code.
func LoadSiteProfiles(dir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "site_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		profile, err := LoadDeployment(path)
		if err != nil {
			return nil, err
		}
		if profile.Site == "" {
			// Extract site from filename: site_shape.yaml -> shape
			base := filepath.Base(path)
			profile.Site = strings.TrimSuffix(strings.TrimPrefix(base, "site_"), ".yaml")
		}
		profiles[profile.Site] = profile
	}

	return profiles, nil
}

// ReleasableTo reports whether the site accepts code in a releasable-to
// list. Open mode accepts any code; allowlist mode accepts only listed ones.
func (p *DeploymentProfile) ReleasableTo(code string) bool {
	if p.Releasability.Mode != "allowlist" {
		return true
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range p.Releasability.Allowlist {
		if strings.ToUpper(c) == code {
			return true
		}
	}
	return false
}
