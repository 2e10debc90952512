package coherence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Rule is a single CEL coherence rule over the label. The expression must
// evaluate to a boolean; false records a violation.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// RuleBundle is a versioned collection of coherence rules, loadable from
// JSON files so policy teams can tighten label checks without a code
// deployment.
type RuleBundle struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	Rules     []Rule    `json:"rules"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash,omitempty"`
}

// LoadBundleFile loads one rule bundle from a JSON file. The bundle hash is
// computed over the file bytes for audit reference.
func LoadBundleFile(path string) (*RuleBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	var bundle RuleBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", filepath.Base(path), err)
	}
	if bundle.Name == "" {
		base := filepath.Base(path)
		bundle.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if bundle.Version == "" {
		return nil, fmt.Errorf("bundle %s: version is required", bundle.Name)
	}

	seen := make(map[string]bool, len(bundle.Rules))
	for i, r := range bundle.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("bundle %s: rule[%d] has no id", bundle.Name, i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("bundle %s: duplicate rule id %q", bundle.Name, r.ID)
		}
		seen[r.ID] = true
		if r.Enabled && r.Expression == "" {
			return nil, fmt.Errorf("bundle %s: rule %q enabled with empty expression", bundle.Name, r.ID)
		}
	}

	sum := sha256.Sum256(data)
	bundle.Hash = "sha256:" + hex.EncodeToString(sum[:])
	return &bundle, nil
}

// LoadBundleDir loads every .json bundle in a directory, sorted by file
// name for deterministic rule ordering.
func LoadBundleDir(dir string) ([]*RuleBundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bundle dir %s: %w", dir, err)
	}

	var bundles []*RuleBundle
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		bundle, err := LoadBundleFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}
