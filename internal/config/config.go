package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Defaults applied by the Get* accessors when a field is not set.
const (
	DefaultLedgerFile       = "plotmerge.db"
	DefaultResultFile       = "result.json"
	DefaultMergedSuffix     = "_merged.las"
	DefaultPreviewMaxPoints = 50000
)

// DefaultExtensions lists the source file extensions merged by default.
var DefaultExtensions = []string{".las"}

// MergeConfig holds optional overrides for a merge run. Every field is a
// pointer so a partial JSON file only overrides what it names; the Get*
// methods supply defaults for the rest.
type MergeConfig struct {
	// Working space artefacts
	LedgerFile *string `json:"ledger_file,omitempty"`
	ResultFile *string `json:"result_file,omitempty"`

	// Source selection
	MergedSuffix         *string  `json:"merged_suffix,omitempty"`
	AcceptableExtensions []string `json:"acceptable_extensions,omitempty"`

	// Output
	PreviewMaxPoints *int    `json:"preview_max_points,omitempty"`
	SystemIdentifier *string `json:"system_identifier,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyMergeConfig returns a MergeConfig with all fields unset.
func EmptyMergeConfig() *MergeConfig {
	return &MergeConfig{}
}

// DefaultMergeConfig returns a MergeConfig with every field populated from
// the package defaults.
func DefaultMergeConfig() *MergeConfig {
	return &MergeConfig{
		LedgerFile:           ptrString(DefaultLedgerFile),
		ResultFile:           ptrString(DefaultResultFile),
		MergedSuffix:         ptrString(DefaultMergedSuffix),
		AcceptableExtensions: append([]string(nil), DefaultExtensions...),
		PreviewMaxPoints:     ptrInt(DefaultPreviewMaxPoints),
	}
}

// LoadMergeConfig loads a MergeConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadMergeConfig(path string) (*MergeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMergeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *MergeConfig) Validate() error {
	for name, v := range map[string]*string{"ledger_file": c.LedgerFile, "result_file": c.ResultFile} {
		if v == nil {
			continue
		}
		if *v == "" || filepath.Base(*v) != *v {
			return fmt.Errorf("%s must be a plain file name, got %q", name, *v)
		}
	}

	if c.MergedSuffix != nil && !strings.HasSuffix(strings.ToLower(*c.MergedSuffix), ".las") {
		return fmt.Errorf("merged_suffix must end in .las, got %q", *c.MergedSuffix)
	}

	for _, ext := range c.AcceptableExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("acceptable_extensions entries must look like \".las\", got %q", ext)
		}
	}

	if c.PreviewMaxPoints != nil && *c.PreviewMaxPoints <= 0 {
		return fmt.Errorf("preview_max_points must be positive, got %d", *c.PreviewMaxPoints)
	}

	if c.SystemIdentifier != nil && len(*c.SystemIdentifier) > 32 {
		return fmt.Errorf("system_identifier is limited to 32 bytes, got %d", len(*c.SystemIdentifier))
	}

	return nil
}

// GetLedgerFile returns the ledger database file name or the default.
func (c *MergeConfig) GetLedgerFile() string {
	if c.LedgerFile == nil {
		return DefaultLedgerFile
	}
	return *c.LedgerFile
}

// GetResultFile returns the result descriptor file name or the default.
func (c *MergeConfig) GetResultFile() string {
	if c.ResultFile == nil {
		return DefaultResultFile
	}
	return *c.ResultFile
}

// GetMergedSuffix returns the suffix appended to merged output names.
func (c *MergeConfig) GetMergedSuffix() string {
	if c.MergedSuffix == nil {
		return DefaultMergedSuffix
	}
	return *c.MergedSuffix
}

// GetAcceptableExtensions returns the lower-cased source extensions.
func (c *MergeConfig) GetAcceptableExtensions() []string {
	exts := c.AcceptableExtensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = strings.ToLower(e)
	}
	return out
}

// GetPreviewMaxPoints returns the preview sample size or the default.
func (c *MergeConfig) GetPreviewMaxPoints() int {
	if c.PreviewMaxPoints == nil {
		return DefaultPreviewMaxPoints
	}
	return *c.PreviewMaxPoints
}

// GetSystemIdentifier returns the LAS system identifier override, or "" to
// keep the identifier of the base file.
func (c *MergeConfig) GetSystemIdentifier() string {
	if c.SystemIdentifier == nil {
		return ""
	}
	return *c.SystemIdentifier
}
