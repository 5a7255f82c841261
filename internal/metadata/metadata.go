// Package metadata loads the plot metadata that accompanies a merge request.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/fsutil"
	"github.com/banshee-data/plotmerge/internal/security"
)

// MaxFileSize bounds the metadata files Load accepts.
const MaxFileSize = 16 * 1024 * 1024

// Accepted keys, in order of preference.
var (
	plotKeys   = []string{"plot_name", "plot_id", "plot"}
	sensorKeys = []string{"sensor", "sensor_name"}
	boundsKeys = []string{"bounding_box", "bounds"}
)

// Bounds is a WGS 84 bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Validate checks the box is ordered and within WGS 84 limits.
func (b Bounds) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("latitude range [%g, %g] outside [-90, 90]", b.MinLat, b.MaxLat)
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("longitude range [%g, %g] outside [-180, 180]", b.MinLon, b.MaxLon)
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return fmt.Errorf("minimum exceeds maximum in %+v", b)
	}
	return nil
}

// PlotMetadata describes the plot and sensor a merge belongs to.
type PlotMetadata struct {
	Path   string
	PlotID string
	Sensor string
	Bounds *Bounds
	// Raw keeps every top-level field of the source document.
	Raw map[string]json.RawMessage
}

// Load reads and validates a metadata file. Every failure is an
// errkind.ErrParse.
func Load(fsys fsutil.FileSystem, path string) (*PlotMetadata, error) {
	const op = "load metadata"
	if path == "" {
		return nil, errkind.Parsef(op, path, "no metadata file given")
	}
	cleanPath := filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(cleanPath)); ext != ".json" {
		return nil, errkind.Parsef(op, cleanPath, "metadata file must have .json extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, errkind.Parse(op, cleanPath, err)
	}
	if info.IsDir() {
		return nil, errkind.Parsef(op, cleanPath, "is a directory")
	}
	if info.Size() > MaxFileSize {
		return nil, errkind.Parsef(op, cleanPath, "file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, errkind.Parse(op, cleanPath, err)
	}
	md, err := Decode(data)
	if err != nil {
		return nil, errkind.Parse(op, cleanPath, err)
	}
	md.Path = cleanPath
	return md, nil
}

// Decode parses a metadata document. The document must be a JSON object
// naming a sensor; plot identifier and bounding box are optional.
func Decode(data []byte) (*PlotMetadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("metadata must be a JSON object")
	}

	md := &PlotMetadata{Raw: raw}
	var err error
	if md.PlotID, err = firstString(raw, plotKeys); err != nil {
		return nil, err
	}
	if md.Sensor, err = firstString(raw, sensorKeys); err != nil {
		return nil, err
	}
	if md.Sensor == "" {
		return nil, fmt.Errorf("missing sensor: expected one of %s", strings.Join(sensorKeys, ", "))
	}

	for _, key := range boundsKeys {
		v, ok := raw[key]
		if !ok || isNull(v) {
			continue
		}
		var b Bounds
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		md.Bounds = &b
		break
	}
	return md, nil
}

func firstString(raw map[string]json.RawMessage, keys []string) (string, error) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || isNull(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("%s must be a string: %w", key, err)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

// CheckSensor confirms the metadata describes the requested sensor.
func (m *PlotMetadata) CheckSensor(requested string) error {
	if !strings.EqualFold(m.Sensor, requested) {
		return errkind.Parsef("check sensor", m.Path, "metadata describes sensor %q, requested %q", m.Sensor, requested)
	}
	return nil
}

// DefaultMergeName is the output base name used when the caller does not
// supply one.
func (m *PlotMetadata) DefaultMergeName() string {
	if m.PlotID == "" {
		return security.SanitizeFilename(m.Sensor)
	}
	return security.SanitizeFilename(m.PlotID + "_" + m.Sensor)
}
