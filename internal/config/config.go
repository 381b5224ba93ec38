// Package config holds the immutable worker configuration assembled at
// startup and handed to constructors.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"learnstream/internal/models"
)

// Config is the fully-resolved worker configuration. It is built once in
// main and never mutated afterwards.
type Config struct {
	FFmpegPath  string
	FFprobePath string

	WorkspaceRoot string
	PollInterval  time.Duration

	RawBucket       string
	ProcessedBucket string

	UploadConcurrency int

	Presets []models.QualityPreset
}

// DefaultLadder is the rendition ladder used when no preset file is
// configured.
func DefaultLadder() []models.QualityPreset {
	return []models.QualityPreset{
		{Label: "480p", Width: 854, Height: 480, Bitrate: "800k"},
		{Label: "720p", Width: 1280, Height: 720, Bitrate: "2000k"},
		{Label: "1080p", Width: 1920, Height: 1080, Bitrate: "4500k"},
	}
}

type ladderFile struct {
	Presets []models.QualityPreset `yaml:"presets"`
}

// LoadLadder reads a rendition ladder from a YAML file.
func LoadLadder(path string) ([]models.QualityPreset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file: %w", err)
	}
	var file ladderFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}
	if len(file.Presets) == 0 {
		return nil, fmt.Errorf("preset file %s defines no presets", path)
	}
	if err := ValidateLadder(file.Presets); err != nil {
		return nil, fmt.Errorf("preset file %s: %w", path, err)
	}
	return file.Presets, nil
}

// ValidateLadder checks every preset has a label, positive dimensions and a
// bitrate, and that labels are unique.
func ValidateLadder(presets []models.QualityPreset) error {
	if len(presets) == 0 {
		return fmt.Errorf("at least one quality preset is required")
	}
	seen := make(map[string]bool, len(presets))
	for i, preset := range presets {
		label := strings.TrimSpace(preset.Label)
		if label == "" {
			return fmt.Errorf("preset %d: label is required", i)
		}
		if seen[label] {
			return fmt.Errorf("preset %d: duplicate label %q", i, label)
		}
		seen[label] = true
		if preset.Width <= 0 || preset.Height <= 0 {
			return fmt.Errorf("preset %q: width and height must be positive", label)
		}
		if strings.TrimSpace(preset.Bitrate) == "" {
			return fmt.Errorf("preset %q: bitrate is required", label)
		}
	}
	return nil
}

// Validate checks the assembled configuration before any component starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.FFmpegPath) == "" {
		return fmt.Errorf("ffmpeg path is required")
	}
	if strings.TrimSpace(c.FFprobePath) == "" {
		return fmt.Errorf("ffprobe path is required")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("workspace root is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if strings.TrimSpace(c.RawBucket) == "" {
		return fmt.Errorf("raw bucket is required")
	}
	if strings.TrimSpace(c.ProcessedBucket) == "" {
		return fmt.Errorf("processed bucket is required")
	}
	if c.UploadConcurrency <= 0 {
		return fmt.Errorf("upload concurrency must be positive")
	}
	return ValidateLadder(c.Presets)
}
