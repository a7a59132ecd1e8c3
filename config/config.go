// Package config loads the YAML pipeline configuration consumed by the
// command-line tools. All validation happens at load time; the
// operations trust a loaded Config.
package config

import (
	"context"
	"fmt"
	"io"

	"github.com/sfomuseum/go-coco-tiles/operations/assemble"
	"github.com/sfomuseum/go-coco-tiles/tiles"
	"gocloud.dev/blob"
	"gopkg.in/yaml.v3"
)

// TileConfig holds the tile grid parameters.
type TileConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Overlap int `yaml:"overlap"`
}

// ResizeConfig holds the optional post-crop resize parameters.
type ResizeConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Filter string `yaml:"filter"`
}

// Config is the full pipeline configuration.
type Config struct {
	Tile TileConfig `yaml:"tile"`
	// MinIoA and MinCoverage are aliases with identical semantics;
	// set one.
	MinIoA      *float64      `yaml:"min_ioa"`
	MinCoverage *float64      `yaml:"min_coverage"`
	Resize      *ResizeConfig `yaml:"resize"`
	Quality     int           `yaml:"quality"`
	DropEmpty   bool          `yaml:"drop_empty_tiles"`
	AutoOrient  bool          `yaml:"auto_orient"`
	SkipBad     bool          `yaml:"skip_unreadable"`
	HashTiles   bool          `yaml:"hash_tiles"`
	Workers     int           `yaml:"workers"`
	Folds       int           `yaml:"folds"`
	Seed        int64         `yaml:"seed"`
	ValFraction float64       `yaml:"val_fraction"`
}

// Default returns the configuration used when no file is supplied,
// matching the defaults of the surrounding tooling.
func Default() *Config {

	return &Config{
		Tile: TileConfig{
			Width:  640,
			Height: 640,
		},
		Quality: 95,
		Folds:   5,
		Seed:    42,
		Workers: 4,
	}
}

// Load decodes and validates a YAML configuration.
func Load(r io.Reader) (*Config, error) {

	cfg := Default()

	dec := yaml.NewDecoder(r)

	err := dec.Decode(cfg)

	if err != nil {
		return nil, fmt.Errorf("Failed to decode config, %w", err)
	}

	err = cfg.Validate()

	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromBucket reads and decodes a YAML configuration stored in a
// blob.Bucket instance.
func LoadFromBucket(ctx context.Context, bucket *blob.Bucket, path string) (*Config, error) {

	fh, err := bucket.NewReader(ctx, path, nil)

	if err != nil {
		return nil, fmt.Errorf("Failed to create reader for %s, %w", path, err)
	}

	defer fh.Close()

	return Load(fh)
}

// Validate checks the configuration once, up front.
func (cfg *Config) Validate() error {

	if cfg.Tile.Width <= 0 || cfg.Tile.Height <= 0 {
		return fmt.Errorf("Tile size %dx%d is not positive, %w", cfg.Tile.Width, cfg.Tile.Height, tiles.ErrInvalidConfig)
	}

	if cfg.Tile.Overlap < 0 || cfg.Tile.Overlap >= cfg.Tile.Width || cfg.Tile.Overlap >= cfg.Tile.Height {
		return fmt.Errorf("Overlap %d is not in [0, tile dimension), %w", cfg.Tile.Overlap, tiles.ErrInvalidConfig)
	}

	if cfg.MinIoA != nil && cfg.MinCoverage != nil && *cfg.MinIoA != *cfg.MinCoverage {
		return fmt.Errorf("min_ioa and min_coverage are aliases but disagree, %w", tiles.ErrInvalidConfig)
	}

	ioa := cfg.CoverageThreshold()

	if ioa < 0 || ioa > 1 {
		return fmt.Errorf("Minimum IoA %f is not in [0, 1], %w", ioa, tiles.ErrInvalidConfig)
	}

	if cfg.Resize != nil {

		if cfg.Resize.Width <= 0 || cfg.Resize.Height <= 0 {
			return fmt.Errorf("Resize size %dx%d is not positive, %w", cfg.Resize.Width, cfg.Resize.Height, tiles.ErrInvalidConfig)
		}

		_, err := tiles.ResampleFilter(cfg.Resize.Filter)

		if err != nil {
			return err
		}
	}

	if cfg.Folds < 2 {
		return fmt.Errorf("Fold count %d is less than 2, %w", cfg.Folds, tiles.ErrInvalidConfig)
	}

	return nil
}

// CoverageThreshold resolves the min_ioa / min_coverage alias pair,
// defaulting to 0.3.
func (cfg *Config) CoverageThreshold() float64 {

	if cfg.MinIoA != nil {
		return *cfg.MinIoA
	}

	if cfg.MinCoverage != nil {
		return *cfg.MinCoverage
	}

	return 0.3
}

// AssembleOptions derives assembler options from the configuration.
func (cfg *Config) AssembleOptions(source *blob.Bucket, target *blob.Bucket) *assemble.Options {

	opts := &assemble.Options{
		Source:         source,
		Target:         target,
		TileWidth:      cfg.Tile.Width,
		TileHeight:     cfg.Tile.Height,
		Overlap:        cfg.Tile.Overlap,
		MinIoA:         cfg.CoverageThreshold(),
		Quality:        cfg.Quality,
		DropEmptyTiles: cfg.DropEmpty,
		AutoOrient:     cfg.AutoOrient,
		SkipUnreadable: cfg.SkipBad,
		HashTiles:      cfg.HashTiles,
		Workers:        cfg.Workers,
	}

	if cfg.Resize != nil {
		opts.ResizeWidth = cfg.Resize.Width
		opts.ResizeHeight = cfg.Resize.Height
		opts.ResizeFilter = cfg.Resize.Filter
	}

	return opts
}
