package opt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Config holds the tunable parameters of the search. None of them affects
// correctness, only search quality and per-iteration cost.
type Config struct {
	InitialTemp float64 `yaml:"initialTemp" json:"initialTemp"`
	Cooling     float64 `yaml:"cooling" json:"cooling"`
	MinTemp     float64 `yaml:"minTemp" json:"minTemp"`

	// Destroy ratio range at the start of the run, before size adjustment.
	DestroyMin float64 `yaml:"destroyMin" json:"destroyMin"`
	DestroyMax float64 `yaml:"destroyMax" json:"destroyMax"`
	// DestroyShrink is the fraction the range loses by the deadline.
	DestroyShrink float64 `yaml:"destroyShrink" json:"destroyShrink"`
	SmallInstance int     `yaml:"smallInstance" json:"smallInstance"`
	LargeInstance int     `yaml:"largeInstance" json:"largeInstance"`

	// MaxClosureFraction of low-usage facilities closed at the deadline;
	// scaled linearly by progress.
	MaxClosureFraction float64 `yaml:"maxClosureFraction" json:"maxClosureFraction"`

	RepairTopK      int     `yaml:"repairTopK" json:"repairTopK"`
	LocalTopK       int     `yaml:"localTopK" json:"localTopK"`
	LocalPasses     int     `yaml:"localPasses" json:"localPasses"`
	LateLocalPasses int     `yaml:"lateLocalPasses" json:"lateLocalPasses"`
	LatePhase       float64 `yaml:"latePhase" json:"latePhase"`
	SwapPoolSize    int     `yaml:"swapPoolSize" json:"swapPoolSize"`
	SwapMoves       int     `yaml:"swapMoves" json:"swapMoves"`
	LateSwapMoves   int     `yaml:"lateSwapMoves" json:"lateSwapMoves"`

	// TimeLimitSec overrides the instance timeout when > 0.
	TimeLimitSec float64 `yaml:"timeLimitSec" json:"timeLimitSec"`
	// MaxIterations stops the loop early when > 0 and then drives the
	// destroy and closure schedules instead of wall-clock time.
	MaxIterations int `yaml:"maxIterations" json:"maxIterations"`
	SnapshotEvery int `yaml:"snapshotEvery" json:"snapshotEvery"`
}

func DefaultConfig() Config {
	return Config{
		InitialTemp: 100,
		Cooling:     0.995,
		MinTemp:     1e-3,

		DestroyMin:    0.1,
		DestroyMax:    0.3,
		DestroyShrink: 0.5,
		SmallInstance: 100,
		LargeInstance: 1000,

		MaxClosureFraction: 0.3,

		RepairTopK:      12,
		LocalTopK:       10,
		LocalPasses:     1,
		LateLocalPasses: 2,
		LatePhase:       0.75,
		SwapPoolSize:    100,
		SwapMoves:       200,
		LateSwapMoves:   600,

		SnapshotEvery: 50,
	}
}

func (c Config) Validate() error {
	if c.InitialTemp <= 0 {
		return fmt.Errorf("initialTemp must be > 0 (got %v)", c.InitialTemp)
	}
	if c.Cooling <= 0 || c.Cooling >= 1 {
		return fmt.Errorf("cooling must be in (0,1) (got %v)", c.Cooling)
	}
	if c.MinTemp <= 0 || c.MinTemp > c.InitialTemp {
		return fmt.Errorf("minTemp must be in (0, initialTemp] (got %v)", c.MinTemp)
	}
	if c.DestroyMin <= 0 || c.DestroyMax >= 1 || c.DestroyMin > c.DestroyMax {
		return fmt.Errorf("destroy range must satisfy 0 < destroyMin <= destroyMax < 1 (got %v..%v)", c.DestroyMin, c.DestroyMax)
	}
	if c.DestroyShrink < 0 || c.DestroyShrink >= 1 {
		return fmt.Errorf("destroyShrink must be in [0,1) (got %v)", c.DestroyShrink)
	}
	if c.MaxClosureFraction < 0 || c.MaxClosureFraction > 1 {
		return fmt.Errorf("maxClosureFraction must be in [0,1] (got %v)", c.MaxClosureFraction)
	}
	if c.LatePhase < 0 || c.LatePhase > 1 {
		return fmt.Errorf("latePhase must be in [0,1] (got %v)", c.LatePhase)
	}
	for name, v := range map[string]int{
		"repairTopK":      c.RepairTopK,
		"localTopK":       c.LocalTopK,
		"localPasses":     c.LocalPasses,
		"lateLocalPasses": c.LateLocalPasses,
		"swapPoolSize":    c.SwapPoolSize,
		"snapshotEvery":   c.SnapshotEvery,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0 (got %d)", name, v)
		}
	}
	if c.SwapMoves < 0 || c.LateSwapMoves < 0 || c.MaxIterations < 0 || c.TimeLimitSec < 0 {
		return fmt.Errorf("swapMoves, lateSwapMoves, maxIterations and timeLimitSec must be >= 0")
	}
	return nil
}

// Override returns a copy of c with the keys of overrides applied. Keys use
// the yaml/json field names; unknown keys are rejected.
func (c Config) Override(overrides map[string]any) (Config, error) {
	if len(overrides) == 0 {
		return c, nil
	}
	raw, err := yaml.Marshal(overrides)
	if err != nil {
		return c, fmt.Errorf("encode overrides: %w", err)
	}
	return c.decode(raw)
}

func (c Config) decode(raw []byte) (Config, error) {
	out := c
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("decode solver config: %w", err)
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read solver config %q: %w", path, err)
	}
	return DefaultConfig().decode(raw)
}
