package processor

import (
	"fmt"
	"regexp"
)

// ExtractorConfig is the search definition: where to look, how to clean the
// crop and which segmentation modes to run. Order is priority everywhere.
type ExtractorConfig struct {
	Regions    []Region
	Strategies []Strategy
	Modes      []PageSegMode

	// Regions with index < BroadRegionCount run every mode in Modes;
	// later regions only run NarrowModes.
	BroadRegionCount int
	NarrowModes      []PageSegMode

	DPI       int
	Languages []string
	Patterns  []string

	// DebugDir, when set, receives crops, preprocessed images and OCR text.
	DebugDir string
}

// DefaultExtractorConfig returns the layout tuned for registration certificates.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Regions: []Region{
			{X: 0.53, Y: 0.23, W: 0.22, H: 0.055},
			{X: 0.50, Y: 0.21, W: 0.28, H: 0.07},
			{X: 0.52, Y: 0.19, W: 0.24, H: 0.09},
		},
		Strategies: []Strategy{
			{Name: "standard", Kind: StrategyAdaptive, Alpha: 1.5, Beta: 10, BlockSize: 11, ThresholdC: 2},
			{Name: "high_contrast", Kind: StrategyAdaptive, Alpha: 2.0, Beta: 0, BlockSize: 15, ThresholdC: 5},
			{Name: "binary", Kind: StrategyOtsu},
		},
		Modes:            []PageSegMode{SegSingleLine, SegSingleWord, SegSingleBlock, SegSparseText},
		BroadRegionCount: 2,
		NarrowModes:      []PageSegMode{SegSingleLine, SegSingleBlock},
		DPI:              300,
		Languages:        []string{"ara", "eng"},
		Patterns:         DefaultPatterns(),
	}
}

// DefaultPatterns lists identifier patterns from strictest to most tolerant.
// Each pattern has exactly one capture group holding the raw candidate.
func DefaultPatterns() []string {
	return []string{
		`(\d{7}[A-Z])`,
		`(\d{7}[A-Za-z])`,
		`N?(\d{7}[A-Z])`,
		`(\d{7}[|l])`,
		`N?(\d{7}[A-Za-z])`,
		`([0-9lI|]{7}[A-Za-z])`,
	}
}

// Validate checks the configuration and compiles its patterns.
func (c ExtractorConfig) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	for i, r := range c.Regions {
		if r.W <= 0 || r.H <= 0 || r.X < 0 || r.Y < 0 || r.X+r.W > 1 || r.Y+r.H > 1 {
			return fmt.Errorf("region %d is outside the unit square: %+v", i, r)
		}
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one preprocessing strategy is required")
	}
	for _, s := range c.Strategies {
		switch s.Kind {
		case StrategyAdaptive:
			if s.BlockSize < 3 || s.BlockSize%2 == 0 {
				return fmt.Errorf("strategy %s: block size must be odd and >= 3, got %d", s.Name, s.BlockSize)
			}
		case StrategyOtsu:
		default:
			return fmt.Errorf("strategy %s: unknown kind %q", s.Name, s.Kind)
		}
	}
	if len(c.Modes) == 0 {
		return fmt.Errorf("at least one segmentation mode is required")
	}
	if c.DPI <= 0 {
		return fmt.Errorf("DPI must be positive, got %d", c.DPI)
	}
	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one OCR language is required")
	}
	if _, err := compilePatterns(c.Patterns); err != nil {
		return err
	}
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one identifier pattern is required")
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid identifier pattern %q: %w", p, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("identifier pattern %q must have exactly one capture group", p)
		}
		out = append(out, re)
	}
	return out, nil
}
