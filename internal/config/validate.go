package config

import (
	"fmt"
)

// ValidationError aggregates every problem found in a Settings value,
// mirroring the teacher's conf.ValidationError: one failing field should
// not hide the next.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", ve.Errors)
}

// Validate checks a Settings value against the constraints spec.md §6
// documents for each option. It never mutates s.
func Validate(s *Settings) error {
	ve := ValidationError{}

	if s.Audio.SampleRate <= 0 {
		ve.Errors = append(ve.Errors, "audio.samplerate must be positive")
	}
	if s.Audio.Channels != 1 && s.Audio.Channels != 2 {
		ve.Errors = append(ve.Errors, "audio.channels must be 1 or 2")
	}
	if s.Audio.BufferSizeSeconds <= 0 {
		ve.Errors = append(ve.Errors, "audio.buffersizeseconds must be positive")
	}
	if s.Audio.SpeciesConfidenceThreshold < 0 || s.Audio.SpeciesConfidenceThreshold > 1 {
		ve.Errors = append(ve.Errors, "audio.speciesconfidencethreshold must be in [0,1]")
	}

	if s.RetryBuffer.MaxSize <= 0 {
		ve.Errors = append(ve.Errors, "retrybuffer.maxsize must be positive")
	}
	if s.RetryBuffer.FlushInterval <= 0 {
		ve.Errors = append(ve.Errors, "retrybuffer.flushinterval must be positive")
	}

	if err := validateEBirdFiltering(&s.EBirdFiltering); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateEBirdFiltering(c *EBirdFilterConfig) error {
	if !c.Enabled {
		return nil
	}
	switch c.DetectionMode {
	case "off", "warn", "filter":
	default:
		return fmt.Errorf("ebirdfiltering.detectionmode %q invalid, want off|warn|filter", c.DetectionMode)
	}
	switch c.DetectionStrictness {
	case "vagrant", "rare", "uncommon", "common":
	default:
		return fmt.Errorf("ebirdfiltering.detectionstrictness %q invalid", c.DetectionStrictness)
	}
	switch c.UnknownSpeciesBehavior {
	case "allow", "block":
	default:
		return fmt.Errorf("ebirdfiltering.unknownspeciesbehavior %q invalid, want allow|block", c.UnknownSpeciesBehavior)
	}
	if c.H3Resolution < 0 || c.H3Resolution > 15 {
		return fmt.Errorf("ebirdfiltering.h3resolution %d out of range [0,15]", c.H3Resolution)
	}
	return nil
}
