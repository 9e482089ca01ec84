package parser

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/config"
)

// Decimation selects how much of the decoded output is kept for display.
type Decimation int

const (
	DecimationDisabled Decimation = iota
	DecimationHalf
	DecimationQuarter
)

func (d Decimation) String() string {
	switch d {
	case DecimationHalf:
		return "half"
	case DecimationQuarter:
		return "quarter"
	default:
		return "disabled"
	}
}

// DisplayFormat selects how a picture is fitted to the display.
type DisplayFormat int

const (
	DisplayLetterbox DisplayFormat = iota
	DisplayPanScan
	DisplayFull
)

// AspectRatio is the aspect ratio of the output display.
type AspectRatio int

const (
	Aspect16x9 AspectRatio = iota
	Aspect4x3
)

// Policy holds the playback options that change parsing behaviour.
type Policy struct {
	DecimateDecoderOutput Decimation

	H264AllowNonIDRResynchronization                  bool
	H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering bool
	H264TreatTopBottomPictureStructAsInterlaced       bool
	H264BFramesRequireTwoReferences                   bool

	UsePTSDeducedDefaultFrameRates bool

	DisplayFormat      DisplayFormat
	DisplayAspectRatio AspectRatio
}

// PanScanActive reports whether pan-scan windows should be honoured.
func (p Policy) PanScanActive() bool {
	return p.DisplayFormat == DisplayPanScan && p.DisplayAspectRatio == Aspect4x3
}

// PolicyFromConfig converts the policy section of the configuration.
func PolicyFromConfig(cfg *config.PolicyConfig) (Policy, error) {
	p := Policy{
		H264AllowNonIDRResynchronization:                  cfg.H264AllowNonIDRResynchronization,
		H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering: cfg.H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering,
		H264TreatTopBottomPictureStructAsInterlaced:       cfg.H264TreatTopBottomPictureStructAsInterlaced,
		H264BFramesRequireTwoReferences:                   cfg.H264BFramesRequireTwoReferences,
		UsePTSDeducedDefaultFrameRates:                    cfg.UsePTSDeducedDefaultFrameRates,
	}

	switch cfg.DecimateDecoderOutput {
	case "", "disabled":
		p.DecimateDecoderOutput = DecimationDisabled
	case "half":
		p.DecimateDecoderOutput = DecimationHalf
	case "quarter":
		p.DecimateDecoderOutput = DecimationQuarter
	default:
		return Policy{}, fmt.Errorf("unknown decimation %q", cfg.DecimateDecoderOutput)
	}

	switch cfg.DisplayFormat {
	case "", "letterbox":
		p.DisplayFormat = DisplayLetterbox
	case "pan_scan":
		p.DisplayFormat = DisplayPanScan
	case "full":
		p.DisplayFormat = DisplayFull
	default:
		return Policy{}, fmt.Errorf("unknown display format %q", cfg.DisplayFormat)
	}

	switch cfg.DisplayAspectRatio {
	case "", "16:9":
		p.DisplayAspectRatio = Aspect16x9
	case "4:3":
		p.DisplayAspectRatio = Aspect4x3
	default:
		return Policy{}, fmt.Errorf("unknown display aspect ratio %q", cfg.DisplayAspectRatio)
	}

	return p, nil
}
