// Package imageconfig resolves the aspectRatio/imageSize pair Upstream
// expects for gemini-3-pro-image requests (spec §6 "Image config priority").
package imageconfig

import (
	"strconv"
	"strings"
)

// suffixRatios maps a model-name suffix to the aspect ratio it implies,
// checked in order so the first match wins.
var suffixRatios = []struct {
	suffix string
	ratio  string
}{
	{"-21x9", "21:9"}, {"-21-9", "21:9"},
	{"-16x9", "16:9"}, {"-16-9", "16:9"},
	{"-9x16", "9:16"}, {"-9-16", "9:16"},
	{"-4x3", "4:3"}, {"-4-3", "4:3"},
	{"-3x4", "3:4"}, {"-3-4", "3:4"},
	{"-3x2", "3:2"}, {"-3-2", "3:2"},
	{"-2x3", "2:3"}, {"-2-3", "2:3"},
	{"-5x4", "5:4"}, {"-5-4", "5:4"},
	{"-4x5", "4:5"}, {"-4-5", "4:5"},
	{"-1x1", "1:1"}, {"-1-1", "1:1"},
}

// ratioTable is consulted when a WxH size string doesn't exactly name one
// of the fixed ratios; the closest entry within 0.05 wins.
var ratioTable = []struct {
	name  string
	value float64
}{
	{"21:9", 21.0 / 9.0},
	{"16:9", 16.0 / 9.0},
	{"4:3", 4.0 / 3.0},
	{"3:4", 3.0 / 4.0},
	{"9:16", 9.0 / 16.0},
	{"3:2", 3.0 / 2.0},
	{"2:3", 2.0 / 3.0},
	{"5:4", 5.0 / 4.0},
	{"4:5", 4.0 / 5.0},
	{"1:1", 1.0},
}

var exactRatios = map[string]bool{
	"21:9": true, "16:9": true, "9:16": true, "4:3": true, "3:4": true,
	"3:2": true, "2:3": true, "5:4": true, "4:5": true, "1:1": true,
}

// AspectRatioFromSize parses an OpenAI-style "size" value, which may be an
// exact ratio string ("16:9") or a "WIDTHxHEIGHT" pixel size, and returns
// the closest fixed ratio name, defaulting to "1:1".
func AspectRatioFromSize(size string) string {
	if exactRatios[size] {
		return size
	}

	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return "1:1"
	}
	width, err1 := strconv.ParseFloat(w, 64)
	height, err2 := strconv.ParseFloat(h, 64)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return "1:1"
	}

	ratio := width / height
	for _, r := range ratioTable {
		if abs(ratio-r.value) < 0.05 {
			return r.name
		}
	}
	return "1:1"
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Config is the resolved generationConfig.imageConfig payload.
type Config struct {
	AspectRatio string
	ImageSize   string // "", "1K", "2K", or "4K"
}

// ToMap renders the config as the JSON-ready map Upstream expects, omitting
// ImageSize entirely when unresolved (spec leaves it unset, not defaulted).
func (c Config) ToMap() map[string]interface{} {
	m := map[string]interface{}{"aspectRatio": c.AspectRatio}
	if c.ImageSize != "" {
		m["imageSize"] = c.ImageSize
	}
	return m
}

// Resolve implements the priority rules in spec §6: direct imageSize param >
// OpenAI quality param > model-name suffix, for imageSize; size string >
// model-name suffix > default "1:1", for aspect ratio.
func Resolve(modelName string, size, quality, imageSize string) Config {
	cfg := Config{AspectRatio: "1:1"}

	if size != "" {
		cfg.AspectRatio = AspectRatioFromSize(size)
	} else {
		for _, s := range suffixRatios {
			if strings.Contains(modelName, s.suffix) {
				cfg.AspectRatio = s.ratio
				break
			}
		}
	}

	switch {
	case imageSize != "":
		cfg.ImageSize = strings.ToUpper(imageSize)
	case quality != "":
		switch strings.ToLower(quality) {
		case "hd", "4k":
			cfg.ImageSize = "4K"
		case "medium", "2k":
			cfg.ImageSize = "2K"
		case "standard", "1k":
			cfg.ImageSize = "1K"
		}
	default:
		switch {
		case strings.Contains(modelName, "-4k"), strings.Contains(modelName, "-hd"):
			cfg.ImageSize = "4K"
		case strings.Contains(modelName, "-2k"):
			cfg.ImageSize = "2K"
		}
	}

	return cfg
}

// MergeBodyOverride merges a client-supplied generationConfig.imageConfig map
// over an inferred Config, applying the anti-downgrade shield: a body value
// of "1K" (or an explicit null, represented here as an empty string) can
// never replace an inferred "4K" imageSize (spec §6 "shield against client
// default-value pollution").
func MergeBodyOverride(inferred Config, body map[string]interface{}) Config {
	out := inferred
	if body == nil {
		return out
	}
	if ar, ok := body["aspectRatio"].(string); ok && ar != "" {
		out.AspectRatio = ar
	}
	if rawSize, present := body["imageSize"]; present {
		isDowngrade := inferred.ImageSize == "4K" && (rawSize == nil || rawSize == "1K")
		if !isDowngrade {
			if s, ok := rawSize.(string); ok {
				out.ImageSize = s
			} else if rawSize == nil {
				out.ImageSize = ""
			}
		}
	}
	return out
}
