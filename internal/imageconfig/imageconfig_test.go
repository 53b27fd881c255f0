package imageconfig

import "testing"

func TestAspectRatioFromSize(t *testing.T) {
	cases := map[string]string{
		"1280x720":  "16:9",
		"1024x1024": "1:1",
		"720x1280":  "9:16",
		"800x600":   "4:3",
		"1500x1000": "3:2",
		"16:9":      "16:9",
		"invalid":   "1:1",
	}
	for size, want := range cases {
		if got := AspectRatioFromSize(size); got != want {
			t.Errorf("AspectRatioFromSize(%q) = %q, want %q", size, got, want)
		}
	}
}

func TestResolveModelSuffixes(t *testing.T) {
	cfg := Resolve("gemini-3-pro-image-16x9-4k", "", "", "")
	if cfg.AspectRatio != "16:9" || cfg.ImageSize != "4K" {
		t.Errorf("got %+v", cfg)
	}
}

func TestResolveSizeAndQualityPriority(t *testing.T) {
	cfg := Resolve("gemini-3-pro-image", "1920x1080", "hd", "")
	if cfg.AspectRatio != "16:9" || cfg.ImageSize != "4K" {
		t.Errorf("got %+v", cfg)
	}
}

func TestResolveDirectImageSizeWins(t *testing.T) {
	cfg := Resolve("gemini-3-pro-image-2k", "", "standard", "4k")
	if cfg.ImageSize != "4K" {
		t.Errorf("expected direct imageSize to win, got %+v", cfg)
	}
}

func TestMergeBodyOverrideShieldsAgainstDowngrade(t *testing.T) {
	inferred := Config{AspectRatio: "1:1", ImageSize: "4K"}
	merged := MergeBodyOverride(inferred, map[string]interface{}{
		"aspectRatio": "1:1",
		"imageSize":   "1K",
	})
	if merged.ImageSize != "4K" {
		t.Errorf("expected 4K to survive a 1K body override, got %q", merged.ImageSize)
	}
}

func TestMergeBodyOverrideAllowsRatioChange(t *testing.T) {
	inferred := Config{AspectRatio: "1:1", ImageSize: "4K"}
	merged := MergeBodyOverride(inferred, map[string]interface{}{"aspectRatio": "21:9"})
	if merged.AspectRatio != "21:9" {
		t.Errorf("expected aspect ratio override to apply, got %q", merged.AspectRatio)
	}
	if merged.ImageSize != "4K" {
		t.Errorf("unrelated override should not touch imageSize, got %q", merged.ImageSize)
	}
}
