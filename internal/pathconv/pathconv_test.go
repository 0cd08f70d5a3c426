package pathconv

import "testing"

func TestConvertPrefixOnly(t *testing.T) {
	c := Converter{Enabled: true, Source: "/downloads", Target: "/mnt/library"}

	got := c.Convert("/downloads/anime/ep01.mkv")
	want := "/mnt/library/anime/ep01.mkv"
	if got != want {
		t.Fatalf("Convert() = %q, want %q", got, want)
	}
}

func TestConvertMidStringNotRewritten(t *testing.T) {
	c := Converter{Enabled: true, Source: "/downloads", Target: "/mnt/library"}

	in := "/mnt/downloads/anime/ep01.mkv" // "/downloads" appears mid-string, not at 0
	got := c.Convert(in)
	if got != in {
		t.Fatalf("Convert() = %q, want unchanged %q", got, in)
	}
}

func TestConvertDisabledPassesThrough(t *testing.T) {
	c := Converter{Enabled: false, Source: "/downloads", Target: "/mnt/library"}

	in := "/downloads/anime/ep01.mkv"
	if got := c.Convert(in); got != in {
		t.Fatalf("Convert() = %q, want unchanged %q", got, in)
	}
}

func TestConvertNormalizesBackslashesAndNoDoubleSlash(t *testing.T) {
	c := Converter{Enabled: true, Source: "/downloads", Target: "/mnt/library/"}

	got := c.Convert(`/downloads\anime\ep01.mkv`)
	want := "/mnt/library/anime/ep01.mkv"
	if got != want {
		t.Fatalf("Convert() = %q, want %q", got, want)
	}
}
