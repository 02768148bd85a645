package platform

import (
	"errors"
	"testing"
)

func TestDescribe_DownloadURLs(t *testing.T) {
	tests := []struct {
		goos, goarch string
		wantURL      string
		wantFormat   ArchiveFormat
	}{
		{"windows", "amd64", CloudflaredBase + "/cloudflared-windows-amd64.exe", FormatBinary},
		{"windows", "arm64", CloudflaredBase + "/cloudflared-windows-arm64.exe", FormatBinary},
		{"windows", "386", CloudflaredBase + "/cloudflared-windows-amd64.exe", FormatBinary},
		{"darwin", "amd64", CloudflaredBase + "/cloudflared-darwin-amd64.tgz", FormatTarGz},
		{"darwin", "arm64", CloudflaredBase + "/cloudflared-darwin-arm64.tgz", FormatTarGz},
		{"linux", "amd64", CloudflaredBase + "/cloudflared-linux-amd64", FormatBinary},
		{"linux", "arm64", CloudflaredBase + "/cloudflared-linux-arm64", FormatBinary},
		{"linux", "arm", CloudflaredBase + "/cloudflared-linux-arm", FormatBinary},
		{"linux", "386", CloudflaredBase + "/cloudflared-linux-386", FormatBinary},
		// Unknown architectures fall back to amd64
		{"linux", "riscv64", CloudflaredBase + "/cloudflared-linux-amd64", FormatBinary},
		{"darwin", "ppc64", CloudflaredBase + "/cloudflared-darwin-amd64.tgz", FormatTarGz},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"_"+tt.goarch, func(t *testing.T) {
			d, err := Describe(tt.goos, tt.goarch)
			if err != nil {
				t.Fatalf("Describe failed: %v", err)
			}
			if got := d.CloudflaredURL(); got != tt.wantURL {
				t.Errorf("URL = %q, want %q", got, tt.wantURL)
			}
			if d.ArchiveFormat != tt.wantFormat {
				t.Errorf("format = %q, want %q", d.ArchiveFormat, tt.wantFormat)
			}
		})
	}
}

func TestDescribe_UnsupportedOS(t *testing.T) {
	_, err := Describe("plan9", "amd64")
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got: %v", err)
	}
}

func TestDescribe_Deterministic(t *testing.T) {
	a, _ := Describe("linux", "arm64")
	b, _ := Describe("linux", "arm64")
	if a != b {
		t.Errorf("same inputs gave %+v and %+v", a, b)
	}
}

func TestNormalizeArch(t *testing.T) {
	tests := map[string]string{
		"x86_64":  "amd64",
		"amd64":   "amd64",
		"aarch64": "arm64",
		"armv8l":  "arm64",
		"armv7l":  "arm",
		"i686":    "386",
		"mips":    "mips",
	}
	for in, want := range tests {
		if got := normalizeArch(in); got != want {
			t.Errorf("normalizeArch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloudflaredBinary(t *testing.T) {
	win, _ := Describe("windows", "amd64")
	if got := win.CloudflaredBinary(); got != "cloudflared.exe" {
		t.Errorf("windows binary = %q", got)
	}
	lin, _ := Describe("linux", "amd64")
	if got := lin.CloudflaredBinary(); got != "cloudflared" {
		t.Errorf("linux binary = %q", got)
	}
}

func TestDownloadName(t *testing.T) {
	mac, _ := Describe("darwin", "arm64")
	if got := mac.DownloadName(); got != "cloudflared.tgz" {
		t.Errorf("darwin download name = %q", got)
	}
	lin, _ := Describe("linux", "amd64")
	if got := lin.DownloadName(); got != "cloudflared" {
		t.Errorf("linux download name = %q", got)
	}
}
