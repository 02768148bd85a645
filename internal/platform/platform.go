// Package platform resolves the host OS/architecture into the download URL
// and binary naming used for the cloudflared release artifacts.
package platform

import (
	"errors"
	"fmt"
)

// CloudflaredBase is the release download root for cloudflared artifacts.
const CloudflaredBase = "https://github.com/cloudflare/cloudflared/releases/latest/download"

// ErrUnsupportedPlatform is returned when no download URL exists for the
// host OS/architecture combination.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// ArchiveFormat describes how a downloaded cloudflared artifact is packaged.
type ArchiveFormat string

const (
	// FormatBinary is a bare executable, no extraction needed.
	FormatBinary ArchiveFormat = "binary"
	// FormatTarGz is a gzipped tarball containing the executable.
	FormatTarGz ArchiveFormat = "tgz"
)

// Descriptor captures everything platform-specific the installer and
// supervisor need. Computed once at startup, read-only thereafter.
type Descriptor struct {
	OS            string
	Arch          string
	ArchiveFormat ArchiveFormat
	ExeSuffix     string
}

// Describe resolves a Descriptor for the given GOOS/GOARCH pair. It is pure:
// same inputs, same answer, no side effects.
func Describe(goos, goarch string) (Descriptor, error) {
	arch := normalizeArch(goarch)

	switch goos {
	case "windows":
		if arch != "amd64" && arch != "arm64" {
			// cloudflared only ships amd64 and arm64 Windows builds.
			arch = "amd64"
		}
		return Descriptor{OS: "windows", Arch: arch, ArchiveFormat: FormatBinary, ExeSuffix: ".exe"}, nil
	case "darwin":
		if arch != "arm64" {
			arch = "amd64"
		}
		return Descriptor{OS: "darwin", Arch: arch, ArchiveFormat: FormatTarGz}, nil
	case "linux":
		switch arch {
		case "amd64", "arm64", "arm", "386":
		default:
			arch = "amd64"
		}
		return Descriptor{OS: "linux", Arch: arch, ArchiveFormat: FormatBinary}, nil
	}

	return Descriptor{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

// normalizeArch maps machine names reported by various toolchains onto the
// cloudflared release naming convention.
func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64", "armv8l":
		return "arm64"
	case "armv7l", "arm":
		return "arm"
	case "i386", "i686", "386":
		return "386"
	}
	return arch
}

// CloudflaredURL returns the release artifact URL for this platform.
func (d Descriptor) CloudflaredURL() string {
	switch d.OS {
	case "windows":
		return fmt.Sprintf("%s/cloudflared-windows-%s.exe", CloudflaredBase, d.Arch)
	case "darwin":
		return fmt.Sprintf("%s/cloudflared-darwin-%s.tgz", CloudflaredBase, d.Arch)
	default:
		return fmt.Sprintf("%s/cloudflared-linux-%s", CloudflaredBase, d.Arch)
	}
}

// CloudflaredBinary returns the executable name for this platform.
func (d Descriptor) CloudflaredBinary() string {
	return "cloudflared" + d.ExeSuffix
}

// DownloadName returns the filename the artifact is saved under before any
// extraction: the archive name for tarballs, the binary name otherwise.
func (d Descriptor) DownloadName() string {
	if d.ArchiveFormat == FormatTarGz {
		return "cloudflared.tgz"
	}
	return d.CloudflaredBinary()
}
