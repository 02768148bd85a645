// Package install obtains the managed components: it clones SwarmUI and
// downloads the platform-specific cloudflared release. All failure paths
// remove partial artifacts before returning a classified error.
package install

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/locate"
	"github.com/MathewTomberlin/SwarmTunnel/internal/platform"
)

// minFreeBytes is the free-space floor checked before downloading; the
// cloudflared binary is ~40MB, leave generous slack.
const minFreeBytes = 200 * 1024 * 1024

var httpClient = &http.Client{Timeout: 10 * time.Minute}

// Cloudflared downloads and installs the cloudflared binary into the managed
// directory. The archive is fetched to a temporary path, verified, extracted
// or renamed into place, and the temporary file discarded. On any failure the
// temp file and partial outputs are removed first.
func Cloudflared(ctx context.Context, settings core.Settings, desc platform.Descriptor) (locate.Target, error) {
	target := locate.Target{Name: "cloudflared", Kind: locate.KindTunnel, Source: locate.SourceMissing}

	if err := os.MkdirAll(settings.CloudflaredDir, 0o755); err != nil {
		return target, classifyFSError(settings.CloudflaredDir, err)
	}

	if err := checkFreeSpace(settings.CloudflaredDir, minFreeBytes); err != nil {
		return target, err
	}

	url := desc.CloudflaredURL()
	tmpPath := filepath.Join(settings.CloudflaredDir, desc.DownloadName()+".partial")
	finalPath := filepath.Join(settings.CloudflaredDir, desc.CloudflaredBinary())

	slog.Info("Downloading cloudflared", "url", url, "platform", desc.OS+"/"+desc.Arch)
	if err := download(ctx, url, tmpPath); err != nil {
		removeArtifacts(tmpPath, finalPath)
		return target, err
	}

	if err := installDownloaded(tmpPath, finalPath, settings.CloudflaredDir, desc); err != nil {
		removeArtifacts(tmpPath, finalPath)
		return target, err
	}
	os.Remove(tmpPath)

	slog.Info("cloudflared installed", "path", finalPath)
	target.Path = finalPath
	target.Source = locate.SourceInstalled
	return target, nil
}

// download fetches url into dest. A short or failed transfer is removed by
// the caller; the error classifies whether the network or the payload was at
// fault.
func download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return classifyFSError(dest, err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}
	if written == 0 {
		return &CorruptArchiveError{Path: dest, Reason: "downloaded file is empty"}
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return &CorruptArchiveError{
			Path:   dest,
			Reason: fmt.Sprintf("truncated download: got %d of %d bytes", written, resp.ContentLength),
		}
	}

	slog.Debug("Download complete", "dest", dest, "bytes", written)
	return nil
}

// installDownloaded turns the downloaded artifact into the final executable:
// tarballs are unpacked into a staging dir and only the binary renamed into
// place, so a failed or over-stuffed archive leaves nothing behind; bare
// binaries are made executable and renamed directly.
func installDownloaded(tmpPath, finalPath, dir string, desc platform.Descriptor) error {
	if desc.ArchiveFormat == platform.FormatTarGz {
		staging := filepath.Join(dir, ".extract.partial")
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return classifyFSError(staging, err)
		}
		defer os.RemoveAll(staging)

		if err := extractTarGz(tmpPath, staging); err != nil {
			return err
		}
		extracted := filepath.Join(staging, desc.CloudflaredBinary())
		if _, err := os.Stat(extracted); err != nil {
			return &CorruptArchiveError{Path: tmpPath, Reason: "archive did not contain " + desc.CloudflaredBinary()}
		}
		if err := os.Rename(extracted, finalPath); err != nil {
			return classifyFSError(finalPath, err)
		}
		if desc.OS != "windows" {
			if err := os.Chmod(finalPath, 0o755); err != nil {
				return classifyFSError(finalPath, err)
			}
		}
		return nil
	}

	if desc.OS != "windows" {
		if err := os.Chmod(tmpPath, 0o755); err != nil {
			return classifyFSError(tmpPath, err)
		}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return classifyFSError(finalPath, err)
	}
	return nil
}

// extractTarGz unpacks a gzipped tarball into dest. Entries escaping dest are
// rejected.
func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return classifyFSError(archive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return &CorruptArchiveError{Path: archive, Reason: "not a valid gzip stream"}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &CorruptArchiveError{Path: archive, Reason: "tar read failed: " + err.Error()}
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return &CorruptArchiveError{Path: archive, Reason: "archive entry escapes destination: " + hdr.Name}
		}
		path := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return classifyFSError(path, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return classifyFSError(path, err)
			}
			out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return classifyFSError(path, err)
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return &CorruptArchiveError{Path: archive, Reason: "extracting " + name + ": " + err.Error()}
			}
		default:
			// Symlinks and specials are not expected in cloudflared tarballs.
			slog.Debug("Skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

// checkFreeSpace returns a DiskSpaceError when the filesystem holding path
// has less than required bytes free.
func checkFreeSpace(path string, required uint64) error {
	usage, err := disk.Usage(path)
	if err != nil {
		// Can't measure: proceed and let the write fail with a real error.
		slog.Debug("Disk usage probe failed", "path", path, "error", err)
		return nil
	}
	if usage.Free < required {
		return &DiskSpaceError{Path: path, Required: required, Free: usage.Free}
	}
	return nil
}

// removeArtifacts best-effort deletes partial install outputs.
func removeArtifacts(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("Could not remove partial artifact", "path", p, "error", err)
		}
	}
}

// classifyFSError maps a filesystem error onto the install taxonomy.
func classifyFSError(path string, err error) error {
	if os.IsPermission(err) {
		return &PermissionError{Path: path, Err: err, Remedy: manualPermissionFix(path)}
	}
	return fmt.Errorf("filesystem error at %s: %w", path, err)
}
