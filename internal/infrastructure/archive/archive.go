// Package archive inspects and rewrites device log archives without
// extracting them. Supported formats: tar+bzip2, tar+gzip, zip.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

// Format identifies an archive container.
type Format string

const (
	FormatTarBz2  Format = "tar.bz2"
	FormatTarGz   Format = "tar.gz"
	FormatZip     Format = "zip"
	FormatUnknown Format = ""
)

// DefaultBuffer widens the filter window symmetrically: context lines
// just outside the requested window often matter to parsers.
const DefaultBuffer = time.Hour

// retainAllThreshold is the retained-member share above which the
// filter is not worth its copy cost and the original is used instead.
const retainAllThreshold = 0.8

// Info summarizes an archive without reading member bodies.
type Info struct {
	Format        Format
	MemberCount   int
	EarliestMTime time.Time
	LatestMTime   time.Time
}

// FilterResult describes the outcome of FilterByTime.
type FilterResult struct {
	Format          Format
	TotalMembers    int
	RetainedMembers int

	// UsedOriginal is set when filtering was skipped: either nothing
	// would remain, or so much would remain that filtering costs more
	// than it saves. In that case no output file was written.
	UsedOriginal bool
}

var magicSniffers = []struct {
	magic  []byte
	format Format
}{
	{[]byte("BZh"), FormatTarBz2},
	{[]byte{0x1f, 0x8b}, FormatTarGz},
	{[]byte("PK\x03\x04"), FormatZip},
}

// Sniff determines the archive format from magic bytes, falling back
// to the filename extension.
func Sniff(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("archive: open: %w", err)
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, domainerrors.NewCorruptArchive("archive is empty or unreadable").WithCause(err)
	}
	header = header[:n]

	for _, s := range magicSniffers {
		if len(header) >= len(s.magic) && string(header[:len(s.magic)]) == string(s.magic) {
			return s.format, nil
		}
	}

	switch {
	case strings.HasSuffix(path, ".tar.bz2") || strings.HasSuffix(path, ".tbz2"):
		return FormatTarBz2, nil
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(path, ".zip"):
		return FormatZip, nil
	}
	return FormatUnknown, domainerrors.NewUnsupportedArchive("unrecognized archive format")
}

// Stat enumerates members and their modification times. Tar bodies are
// skipped header-to-header; zip uses the central directory only.
func Stat(path string) (*Info, error) {
	format, err := Sniff(path)
	if err != nil {
		return nil, err
	}

	info := &Info{Format: format}
	walk := func(name string, mtime time.Time) error {
		info.MemberCount++
		mtime = mtime.UTC()
		if info.EarliestMTime.IsZero() || mtime.Before(info.EarliestMTime) {
			info.EarliestMTime = mtime
		}
		if mtime.After(info.LatestMTime) {
			info.LatestMTime = mtime
		}
		return nil
	}

	if err := walkMembers(path, format, walk); err != nil {
		return nil, err
	}
	return info, nil
}

// FilterByTime writes a sub-archive of src to dst containing only the
// members whose mtime falls within the buffered window, preserving
// names, modes and mtimes, in the same container format. The result
// says whether dst was actually produced; when UsedOriginal is set the
// caller keeps parsing the original archive.
func FilterByTime(srcPath, dstPath string, window values.TimeWindow, buffer time.Duration) (*FilterResult, error) {
	if window.IsZero() {
		return nil, fmt.Errorf("archive: filter requires a window")
	}
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	buffered := window.Buffered(buffer)

	format, err := Sniff(srcPath)
	if err != nil {
		return nil, err
	}

	// First pass: count so the >80 % and empty cases skip the copy.
	total, retained := 0, 0
	err = walkMembers(srcPath, format, func(name string, mtime time.Time) error {
		total++
		if buffered.Contains(mtime) {
			retained++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &FilterResult{Format: format, TotalMembers: total, RetainedMembers: retained}
	if retained == 0 || total == 0 || float64(retained) > retainAllThreshold*float64(total) {
		result.RetainedMembers = total
		result.UsedOriginal = true
		return result, nil
	}

	keep := func(mtime time.Time) bool { return buffered.Contains(mtime) }

	switch format {
	case FormatZip:
		err = filterZip(srcPath, dstPath, keep)
	default:
		err = filterTar(srcPath, dstPath, format, keep)
	}
	if err != nil {
		os.Remove(dstPath)
		return nil, err
	}
	return result, nil
}

// walkMembers visits each member's name and mtime.
func walkMembers(path string, format Format, fn func(name string, mtime time.Time) error) error {
	if format == FormatZip {
		r, err := zip.OpenReader(path)
		if err != nil {
			return domainerrors.NewCorruptArchive("zip central directory unreadable").WithCause(err)
		}
		defer r.Close()
		for _, f := range r.File {
			if strings.HasSuffix(f.Name, "/") {
				continue // directory entries carry no payload
			}
			if err := fn(f.Name, f.Modified); err != nil {
				return err
			}
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	defer f.Close()

	tr, closeDecomp, err := tarReader(f, format)
	if err != nil {
		return err
	}
	defer closeDecomp()

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return domainerrors.NewCorruptArchive("tar stream truncated or malformed").WithCause(err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(hdr.Name, hdr.ModTime); err != nil {
			return err
		}
	}
}

func tarReader(f *os.File, format Format) (*tar.Reader, func() error, error) {
	switch format {
	case FormatTarBz2:
		return tar.NewReader(bzip2.NewReader(f)), func() error { return nil }, nil
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, domainerrors.NewCorruptArchive("gzip stream unreadable").WithCause(err)
		}
		return tar.NewReader(gz), gz.Close, nil
	default:
		return nil, nil, domainerrors.NewUnsupportedArchive(fmt.Sprintf("format %q is not tar-based", format))
	}
}

func filterZip(srcPath, dstPath string, keep func(time.Time) bool) error {
	src, err := zip.OpenReader(srcPath)
	if err != nil {
		return domainerrors.NewCorruptArchive("zip central directory unreadable").WithCause(err)
	}
	defer src.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("archive: create output: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, f := range src.File {
		if strings.HasSuffix(f.Name, "/") || !keep(f.Modified) {
			continue
		}
		hdr := f.FileHeader
		w, err := zw.CreateHeader(&hdr)
		if err != nil {
			return fmt.Errorf("archive: zip member header: %w", err)
		}
		r, err := f.Open()
		if err != nil {
			return domainerrors.NewCorruptArchive(fmt.Sprintf("zip member %q unreadable", f.Name)).WithCause(err)
		}
		if _, err := io.Copy(w, r); err != nil {
			r.Close()
			return domainerrors.NewCorruptArchive(fmt.Sprintf("zip member %q truncated", f.Name)).WithCause(err)
		}
		r.Close()
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finalize zip: %w", err)
	}
	return out.Sync()
}

func filterTar(srcPath, dstPath string, format Format, keep func(time.Time) bool) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	defer src.Close()

	tr, closeDecomp, err := tarReader(src, format)
	if err != nil {
		return err
	}
	defer closeDecomp()

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("archive: create output: %w", err)
	}
	defer out.Close()

	compWriter, closeComp, err := tarCompressor(out, format)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(compWriter)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domainerrors.NewCorruptArchive("tar stream truncated or malformed").WithCause(err)
		}
		if hdr.Typeflag != tar.TypeReg || !keep(hdr.ModTime) {
			continue
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("archive: tar member header: %w", err)
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return domainerrors.NewCorruptArchive(fmt.Sprintf("tar member %q truncated", hdr.Name)).WithCause(err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: finalize tar: %w", err)
	}
	if err := closeComp(); err != nil {
		return fmt.Errorf("archive: finalize compressor: %w", err)
	}
	return out.Sync()
}

// FilteredName derives the output filename for a filtered archive,
// keeping the extension so later sniffing stays consistent.
func FilteredName(original string) string {
	base := filepath.Base(original)
	return "filtered_" + base
}
