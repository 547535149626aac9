package ingest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
)

// progressFlushInterval throttles Redis writes during a URL download.
const progressFlushInterval = 500 * time.Millisecond

// NormalizeURL trims the copy-paste artifacts users bring from chat
// clients (trailing whitespace, backslashes) and requires an http(s)
// scheme.
func NormalizeURL(raw string) (string, error) {
	cleaned := strings.TrimRight(strings.TrimSpace(raw), "\\")
	if !strings.HasPrefix(cleaned, "http://") && !strings.HasPrefix(cleaned, "https://") {
		return "", domainerrors.NewInputInvalid("INVALID_URL", "file_url must start with http:// or https://")
	}
	if _, err := url.Parse(cleaned); err != nil {
		return "", domainerrors.NewInputInvalid("INVALID_URL", "file_url is not a valid URL")
	}
	return cleaned, nil
}

// filenameFromURL takes the last path segment, query stripped. A bare
// host yields "download".
func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "download"
	}
	return name
}

// fetchURL streams a remote archive to scratch, publishing download
// progress and enforcing the size cap as bytes arrive.
func (s *Service) fetchURL(ctx context.Context, p *principal.Principal, rawURL string) (scratch, filename string, size int64, sha string, err error) {
	cleaned, err := NormalizeURL(rawURL)
	if err != nil {
		return "", "", 0, "", err
	}
	filename = filenameFromURL(cleaned)

	ctx, cancel := context.WithTimeout(ctx, s.urlFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cleaned, nil)
	if err != nil {
		return "", "", 0, "", domainerrors.NewInputInvalid("INVALID_URL", "file_url is not a valid URL")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", 0, "", mapFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, "", mapFetchStatus(resp.StatusCode)
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", 0, "", domainerrors.NewInternal("failed to generate scratch name").WithCause(err)
	}
	scratch = filepath.Join(s.scratchDir, "fetch_"+hex.EncodeToString(buf[:]))
	dst, err := os.OpenFile(scratch, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", 0, "", domainerrors.NewInternal("failed to create scratch file").WithCause(err)
	}

	s.progress.SetDownload(ctx, p.ID, cache.DownloadProgress{Downloading: true, Total: resp.ContentLength})
	defer s.progress.ClearDownload(context.Background(), p.ID)

	hasher := sha256.New()
	size, err = s.copyWithProgress(ctx, p, io.MultiWriter(dst, hasher), resp.Body, resp.ContentLength)
	closeErr := dst.Close()

	switch {
	case err != nil:
		os.Remove(scratch)
		return "", "", 0, "", err
	case closeErr != nil:
		os.Remove(scratch)
		return "", "", 0, "", domainerrors.NewInternal("failed to write download").WithCause(closeErr)
	}
	return scratch, filename, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// copyWithProgress drains src into dst, flushing progress to Redis at
// most every progressFlushInterval. A partial download over the cap is
// abandoned immediately rather than drained to the end.
func (s *Service) copyWithProgress(ctx context.Context, p *principal.Principal, dst io.Writer, src io.Reader, total int64) (int64, error) {
	var (
		written   int64
		lastFlush time.Time
		chunk     = make([]byte, 256<<10)
	)
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			if written+int64(n) > s.maxBytes {
				return written, domainerrors.NewSizeExceeded(
					fmt.Sprintf("download exceeds the %d MB limit", s.maxBytes>>20))
			}
			if _, err := dst.Write(chunk[:n]); err != nil {
				return written, domainerrors.NewInternal("failed to write download").WithCause(err)
			}
			written += int64(n)

			if time.Since(lastFlush) >= progressFlushInterval {
				lastFlush = time.Now()
				s.progress.SetDownload(ctx, p.ID, downloadProgress(written, total))
			}
		}
		if readErr == io.EOF {
			s.progress.SetDownload(ctx, p.ID, downloadProgress(written, total))
			return written, nil
		}
		if readErr != nil {
			return written, mapFetchError(readErr)
		}
	}
}

func downloadProgress(written, total int64) cache.DownloadProgress {
	p := cache.DownloadProgress{Downloading: true, Downloaded: written, Total: total}
	if total > 0 {
		p.Pct = int(written * 100 / total)
		if p.Pct > 100 {
			p.Pct = 100
		}
	}
	return p
}

// mapFetchStatus turns upstream HTTP failures into the user-facing
// messages the web client shows verbatim.
func mapFetchStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domainerrors.NewUrlFetchFailed("Access denied. The URL requires authentication or the link has expired.")
	case status == http.StatusNotFound:
		return domainerrors.NewUrlFetchFailed("File not found. The URL may have expired.")
	default:
		return domainerrors.NewUrlFetchFailed(fmt.Sprintf("The remote server returned status %d.", status))
	}
}

func mapFetchError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domainerrors.NewUrlFetchFailed("Download timed out. The remote server is too slow.")
	case errors.As(err, &netErr) && netErr.Timeout():
		return domainerrors.NewUrlFetchFailed("Download timed out. The remote server is too slow.")
	case errors.Is(err, context.Canceled):
		return domainerrors.NewUrlFetchFailed("The download was interrupted.")
	default:
		return domainerrors.NewUrlFetchFailed("Could not connect to the remote server.")
	}
}
