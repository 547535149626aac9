package archive

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
)

// tarCompressor wraps out with the compression matching the container
// format. The standard library only reads bzip2, so the writer side
// comes from dsnet/compress.
func tarCompressor(out io.Writer, format Format) (io.Writer, func() error, error) {
	switch format {
	case FormatTarGz:
		gz := gzip.NewWriter(out)
		return gz, gz.Close, nil
	case FormatTarBz2:
		bz, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, nil, fmt.Errorf("archive: bzip2 writer: %w", err)
		}
		return bz, bz.Close, nil
	default:
		return nil, nil, domainerrors.NewUnsupportedArchive(fmt.Sprintf("format %q is not tar-based", format))
	}
}
