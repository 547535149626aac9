package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	dbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

type member struct {
	name  string
	mtime time.Time
	body  string
}

func mtime(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func writeTarGz(t *testing.T, path string, members []member) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	writeTarMembers(t, gz, members)
	require.NoError(t, gz.Close())
}

func writeTarBz2(t *testing.T, path string, members []member) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	bz, err := dbzip2.NewWriter(f, &dbzip2.WriterConfig{Level: dbzip2.DefaultCompression})
	require.NoError(t, err)
	writeTarMembers(t, bz, members)
	require.NoError(t, bz.Close())
}

func writeTarMembers(t *testing.T, w interface{ Write([]byte) (int, error) }, members []member) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, m := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:    m.name,
			Mode:    0o644,
			Size:    int64(len(m.body)),
			ModTime: m.mtime,
		}))
		_, err := tw.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func writeZip(t *testing.T, path string, members []member) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, m := range members {
		hdr := &zip.FileHeader{Name: m.name, Modified: m.mtime}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

var septemberMembers = []member{
	{"logs/early.log", mtime("2025-09-01"), "early\n"},
	{"logs/middle.log", mtime("2025-09-15"), "middle\n"},
	{"logs/late.log", mtime("2025-10-01"), "late\n"},
}

func TestSniff(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "a.tar.gz")
	writeTarGz(t, gzPath, septemberMembers)
	bz2Path := filepath.Join(dir, "a.tar.bz2")
	writeTarBz2(t, bz2Path, septemberMembers)
	zipPath := filepath.Join(dir, "a.zip")
	writeZip(t, zipPath, septemberMembers)

	for path, want := range map[string]Format{
		gzPath:  FormatTarGz,
		bz2Path: FormatTarBz2,
		zipPath: FormatZip,
	} {
		got, err := Sniff(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Magic wins over a lying extension.
	lying := filepath.Join(dir, "actually_gzip.zip")
	writeTarGz(t, lying, septemberMembers)
	got, err := Sniff(lying)
	require.NoError(t, err)
	assert.Equal(t, FormatTarGz, got)

	unknown := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unknown, []byte("plain text here"), 0o644))
	_, err = Sniff(unknown)
	assert.True(t, domainerrors.IsKind(err, domainerrors.KindUnsupportedArchive))
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tar.gz")
	writeTarGz(t, path, septemberMembers)

	info, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 3, info.MemberCount)
	assert.Equal(t, mtime("2025-09-01"), info.EarliestMTime)
	assert.Equal(t, mtime("2025-10-01"), info.LatestMTime)
}

func TestFilterByTime_RetainsOnlyWindowMembers(t *testing.T) {
	window, err := values.ParseTimeWindow("2025-09-14", "2025-09-16")
	require.NoError(t, err)

	formats := []struct {
		name  string
		ext   string
		write func(*testing.T, string, []member)
	}{
		{"tar.gz", "a.tar.gz", writeTarGz},
		{"tar.bz2", "a.tar.bz2", writeTarBz2},
		{"zip", "a.zip", writeZip},
	}

	for _, fc := range formats {
		t.Run(fc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, fc.ext)
			dst := filepath.Join(dir, "filtered_"+fc.ext)
			fc.write(t, src, septemberMembers)

			res, err := FilterByTime(src, dst, window, time.Hour)
			require.NoError(t, err)
			assert.False(t, res.UsedOriginal)
			assert.Equal(t, 3, res.TotalMembers)
			assert.Equal(t, 1, res.RetainedMembers)

			// The output is the same container format with only the
			// in-window member, mtime preserved.
			info, err := Stat(dst)
			require.NoError(t, err)
			assert.Equal(t, res.Format, info.Format)
			assert.Equal(t, 1, info.MemberCount)
			assert.Equal(t, mtime("2025-09-15"), info.EarliestMTime)

			var names []string
			require.NoError(t, walkMembers(dst, info.Format, func(name string, _ time.Time) error {
				names = append(names, name)
				return nil
			}))
			assert.Equal(t, []string{"logs/middle.log"}, names)
		})
	}
}

func TestFilterByTime_EmptyResultKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.tar.gz")
	dst := filepath.Join(dir, "filtered.tar.gz")
	writeTarGz(t, src, septemberMembers)

	window, err := values.ParseTimeWindow("2030-01-01", "2030-01-02")
	require.NoError(t, err)

	res, err := FilterByTime(src, dst, window, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.UsedOriginal, "no member matches, the original archive stands")
	assert.Equal(t, res.TotalMembers, res.RetainedMembers)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "no output file is written when the original is used")
}

func TestFilterByTime_MostlyRetainedKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.tar.gz")
	dst := filepath.Join(dir, "filtered.tar.gz")
	writeTarGz(t, src, septemberMembers)

	// Everything matches: 3/3 > 80 %.
	window, err := values.ParseTimeWindow("2025-08-01", "2025-11-01")
	require.NoError(t, err)

	res, err := FilterByTime(src, dst, window, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.UsedOriginal)
}

func TestFilterByTime_BufferIsInclusive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.tar.gz")
	dst := filepath.Join(dir, "filtered.tar.gz")

	edge := mtime("2025-09-14").Add(-time.Hour) // exactly t0 - buffer
	writeTarGz(t, src, []member{
		{"edge.log", edge, "edge\n"},
		{"way_out.log", mtime("2025-01-01"), "out\n"},
		{"in.log", mtime("2025-09-15"), "in\n"},
		{"other_out.log", mtime("2025-12-01"), "out\n"},
		{"another_out.log", mtime("2025-12-02"), "out\n"},
	})

	window, err := values.ParseTimeWindow("2025-09-14", "2025-09-16")
	require.NoError(t, err)

	res, err := FilterByTime(src, dst, window, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.UsedOriginal)
	assert.Equal(t, 2, res.RetainedMembers, "the boundary member is inside the closed interval")
}

func TestStat_CorruptArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trunc.tar.gz")
	writeTarGz(t, path, septemberMembers)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/3], 0o644))

	_, err = Stat(path)
	assert.True(t, domainerrors.IsKind(err, domainerrors.KindCorruptArchive))
}
