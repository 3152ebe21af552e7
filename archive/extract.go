package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Extract unpacks an archive created by Compress into destination.
// Entries that would land outside destination are rejected.
func Extract(archivePath, destination string, format Format) error {
	compressedFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", archivePath, err)
	}
	defer compressedFile.Close() //nolint:errcheck

	r, err := newDecompressReader(compressedFile, format)
	if err != nil {
		return fmt.Errorf("create %s reader: %w", format, err)
	}
	defer r.Close() //nolint:errcheck

	root := filepath.Clean(destination)
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar file: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("illegal entry path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create target directories: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create target directories: %w", err)
			}
			fileToWrite, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			if _, err := io.Copy(fileToWrite, tr); err != nil {
				fileToWrite.Close() //nolint:errcheck
				return fmt.Errorf("copy content to file: %w", err)
			}
			if err := fileToWrite.Close(); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create target directories: %w", err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("symlink file: %w", err)
			}
		}
	}
	return nil
}

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

type zstdCloser struct{ *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func newDecompressReader(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdCloser{zr}, nil
	case FormatTarLz4:
		return nopCloser{lz4.NewReader(r)}, nil
	case FormatTarGz:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", format)
	}
}
