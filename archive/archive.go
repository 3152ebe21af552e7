// Package archive creates the compressed tar archive that gets uploaded.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrNoFilesFound is returned when none of the paths has anything to archive.
var ErrNoFilesFound = errors.New("no files found")

// ArchiveDependencyChecker ...
type ArchiveDependencyChecker interface {
	CheckDependencies(format Format) bool
}

// DependencyChecker ...
type DependencyChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker ...
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) *DependencyChecker {
	return &DependencyChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

// CheckDependencies reports whether tar and the format's compressor are installed.
func (dc *DependencyChecker) CheckDependencies(format Format) bool {
	binary, _ := Options{Format: format, Level: DefaultLevel}.compressor()
	return dc.checkDependency("tar") && dc.checkDependency(binary)
}

func (dc *DependencyChecker) checkDependency(binaryName string) bool {
	cmdFactory := command.NewFactory(dc.envRepo)
	cmd := cmdFactory.Create("which", []string{binaryName}, nil)
	dc.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver ...
type Archiver struct {
	logger                   log.Logger
	envRepo                  env.Repository
	archiveDependencyChecker ArchiveDependencyChecker
}

// NewArchiver ...
func NewArchiver(logger log.Logger, envRepo env.Repository, archiveDependencyChecker ArchiveDependencyChecker) *Archiver {
	return &Archiver{
		logger:                   logger,
		envRepo:                  envRepo,
		archiveDependencyChecker: archiveDependencyChecker,
	}
}

// Compress creates an archive of paths, given relative to baseDir.
// Entry names are relative to baseDir as well.
func (a *Archiver) Compress(archivePath, baseDir string, paths []string, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	for _, p := range paths {
		if err := checkRelative(p); err != nil {
			return err
		}
	}

	if !a.archiveDependencyChecker.CheckDependencies(opts.Format) {
		a.logger.Infof("Falling back to native implementation of %s.", opts.Format)
		if err := a.compressWithGoLib(archivePath, baseDir, paths, opts); err != nil {
			return fmt.Errorf("compress files: %w", err)
		}
		return nil
	}

	binary, _ := opts.compressor()
	a.logger.Infof("Using installed %s binary", binary)
	if err := a.compressWithBinary(archivePath, baseDir, paths, opts); err != nil {
		return fmt.Errorf("compress files: %w", err)
	}
	return nil
}

func checkRelative(p string) error {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path is outside of the base directory: %s", p)
	}
	return nil
}

func newCompressWriter(w io.Writer, opts Options) (io.WriteCloser, error) {
	switch opts.Format {
	case FormatTarZst:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
	case FormatTarLz4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(opts.Level))); err != nil {
			return nil, err
		}
		return zw, nil
	default:
		return gzip.NewWriterLevel(w, opts.Level)
	}
}

func lz4Level(level int) lz4.CompressionLevel {
	levels := []lz4.CompressionLevel{
		lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
		lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
	}
	return levels[min(max(level, 0), len(levels)-1)]
}

func (a *Archiver) compressWithGoLib(archivePath, baseDir string, paths []string, opts Options) (err error) {
	fileToWrite, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if closeErr := fileToWrite.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", closeErr)
		}
	}()

	cw, err := newCompressWriter(fileToWrite, opts)
	if err != nil {
		return fmt.Errorf("create %s writer: %w", opts.Format, err)
	}
	tw := tar.NewWriter(cw)

	for _, p := range paths {
		root := filepath.Join(baseDir, filepath.Clean(p))
		if err := filepath.Walk(root, func(file string, fi os.FileInfo, e error) error {
			if e != nil {
				return e
			}
			return a.writeEntry(tw, baseDir, file, fi)
		}); err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("close %s writer: %w", opts.Format, err)
	}
	return nil
}

func (a *Archiver) writeEntry(tw *tar.Writer, baseDir, file string, fi os.FileInfo) error {
	isSymlink := fi.Mode()&os.ModeSymlink != 0
	if !fi.Mode().IsRegular() && !fi.IsDir() && !isSymlink {
		a.logger.Debugf("Skipping %s, not a regular file", file)
		return nil
	}

	var link string
	if isSymlink {
		var err error
		if link, err = os.Readlink(file); err != nil {
			return fmt.Errorf("read symlink: %w", err)
		}
	}

	header, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}

	rel, err := filepath.Rel(baseDir, file)
	if err != nil {
		return fmt.Errorf("relative path of %s: %w", file, err)
	}
	header.Name = filepath.ToSlash(rel)
	if fi.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar file header: %w", err)
	}

	if !fi.Mode().IsRegular() {
		return nil
	}

	data, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(tw, data); err != nil {
		data.Close() //nolint:errcheck
		return fmt.Errorf("copy %s: %w", file, err)
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func compressArgs(archivePath, baseDir string, paths []string, opts Options) []string {
	_, program := opts.compressor()

	/*
		tar arguments:
		--use-compress-program: Pipe the output through the format's compressor
		-C: Entry names are relative to the base directory
		-c: Create archive
		-f: Output file
	*/
	args := []string{
		"--use-compress-program", program,
		"-C", baseDir,
		"-c",
		"-f", archivePath,
	}
	for _, p := range paths {
		args = append(args, filepath.Clean(p))
	}
	return args
}

func (a *Archiver) compressWithBinary(archivePath, baseDir string, paths []string, opts Options) error {
	cmdFactory := command.NewFactory(a.envRepo)
	cmd := cmdFactory.Create("tar", compressArgs(archivePath, baseDir, paths, opts), nil)

	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return nil
}

// AreAllPathsEmpty reports whether every path is missing or an empty directory.
func AreAllPathsEmpty(paths []string) bool {
	for _, path := range paths {
		if !isEmptyPath(path) {
			return false
		}
	}
	return true
}

func isEmptyPath(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	if !info.IsDir() {
		return false
	}

	dir, err := os.Open(path)
	if err != nil {
		return true
	}
	defer dir.Close() //nolint:errcheck

	_, err = dir.Readdirnames(1)
	return errors.Is(err, io.EOF)
}
