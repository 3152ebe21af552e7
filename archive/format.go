package archive

import "fmt"

// Format is an archive format, also used as the file extension.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
	FormatTarLz4 Format = "tar.lz4"
)

// DefaultLevel is the compression level used when none is configured.
const DefaultLevel = 9

// Options configures the archive.
type Options struct {
	Format Format
	Level  int
}

// DefaultOptions returns a gzip archive with the best compression.
func DefaultOptions() Options {
	return Options{Format: FormatTarGz, Level: DefaultLevel}
}

// ParseFormat ...
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTarGz, FormatTarZst, FormatTarLz4:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported archive format: %s", s)
	}
}

// Extension returns the file extension without the leading dot.
func (f Format) Extension() string {
	return string(f)
}

func (f Format) levelRange() (int, int) {
	switch f {
	case FormatTarZst:
		return 1, 19
	case FormatTarLz4:
		return 0, 9
	default:
		return 1, 9
	}
}

// Validate checks the format and the compression level.
func (o Options) Validate() error {
	if _, err := ParseFormat(string(o.Format)); err != nil {
		return err
	}
	low, high := o.Format.levelRange()
	if o.Level < low || o.Level > high {
		return fmt.Errorf("compression level %d is out of range for %s (%d-%d)", o.Level, o.Format, low, high)
	}
	return nil
}

// compressor returns the binary the format needs and the command tar pipes through.
func (o Options) compressor() (string, string) {
	switch o.Format {
	case FormatTarZst:
		return "zstd", fmt.Sprintf("zstd -%d --threads=0", o.Level)
	case FormatTarLz4:
		return "lz4", fmt.Sprintf("lz4 -%d", max(o.Level, 1))
	default:
		return "gzip", fmt.Sprintf("gzip -%d", o.Level)
	}
}
