package step

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/bitrise-io/go-artifact-upload/archive"
	"github.com/bitrise-io/go-artifact-upload/stepconf"
)

const (
	IfNoFilesFoundWarn   = "warn"
	IfNoFilesFoundError  = "error"
	IfNoFilesFoundIgnore = "ignore"

	StorageB2 = "b2"
	StorageS3 = "s3"
)

// Inputs are the raw step inputs.
type Inputs struct {
	Name                string          `env:"name"`
	Path                string          `env:"path,required"`
	IfNoFilesFound      string          `env:"if_no_files_found,opt[warn,error,ignore]"`
	RetentionDays       int             `env:"retention_days,range[0..3650]"`
	Storage             string          `env:"storage,opt[b2,s3]"`
	KeyID               string          `env:"key_id,required"`
	Key                 stepconf.Secret `env:"key,required"`
	Bucket              string          `env:"bucket,required"`
	ChunkSize           string          `env:"chunk_size"`
	MemoryLimit         string          `env:"memory_limit"`
	CompressionLevel    int             `env:"compression_level"`
	ArchiveFormat       string          `env:"archive_format,opt[tar.gz,tar.zst,tar.lz4]"`
	S3Region            string          `env:"s3_region"`
	S3Endpoint          string          `env:"s3_endpoint"`
	TransientRetryLimit int             `env:"transient_retry_limit,range[0..1000]"`
	MetricsFile         string          `env:"metrics_file"`
	Verbose             bool            `env:"verbose"`
}

// Defaults are applied to inputs left empty.
var Defaults = map[string]string{
	"name":              "artifact",
	"if_no_files_found": IfNoFilesFoundWarn,
	"storage":           StorageB2,
	"chunk_size":        "256MB",
	"memory_limit":      "512MB",
	"compression_level": "9",
	"archive_format":    string(archive.FormatTarGz),
	"s3_region":         "us-east-1",
}

// Config is the validated step configuration.
type Config struct {
	Name                string
	Paths               []string
	IfNoFilesFound      string
	RetentionDays       int
	Storage             string
	KeyID               string
	Key                 stepconf.Secret
	Bucket              string
	ChunkSize           int64
	MemoryLimit         int64
	Archive             archive.Options
	S3Region            string
	S3Endpoint          string
	TransientRetryLimit int
	MetricsFile         string
	Verbose             bool
}

// ParseInputs reads the inputs from envGetter, filling in Defaults.
func ParseInputs(envGetter stepconf.EnvGetter) (Inputs, error) {
	var inputs Inputs
	if err := stepconf.NewInputParser(stepconf.WithDefaults(envGetter, Defaults)).Parse(&inputs); err != nil {
		return Inputs{}, err
	}
	return inputs, nil
}

// ProcessInputs validates inputs and converts them to a Config.
func ProcessInputs(inputs Inputs) (Config, error) {
	name := strings.TrimSpace(inputs.Name)
	if name == "" {
		return Config{}, fmt.Errorf("artifact name should not be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return Config{}, fmt.Errorf("artifact name should not contain path separators: %s", name)
	}

	paths := splitPaths(inputs.Path)
	if len(paths) == 0 {
		return Config{}, fmt.Errorf("no path provided")
	}

	chunkSize, err := parseSize("chunk_size", inputs.ChunkSize)
	if err != nil {
		return Config{}, err
	}
	memoryLimit, err := parseSize("memory_limit", inputs.MemoryLimit)
	if err != nil {
		return Config{}, err
	}

	format, err := archive.ParseFormat(inputs.ArchiveFormat)
	if err != nil {
		return Config{}, err
	}
	archiveOpts := archive.Options{Format: format, Level: inputs.CompressionLevel}
	if err := archiveOpts.Validate(); err != nil {
		return Config{}, err
	}

	return Config{
		Name:                name,
		Paths:               paths,
		IfNoFilesFound:      inputs.IfNoFilesFound,
		RetentionDays:       inputs.RetentionDays,
		Storage:             inputs.Storage,
		KeyID:               strings.TrimSpace(inputs.KeyID),
		Key:                 inputs.Key,
		Bucket:              strings.TrimSpace(inputs.Bucket),
		ChunkSize:           chunkSize,
		MemoryLimit:         memoryLimit,
		Archive:             archiveOpts,
		S3Region:            inputs.S3Region,
		S3Endpoint:          inputs.S3Endpoint,
		TransientRetryLimit: inputs.TransientRetryLimit,
		MetricsFile:         inputs.MetricsFile,
		Verbose:             inputs.Verbose,
	}, nil
}

func parseSize(input, value string) (int64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", input, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", input, value)
	}
	return size, nil
}

// splitPaths splits the newline separated path input. Entries are trimmed of
// whitespace and slashes, empty entries and duplicates are dropped.
func splitPaths(input string) []string {
	seen := map[string]bool{}
	var paths []string
	for _, line := range strings.Split(input, "\n") {
		p := strings.Trim(strings.TrimSpace(line), "/")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths
}
