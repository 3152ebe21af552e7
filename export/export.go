package export

import (
	"fmt"
	"sort"

	"github.com/bitrise-io/go-utils/v2/command"
)

// OutputExporter exposes step outputs to subsequent steps.
type OutputExporter interface {
	ExportOutput(key, value string) error
	ExportOutputNoExpand(key, value string) error
	ExportSecretOutput(key, value string) error
}

// Exporter ...
type Exporter struct {
	cmdFactory command.Factory
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return Exporter{cmdFactory: cmdFactory}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e Exporter) ExportOutput(key, value string) error {
	return e.envmanAdd(key, value)
}

// ExportOutputNoExpand works like ExportOutput but does not expand environment variables in the value.
// Object names built from user input go through this.
func (e Exporter) ExportOutputNoExpand(key, value string) error {
	return e.envmanAdd(key, value, "--no-expand")
}

// ExportSecretOutput is used for exposing secret values for other steps.
func (e Exporter) ExportSecretOutput(key, value string) error {
	return e.envmanAdd(key, value, "--sensitive")
}

// ExportOutputs exports every key of outputs in sorted order, without expansion.
func ExportOutputs(exporter OutputExporter, outputs map[string]string) error {
	keys := make([]string, 0, len(outputs))
	for key := range outputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := exporter.ExportOutputNoExpand(key, outputs[key]); err != nil {
			return fmt.Errorf("failed to export %s: %w", key, err)
		}
	}
	return nil
}

func (e Exporter) envmanAdd(key, value string, flags ...string) error {
	args := append([]string{"add", "--key", key, "--value", value}, flags...)
	return runExport(e.cmdFactory.Create("envman", args, nil))
}

func runExport(cmd command.Command) error {
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting output with envman failed: %s, output: %s", err, out)
	}
	return nil
}
