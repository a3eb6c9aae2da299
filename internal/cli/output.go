package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by the session commands.
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ResolveFormat turns FormatAuto into YAML for terminals and JSON for pipes,
// so scripts get machine-readable output by default.
func ResolveFormat(format string, w io.Writer) (string, error) {
	switch format {
	case FormatJSON, FormatYAML:
		return format, nil
	case FormatAuto, "":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return FormatYAML, nil
		}
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want auto, json or yaml)", format)
}

// Print writes v to w in the given format.
func Print(w io.Writer, format string, v any) error {
	format, err := ResolveFormat(format, w)
	if err != nil {
		return err
	}
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
