package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// RenderEffective writes the resolved configuration to w as TOML, prefixed
// with the file it was loaded from. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	source := r.Path
	if source == "" {
		source = "(defaults)"
	}

	if _, err := fmt.Fprintf(w, "# Effective configuration (file: %s)\n\n", source); err != nil {
		return err
	}

	if err := toml.NewEncoder(w).Encode(r.Config); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
