package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions: owner rw, group/other r.
const configFilePermissions = 0o644

// configDirPermissions: owner rwx, group/other rx.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the target file exists.
var ErrConfigExists = errors.New("config: file already exists")

const configHeader = `# camara-sync configuration
# Every key is shown with its default value. Empty [schedule] entries
# disable that trigger.

`

// WriteDefault writes the default configuration to path. An existing file is
// never overwritten. The write is atomic (temp file + rename) and parent
// directories are created as needed.
func WriteDefault(path string) error {
	if path == "" {
		return errors.New("config: no config path (home directory unknown)")
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	if err := toml.NewEncoder(&buf).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it over path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
