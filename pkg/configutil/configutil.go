// Package configutil reads configuration documents. The format follows the
// file extension: YAML for .yaml/.yml, JSON5 for .json5/.json. A sibling
// <name>.local.<ext> file, when present, is merged over the base document.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

func decode(ext string, data []byte, out any) error {
	switch ext {
	case "yaml", "yml":
		return yaml.Unmarshal(data, out)
	case "json5", "json":
		return json5.Unmarshal(data, out)
	}
	return fmt.Errorf("configutil: unsupported extension %q", ext)
}

// LocalPath returns the override path for name: dir/base.local.ext.
func LocalPath(name string) string {
	dir, file := filepath.Split(name)
	ext := filepath.Ext(file)
	return filepath.Join(dir, strings.TrimSuffix(file, ext)+".local"+ext)
}

// ReadInto decodes name into out. Fields out already holds and the
// document does not mention are kept, so callers pre-fill defaults.
// Non-zero fields of the local override win over the base. When neither
// file exists the error is os.ErrNotExist and out is untouched.
func ReadInto[T any](name string, out *T) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	found := false

	base, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		if err := decode(ext, base, out); err != nil {
			return fmt.Errorf("configutil: %s: %w", name, err)
		}
		found = true
	}

	localPath := LocalPath(name)
	local, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		var override T
		if err := decode(ext, local, &override); err != nil {
			return fmt.Errorf("configutil: %s: %w", localPath, err)
		}
		if err := mergo.Merge(out, override, mergo.WithOverride); err != nil {
			return fmt.Errorf("configutil: merge %s: %w", localPath, err)
		}
		slog.Info("merging config with local overrides", "local", localPath)
		found = true
	}

	if !found {
		return os.ErrNotExist
	}
	return nil
}

// Read is ReadInto on a zero T.
func Read[T any](name string) (T, error) {
	var out T
	err := ReadInto(name, &out)
	return out, err
}
