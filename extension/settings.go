package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SettingsDir returns the JupyterLab user-settings directory.
// Resolution order: $JUPYTERLAB_SETTINGS_DIR > ~/.jupyter/lab/user-settings
func SettingsDir() string {
	if dir := os.Getenv("JUPYTERLAB_SETTINGS_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "jupyter-user-settings")
	}
	return filepath.Join(home, ".jupyter", "lab", "user-settings")
}

// schemaDefaults are the defaults declared by each plugin's settings schema.
var schemaDefaults = map[string]map[string]any{
	PluginID: {APIKeyField: ""},
}

// FileRegistry reads JupyterLab user-settings files
// (<dir>/<extension>/<plugin>.jupyterlab-settings).
type FileRegistry struct {
	Dir string
}

// NewFileRegistry creates a registry rooted at dir ("" = SettingsDir()).
func NewFileRegistry(dir string) *FileRegistry {
	if dir == "" {
		dir = SettingsDir()
	}
	return &FileRegistry{Dir: dir}
}

// Path returns the settings file for pluginID.
func (r *FileRegistry) Path(pluginID string) (string, error) {
	ext, plugin, ok := strings.Cut(pluginID, ":")
	if !ok || ext == "" || plugin == "" {
		return "", fmt.Errorf("invalid plugin id %q", pluginID)
	}
	return filepath.Join(r.Dir, ext, plugin+".jupyterlab-settings"), nil
}

// Load returns the schema defaults overlaid with the user's settings file.
// A missing file yields the defaults.
func (r *FileRegistry) Load(ctx context.Context, pluginID string) (*Settings, error) {
	path, err := r.Path(pluginID)
	if err != nil {
		return nil, err
	}

	composite := make(map[string]any)
	for k, v := range schemaDefaults[pluginID] {
		composite[k] = v
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{Composite: composite}, nil
		}
		return nil, err
	}

	var user map[string]any
	if err := json.Unmarshal(stripLineComments(data), &user); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range user {
		composite[k] = v
	}
	return &Settings{Composite: composite}, nil
}

// stripLineComments drops whole-line // comments, which JupyterLab writes
// into settings files.
func stripLineComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	out := lines[:0]
	for _, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}
