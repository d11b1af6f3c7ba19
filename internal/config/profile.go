package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EditorProfile is the permission and customization set handed to the
// external editor verbatim. It is loaded from EDITOR_PROFILE when set.
type EditorProfile struct {
	Permissions   map[string]bool `yaml:"permissions" json:"permissions"`
	Customization map[string]any  `yaml:"customization" json:"customization"`
}

// DefaultEditorProfile mirrors the permission block the editor expects for a
// full editing session.
func DefaultEditorProfile() EditorProfile {
	return EditorProfile{
		Permissions: map[string]bool{
			"edit":                 true,
			"download":             true,
			"review":               true,
			"comment":              true,
			"modifyFilter":         true,
			"modifyContentControl": true,
			"fillForms":            true,
		},
		Customization: map[string]any{
			"autosave": true,
			"comments": true,
			"zoom":     100,
		},
	}
}

// LoadEditorProfile reads a YAML profile from path. An empty path yields the
// default profile. Keys missing from the file keep their default values.
func LoadEditorProfile(path string) (EditorProfile, error) {
	profile := DefaultEditorProfile()
	if path == "" {
		return profile, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return EditorProfile{}, fmt.Errorf("read editor profile: %w", err)
	}

	var overlay EditorProfile
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return EditorProfile{}, fmt.Errorf("parse editor profile: %w", err)
	}
	for k, v := range overlay.Permissions {
		profile.Permissions[k] = v
	}
	for k, v := range overlay.Customization {
		profile.Customization[k] = v
	}
	return profile, nil
}
