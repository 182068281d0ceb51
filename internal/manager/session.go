package manager

import (
	"os"

	"gopkg.in/yaml.v3"
)

// sessionInstrument is the persisted shape of one spawned instrument.
type sessionInstrument struct {
	ID         string         `yaml:"id"`
	DriverType string         `yaml:"driver_type"`
	Config     map[string]any `yaml:"config"`
}

// sessionFile mirrors the {ActiveInstruments, StorageSettings, GuiState}
// shape: everything needed to reconstruct a running session plus
// whatever the UI layer wants to restore.
type sessionFile struct {
	ActiveInstruments []sessionInstrument `yaml:"active_instruments"`
	StorageFormat     string              `yaml:"storage_format"`
	GuiState          map[string]any      `yaml:"gui_state"`
}

// sessionStore persists sessions as YAML files; loading always replaces
// the current instrument set after stopping them, matching §7.
type sessionStore struct{}

func (sessionStore) Save(path string, instruments []InstrumentInfo, format string, guiState map[string]any) error {
	file := sessionFile{StorageFormat: format, GuiState: guiState}
	for _, info := range instruments {
		file.ActiveInstruments = append(file.ActiveInstruments, sessionInstrument{ID: info.ID, DriverType: info.DriverType, Config: info.Config})
	}
	data, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (sessionStore) Load(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file sessionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}
