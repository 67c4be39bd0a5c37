package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// Settings is the flat application configuration persisted as JSON. A
// missing file yields the defaults; unknown keys are ignored.
type Settings struct {
	DeviceName       string `json:"device_name"`
	ModelPath        string `json:"model_path"`
	ProfilesDir      string `json:"profiles_dir"`
	RecordUtterances bool   `json:"record_utterances"`
	RecordingsDir    string `json:"recordings_dir"`
	LogLevel         string `json:"log_level"`
	LogDir           string `json:"log_dir"`
}

func Default() Settings {
	return Settings{
		ProfilesDir:   "profiles",
		RecordingsDir: "recordings",
		LogLevel:      "info",
	}
}

func Load(fileSys afero.Fs, path string) (Settings, error) {
	s := Default()

	data, err := afero.ReadFile(fileSys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("reading settings: %w", err)
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("decoding settings: %w", err)
	}

	return s, nil
}

func Save(fileSys afero.Fs, path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := afero.WriteFile(fileSys, path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	return nil
}
