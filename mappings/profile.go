package mappings

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Profile is a named, ordered collection of mappings. The whole set is
// replaced atomically when a profile is installed.
type Profile struct {
	Name     string    `json:"name"`
	Mappings []Mapping `json:"mappings"`
}

// Validate collects the problems of every mapping in the profile, each
// prefixed with the offending voice command.
func (p Profile) Validate() []string {
	var problems []string
	for i, m := range p.Mappings {
		for _, problem := range m.Validate() {
			problems = append(problems, fmt.Sprintf("mapping %d (%q): %s", i, m.VoiceCommand, problem))
		}
	}
	return problems
}

// Store persists profiles as JSON files, one per profile, under a single
// directory.
type Store struct {
	fileSys afero.Fs
	dir     string
	logger  *zap.Logger
}

type StoreConfig struct {
	FileSys afero.Fs
	Dir     string
	Logger  *zap.Logger
}

func NewStore(cfg *StoreConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("dir is empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.FileSys.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profile dir: %w", err)
	}

	return &Store{
		fileSys: cfg.FileSys,
		dir:     cfg.Dir,
		logger:  logger,
	}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// List returns the names of all stored profiles.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fileSys, s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}

	return names, nil
}

func (s *Store) Load(name string) (Profile, error) {
	data, err := afero.ReadFile(s.fileSys, s.path(name))
	if err != nil {
		return Profile{}, fmt.Errorf("reading profile %q: %w", name, err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("decoding profile %q: %w", name, err)
	}

	return profile, nil
}

func (s *Store) Save(profile Profile) error {
	if profile.Name == "" {
		return fmt.Errorf("profile name is empty")
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile %q: %w", profile.Name, err)
	}

	if err := afero.WriteFile(s.fileSys, s.path(profile.Name), data, 0o644); err != nil {
		return fmt.Errorf("writing profile %q: %w", profile.Name, err)
	}

	s.logger.Info("profile saved", zap.String("name", profile.Name))

	return nil
}

func (s *Store) Delete(name string) error {
	if err := s.fileSys.Remove(s.path(name)); err != nil {
		return fmt.Errorf("deleting profile %q: %w", name, err)
	}

	s.logger.Info("profile deleted", zap.String("name", name))

	return nil
}

// EnsureDefault creates the starter profile when the store is empty and
// returns the name of a profile that is known to exist.
func (s *Store) EnsureDefault() (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}

	if len(names) > 0 {
		return names[0], nil
	}

	profile := DefaultProfile()
	if err := s.Save(profile); err != nil {
		return "", err
	}

	return profile.Name, nil
}

// DefaultProfile is the starter mapping set installed on first run.
func DefaultProfile() Profile {
	tap := func(command, input string, durationMs int) Mapping {
		return Mapping{VoiceCommand: command, TargetInput: input, Action: ActionTap, DurationMs: durationMs}
	}
	hold := func(command, input string) Mapping {
		return Mapping{VoiceCommand: command, TargetInput: input, Action: ActionHold}
	}
	release := func(command, input string) Mapping {
		return Mapping{VoiceCommand: command, TargetInput: input, Action: ActionRelease}
	}
	analog := func(command, input string, value float64) Mapping {
		return Mapping{VoiceCommand: command, TargetInput: input, Action: ActionAnalog, AnalogValue: value}
	}

	return Profile{
		Name: "default",
		Mappings: []Mapping{
			tap("jump", "a", 200),
			tap("attack", "x", 200),
			hold("block", "b"),
			release("release block", "b"),
			tap("menu", "start", 200),
			tap("up", "dpad_up", 200),
			tap("down", "dpad_down", 200),
			tap("left", "dpad_left", 200),
			tap("right", "dpad_right", 200),
			hold("hold up", "dpad_up"),
			hold("hold down", "dpad_down"),
			hold("hold left", "dpad_left"),
			hold("hold right", "dpad_right"),
			release("release up", "dpad_up"),
			release("release down", "dpad_down"),
			release("release left", "dpad_left"),
			release("release right", "dpad_right"),
			tap("long up", "dpad_up", 800),
			tap("long down", "dpad_down", 800),
			tap("long left", "dpad_left", 800),
			tap("long right", "dpad_right", 800),
			analog("walk left", "left_stick_x", -0.5),
			analog("walk right", "left_stick_x", 0.5),
			analog("run left", "left_stick_x", -1.0),
			analog("run right", "left_stick_x", 1.0),
			analog("stop", "left_stick_x", 0.0),
		},
	}
}
