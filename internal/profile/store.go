package profile

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store keeps named profiles in a YAML file, preserving file order.
// All methods are safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

type storeFile struct {
	Profiles []Profile `yaml:"profiles"`
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Defaults returns the stock profiles written on first use.
func Defaults() []Profile {
	return []Profile{
		{
			Name: "Default CC",
			Steps: []Step{
				{Kind: ConstantCurrent, Level: 10, Stop: StopCondition{Metric: MetricVoltage, Threshold: 350}},
				{Kind: ConstantCurrent, Level: 5, Stop: StopCondition{Metric: MetricVoltage, Threshold: 300}},
			},
		},
		{
			Name: "Default CP",
			Steps: []Step{
				{Kind: ConstantPower, Level: 2000, Stop: StopCondition{Metric: MetricVoltage, Threshold: 320}},
			},
		},
		{
			Name: "Default CV",
			Steps: []Step{
				{Kind: ConstantVoltage, Level: 380, Stop: StopCondition{Metric: MetricCurrent, Threshold: 0.5}},
			},
		},
	}
}

// EnsureDefaults writes the stock profiles when no store file exists yet.
func (s *Store) EnsureDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(ErrStoreAccess, err)
	}

	return s.write(Defaults())
}

// List returns all stored profiles. A missing store file reads as empty.
func (s *Store) List() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

// Get returns the named profile.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return Profile{}, err
	}

	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}

	return Profile{}, errFactory.New(ErrNotFound).
		WithData(struct{ Name string }{Name: name})
}

// Save inserts or replaces a profile by name. The profile must pass
// structural validation; starting-point checks are deferred to session
// start since the store cannot know them.
func (s *Store) Save(p Profile) error {
	if p.Name == "" {
		return errFactory.New(ErrUnnamed)
	}
	if err := p.Validate(Starting{}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range profiles {
		if existing.Name == p.Name {
			profiles[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		profiles = append(profiles, p)
	}

	return s.write(profiles)
}

// Delete removes the named profile.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return err
	}

	for i, p := range profiles {
		if p.Name == name {
			return s.write(append(profiles[:i], profiles[i+1:]...))
		}
	}

	return errFactory.New(ErrNotFound).
		WithData(struct{ Name string }{Name: name})
}

func (s *Store) read() ([]Profile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStoreAccess, err)
	}

	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errFactory.Wrap(ErrStoreMalformed, err)
	}

	return file.Profiles, nil
}

func (s *Store) write(profiles []Profile) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errFactory.Wrap(ErrStoreAccess, err)
		}
	}

	data, err := yaml.Marshal(storeFile{Profiles: profiles})
	if err != nil {
		return errFactory.Wrap(ErrStoreAccess, err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errFactory.Wrap(ErrStoreAccess, err)
	}

	return nil
}
