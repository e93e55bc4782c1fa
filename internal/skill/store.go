// Package skill persists named playback configurations.
package skill

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/hkondo/kbreplay/internal/lock"
	"github.com/hkondo/kbreplay/internal/model"
	yamlutil "github.com/hkondo/kbreplay/internal/yaml"
)

var ErrNotFound = errors.New("skill: not found")

// Skill is one saved macro configuration: a recording reference plus the
// transform parameters to play it with.
type Skill struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Recording       string   `yaml:"recording" json:"recording"`
	Speed           float64  `yaml:"speed" json:"speed"`
	JitterTime      float64  `yaml:"jitter_time" json:"jitter_time"`
	JitterHold      float64  `yaml:"jitter_hold" json:"jitter_hold"`
	LoopCount       int      `yaml:"loop_count" json:"loop_count"`
	IgnoreKeys      []string `yaml:"ignore_keys,omitempty" json:"ignore_keys,omitempty"`
	IgnoreTolerance float64  `yaml:"ignore_tolerance" json:"ignore_tolerance"`
	Position        int      `yaml:"position" json:"position"`
	CreatedAt       string   `yaml:"created_at" json:"created_at"`
	UpdatedAt       string   `yaml:"updated_at" json:"updated_at"`
}

// File is the on-disk schema envelope.
type File struct {
	SchemaVersion int     `yaml:"schema_version"`
	FileType      string  `yaml:"file_type"`
	Skills        []Skill `yaml:"skills"`
}

const (
	schemaVersion = 1
	fileType      = "skills"
	lockKey       = "skills"
)

// Store is a YAML-backed skill collection. All mutations go through the
// shared mutex map and an atomic write, so concurrent IPC handlers cannot
// tear the file.
type Store struct {
	path    string
	lockMap *lock.MutexMap
	nowFunc func() string
}

func NewStore(path string, lockMap *lock.MutexMap) *Store {
	if lockMap == nil {
		lockMap = lock.NewMutexMap()
	}
	return &Store{path: path, lockMap: lockMap, nowFunc: nowRFC3339}
}

// List returns all skills ordered by position.
func (s *Store) List() ([]Skill, error) {
	s.lockMap.Lock(lockKey)
	defer s.lockMap.Unlock(lockKey)

	sf, err := s.load()
	if err != nil {
		return nil, err
	}
	return sf.Skills, nil
}

// Get returns the skill with the given ID.
func (s *Store) Get(id string) (*Skill, error) {
	s.lockMap.Lock(lockKey)
	defer s.lockMap.Unlock(lockKey)

	sf, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range sf.Skills {
		if sf.Skills[i].ID == id {
			sk := sf.Skills[i]
			return &sk, nil
		}
	}
	return nil, fmt.Errorf("skill %s: %w", id, ErrNotFound)
}

// Create validates and appends a new skill, assigning its ID and position.
func (s *Store) Create(sk Skill) (*Skill, error) {
	if err := validate(sk); err != nil {
		return nil, err
	}

	s.lockMap.Lock(lockKey)
	defer s.lockMap.Unlock(lockKey)

	sf, err := s.load()
	if err != nil {
		return nil, err
	}

	id, err := model.GenerateID(model.IDTypeSkill)
	if err != nil {
		return nil, fmt.Errorf("generate skill ID: %w", err)
	}

	now := s.nowFunc()
	sk.ID = id
	sk.Position = len(sf.Skills)
	sk.CreatedAt = now
	sk.UpdatedAt = now
	if sk.Speed <= 0 {
		sk.Speed = 1.0
	}
	if sk.LoopCount < 1 {
		sk.LoopCount = 1
	}

	sf.Skills = append(sf.Skills, sk)
	if err := s.save(sf); err != nil {
		return nil, err
	}
	return &sk, nil
}

// Update replaces the mutable fields of an existing skill.
func (s *Store) Update(sk Skill) (*Skill, error) {
	if sk.ID == "" {
		return nil, errors.New("skill: missing required field: id")
	}
	if err := validate(sk); err != nil {
		return nil, err
	}

	s.lockMap.Lock(lockKey)
	defer s.lockMap.Unlock(lockKey)

	sf, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range sf.Skills {
		if sf.Skills[i].ID != sk.ID {
			continue
		}
		sk.Position = sf.Skills[i].Position
		sk.CreatedAt = sf.Skills[i].CreatedAt
		sk.UpdatedAt = s.nowFunc()
		if sk.Speed <= 0 {
			sk.Speed = 1.0
		}
		if sk.LoopCount < 1 {
			sk.LoopCount = 1
		}
		sf.Skills[i] = sk
		if err := s.save(sf); err != nil {
			return nil, err
		}
		return &sk, nil
	}
	return nil, fmt.Errorf("skill %s: %w", sk.ID, ErrNotFound)
}

// Delete removes a skill and compacts the remaining positions.
func (s *Store) Delete(id string) error {
	s.lockMap.Lock(lockKey)
	defer s.lockMap.Unlock(lockKey)

	sf, err := s.load()
	if err != nil {
		return err
	}

	idx := -1
	for i := range sf.Skills {
		if sf.Skills[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("skill %s: %w", id, ErrNotFound)
	}

	sf.Skills = append(sf.Skills[:idx], sf.Skills[idx+1:]...)
	for i := range sf.Skills {
		sf.Skills[i].Position = i
	}
	return s.save(sf)
}

// Reorder rewrites positions to match the given ID order. Every stored
// skill must appear exactly once.
func (s *Store) Reorder(ids []string) error {
	s.lockMap.Lock(lockKey)
	defer s.lockMap.Unlock(lockKey)

	sf, err := s.load()
	if err != nil {
		return err
	}

	if len(ids) != len(sf.Skills) {
		return fmt.Errorf("skill: reorder lists %d IDs, store has %d", len(ids), len(sf.Skills))
	}

	byID := make(map[string]*Skill, len(sf.Skills))
	for i := range sf.Skills {
		byID[sf.Skills[i].ID] = &sf.Skills[i]
	}

	now := s.nowFunc()
	for pos, id := range ids {
		sk, ok := byID[id]
		if !ok {
			return fmt.Errorf("skill %s: %w", id, ErrNotFound)
		}
		if sk.Position != pos {
			sk.UpdatedAt = now
		}
		sk.Position = pos
		delete(byID, id)
	}

	sort.SliceStable(sf.Skills, func(i, j int) bool {
		return sf.Skills[i].Position < sf.Skills[j].Position
	})
	return s.save(sf)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func validate(sk Skill) error {
	if sk.Name == "" {
		return errors.New("skill: missing required field: name")
	}
	if sk.Recording == "" {
		return errors.New("skill: missing required field: recording")
	}
	return nil
}

func (s *Store) load() (*File, error) {
	var sf File
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{SchemaVersion: schemaVersion, FileType: fileType}, nil
		}
		return nil, fmt.Errorf("read skills: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse skills: %w", err)
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = schemaVersion
		sf.FileType = fileType
	}
	sort.SliceStable(sf.Skills, func(i, j int) bool {
		return sf.Skills[i].Position < sf.Skills[j].Position
	})
	return &sf, nil
}

func (s *Store) save(sf *File) error {
	if err := yamlutil.AtomicWrite(s.path, sf); err != nil {
		return fmt.Errorf("write skills: %w", err)
	}
	return nil
}
