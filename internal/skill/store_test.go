package skill

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "skills.yaml"), nil)
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(Skill{
		Name:      "farm-loop",
		Recording: "farm.json",
		Speed:     1.5,
		LoopCount: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 0, created.Position)
	assert.NotEmpty(t, created.CreatedAt)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "farm-loop", got.Name)
	assert.Equal(t, 1.5, got.Speed)
}

func TestStore_CreateDefaults(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(Skill{Name: "x", Recording: "x.json"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, created.Speed)
	assert.Equal(t, 1, created.LoopCount)
}

func TestStore_CreateMissingFields(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(Skill{Recording: "x.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field: name")

	_, err = s.Create(Skill{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field: recording")
}

func TestStore_ListOrderedByPosition(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"first", "second", "third"} {
		_, err := s.Create(Skill{Name: name, Recording: name + ".json"})
		require.NoError(t, err)
	}

	skills, err := s.List()
	require.NoError(t, err)
	require.Len(t, skills, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{skills[0].Name, skills[1].Name, skills[2].Name})
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(Skill{Name: "orig", Recording: "a.json"})
	require.NoError(t, err)

	created.Name = "renamed"
	created.Speed = 2.0
	updated, err := s.Update(*created)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Speed)
}

func TestStore_UpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(Skill{ID: "skill_0000000000_deadbeef", Name: "x", Recording: "x.json"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Create(Skill{Name: "a", Recording: "a.json"})
	b, _ := s.Create(Skill{Name: "b", Recording: "b.json"})
	c, _ := s.Create(Skill{Name: "c", Recording: "c.json"})
	_ = b

	require.NoError(t, s.Delete(b.ID))

	skills, err := s.List()
	require.NoError(t, err)
	require.Len(t, skills, 2)
	// Positions compact after delete.
	assert.Equal(t, a.ID, skills[0].ID)
	assert.Equal(t, 0, skills[0].Position)
	assert.Equal(t, c.ID, skills[1].ID)
	assert.Equal(t, 1, skills[1].Position)

	assert.ErrorIs(t, s.Delete(b.ID), ErrNotFound)
}

func TestStore_Reorder(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Create(Skill{Name: "a", Recording: "a.json"})
	b, _ := s.Create(Skill{Name: "b", Recording: "b.json"})
	c, _ := s.Create(Skill{Name: "c", Recording: "c.json"})

	require.NoError(t, s.Reorder([]string{c.ID, a.ID, b.ID}))

	skills, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"},
		[]string{skills[0].Name, skills[1].Name, skills[2].Name})
}

func TestStore_ReorderValidation(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Create(Skill{Name: "a", Recording: "a.json"})
	_, _ = s.Create(Skill{Name: "b", Recording: "b.json"})

	err := s.Reorder([]string{a.ID})
	assert.Error(t, err, "short list must be rejected")

	err = s.Reorder([]string{a.ID, "skill_0000000000_deadbeef"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EmptyStore(t *testing.T) {
	s := newTestStore(t)

	skills, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, skills)

	_, err = s.Get("skill_0000000000_deadbeef")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.yaml")

	s1 := NewStore(path, nil)
	created, err := s1.Create(Skill{Name: "persist", Recording: "p.json"})
	require.NoError(t, err)

	s2 := NewStore(path, nil)
	got, err := s2.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Name)
}
