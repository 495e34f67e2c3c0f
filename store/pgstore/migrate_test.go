package pgstore

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrate struct {
	upErr      error
	version    uint
	versionErr error
	ups        int
}

func (f *fakeMigrate) Up() error {
	f.ups++
	return f.upErr
}
func (f *fakeMigrate) Down() error { return migrate.ErrNoChange }
func (f *fakeMigrate) Version() (uint, bool, error) {
	return f.version, false, f.versionErr
}
func (f *fakeMigrate) Close() (error, error) { return nil, nil }

func TestMigratorUpTreatsNoChangeAsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{upErr: migrate.ErrNoChange}}
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
}

func TestMigratorUpWrapsFailure(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{upErr: errors.New("syntax error")}}
	err := m.Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestMigratorVersionOnFreshDatabase(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
