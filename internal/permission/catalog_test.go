package permission

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogClosureCombinesChildren(t *testing.T) {
	viewer := Role{ID: uuid.New(), Slug: "viewer", Permission: View}
	editor := Role{ID: uuid.New(), Slug: "editor", Permission: Update, Children: []uuid.UUID{viewer.ID}}
	manager := Role{ID: uuid.New(), Slug: "tenant-manager", Permission: Create | Delete, Children: []uuid.UUID{editor.ID, viewer.ID}}
	catalog := NewCatalog([]Role{viewer, editor, manager})

	closure, err := catalog.Closure(manager.ID)
	require.NoError(t, err)
	assert.Equal(t, All, closure.Permission)
	assert.Equal(t, []string{"editor", "tenant-manager", "viewer"}, closure.Slugs)
	assert.False(t, closure.Cyclic, "diamond is not a cycle")

	leaf, err := catalog.Closure(viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, View, leaf.Permission)
	assert.Equal(t, []string{"viewer"}, leaf.Slugs)
}

func TestCatalogClosureTerminatesOnCycle(t *testing.T) {
	a := Role{ID: uuid.New(), Slug: "a", Permission: View}
	b := Role{ID: uuid.New(), Slug: "b", Permission: Update}
	a.Children = []uuid.UUID{b.ID}
	b.Children = []uuid.UUID{a.ID}
	catalog := NewCatalog([]Role{a, b})

	closure, err := catalog.Closure(a.ID)
	require.NoError(t, err)
	assert.True(t, closure.Cyclic)
	assert.Equal(t, View|Update, closure.Permission)
	assert.Equal(t, []string{"a", "b"}, closure.Slugs)
}

func TestCatalogClosureReportsMissingChildren(t *testing.T) {
	ghost := uuid.New()
	root := Role{ID: uuid.New(), Slug: "root", Permission: View, Children: []uuid.UUID{ghost}}
	catalog := NewCatalog([]Role{root})

	closure, err := catalog.Closure(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ghost}, closure.Missing)

	_, err = catalog.Closure(uuid.New())
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.True(t, catalog.HasSlug("root"))
	assert.False(t, catalog.HasSlug("ghost"))
}
