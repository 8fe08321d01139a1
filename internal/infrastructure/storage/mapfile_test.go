package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityScanner/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestResolutionMapMissingFileIsEmpty(t *testing.T) {
	m := NewResolutionMapFile(filepath.Join(t.TempDir(), "map.json"))
	entries, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolutionMapSaveKeepsNullsAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference", "map.json")
	m := NewResolutionMapFile(path)

	in := []domain.ResolutionEntry{
		{EntityName: "IIT Bombay", CommunityHandle: strPtr("IITBombay")},
		{EntityName: "Obscure College", Reviewed: true},
		{EntityName: "Example Institute", Refresh: true},
	}
	require.NoError(t, m.Save(in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"community_handle": null`)
	assert.Contains(t, string(raw), `"reviewed": true`)

	out, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestResolutionMapAcceptsObjectForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "Zeta University": "r/zeta",
  "Alpha College": null,
  "Mid Institute": ""
}`), 0o644))

	entries, err := NewResolutionMapFile(path).Load()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Zeta University", entries[0].EntityName)
	assert.Equal(t, "zeta", entries[0].Handle())
	assert.Nil(t, entries[1].CommunityHandle)
	assert.Nil(t, entries[2].CommunityHandle)
}

func TestResolutionMapMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":         `[{"entity_name": "x",`,
		"missing name":     `[{"community_handle": "x"}]`,
		"duplicate entity": `[{"entity_name": "A"}, {"entity_name": "A"}]`,
		"wrong type":       `[{"entity_name": 7}]`,
		"bad handle":       `[{"entity_name": "A", "community_handle": "https://reddit.com/r/a"}]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "map.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := NewResolutionMapFile(path).Load()
			assert.ErrorIs(t, err, domain.ErrMalformedMap)
		})
	}
}

func TestResolutionMapStripsHandlePrefixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"entity_name": "A", "community_handle": "/r/IITBombay/"},
  {"entity_name": "B", "community_handle": "R/Example_Uni"},
  {"entity_name": "C", "community_handle": " r/ "},
  {"entity_name": "D", "community_handle": "plain"}
]`), 0o644))

	entries, err := NewResolutionMapFile(path).Load()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "IITBombay", entries[0].Handle())
	assert.Equal(t, "Example_Uni", entries[1].Handle())
	assert.Nil(t, entries[2].CommunityHandle)
	assert.Equal(t, "plain", entries[3].Handle())
}

func TestResolutionMapSaveSurvivesDirSyncFailure(t *testing.T) {
	orig := syncDir
	syncDir = func(string) error { return os.ErrPermission }
	t.Cleanup(func() { syncDir = orig })

	m := NewResolutionMapFile(filepath.Join(t.TempDir(), "map.json"))
	in := []domain.ResolutionEntry{{EntityName: "IIT Bombay", CommunityHandle: strPtr("IITBombay")}}
	require.NoError(t, m.Save(in))

	out, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
