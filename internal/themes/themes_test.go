package themes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
themes:
  - key: rick_and_morty
    title: Rick and Morty
    speakers:
      - name: Rick
        voice_id: voice_rick
        image_path: rick.png
      - name: Morty
        voice_id: voice_morty
        image_path: morty.png
  - key: family_guy
    title: Family Guy
    speakers:
      - name: Peter
        voice_id: voice_peter
        image_path: peter.png
`

func writeThemesFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "themes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_PopulatesRegistry(t *testing.T) {
	path := writeThemesFile(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, reg.Allowed("rick_and_morty"))
	assert.True(t, reg.Allowed("family_guy"))
	assert.False(t, reg.Allowed("unknown_theme"))
}

func TestGet_ReturnsSpeakerRoster(t *testing.T) {
	path := writeThemesFile(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)

	theme, ok := reg.Get("rick_and_morty")
	require.True(t, ok)
	assert.Equal(t, "Rick and Morty", theme.Title)
	require.Len(t, theme.Speakers, 2)
	assert.Equal(t, "voice_rick", theme.Speakers[0].VoiceID)

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)
}

func TestList_SortedByKey(t *testing.T) {
	path := writeThemesFile(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "family_guy", list[0].Key)
	assert.Equal(t, "rick_and_morty", list[1].Key)
}

func TestLoad_EmptyThemesRejected(t *testing.T) {
	path := writeThemesFile(t, "themes: []\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFileRejected(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does_not_exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAMLRejected(t *testing.T) {
	path := writeThemesFile(t, "themes: [this is not valid: yaml: at all")
	_, err := Load(path)
	assert.Error(t, err)
}
