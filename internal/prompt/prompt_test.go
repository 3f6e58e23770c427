package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllSystemTemplates(t *testing.T, dir string) {
	t.Helper()
	for _, name := range systemTemplateNames {
		body := "system template for " + string(name) + ": {{question}}"
		if name == NamePodcastScript {
			body = "podcast script for {{topic}} lasting {{minutes}} minutes\n{{context}}"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, string(name)+".txt"), []byte(body), 0o644))
	}
}

func TestNewStore_FailsFastOnMissingSystemTemplate(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(dir)
	assert.Error(t, err)
}

func TestNewStore_LoadsAllSystemTemplates(t *testing.T) {
	dir := t.TempDir()
	writeAllSystemTemplates(t, dir)

	store, err := NewStore(dir)
	require.NoError(t, err)

	tpl, err := store.Get(NameRAGGeneration, "")
	require.NoError(t, err)
	assert.Contains(t, tpl.Variables, "question")
}

func TestRender_MissingVariableFailsLoud(t *testing.T) {
	dir := t.TempDir()
	writeAllSystemTemplates(t, dir)
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, err = store.Render(NameRAGGeneration, "", map[string]string{})
	require.Error(t, err)
	var missing *ErrMissingVariable
	assert.ErrorAs(t, err, &missing)
}

func TestRender_SubstitutesDeclaredPlaceholder(t *testing.T) {
	dir := t.TempDir()
	writeAllSystemTemplates(t, dir)
	store, err := NewStore(dir)
	require.NoError(t, err)

	out, err := store.Render(NameRAGGeneration, "", map[string]string{"question": "What is IBM's revenue?"})
	require.NoError(t, err)
	assert.Contains(t, out, "What is IBM's revenue?")
}

func TestGet_UserOverrideTakesPrecedenceOverSystemDefault(t *testing.T) {
	dir := t.TempDir()
	writeAllSystemTemplates(t, dir)
	store, err := NewStore(dir)
	require.NoError(t, err)

	store.SetUserOverride("user-1", NameRAGGeneration, "custom prompt: {{question}}")

	tpl, err := store.Get(NameRAGGeneration, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "custom prompt: {{question}}", tpl.Body)

	tpl, err = store.Get(NameRAGGeneration, "user-2")
	require.NoError(t, err)
	assert.NotEqual(t, "custom prompt: {{question}}", tpl.Body)
}

func TestGet_UnknownTemplateErrors(t *testing.T) {
	dir := t.TempDir()
	writeAllSystemTemplates(t, dir)
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, err = store.Get(Name("does_not_exist"), "")
	assert.Error(t, err)
}

func TestHotReload_PicksUpChangedTemplateBody(t *testing.T) {
	dir := t.TempDir()
	writeAllSystemTemplates(t, dir)
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, string(NameRAGGeneration)+".txt"), []byte("changed: {{question}}"), 0o644))
	require.NoError(t, store.HotReload())

	tpl, err := store.Get(NameRAGGeneration, "")
	require.NoError(t, err)
	assert.Equal(t, "changed: {{question}}", tpl.Body)
}
