package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapTranslator answers from a fixed map; unknown texts fail.
type mapTranslator struct {
	answers map[string]string
	batches [][]string
}

func (m *mapTranslator) TranslateBatch(_ context.Context, texts []string) ([]string, []bool) {
	m.batches = append(m.batches, append([]string(nil), texts...))
	results := make([]string, len(texts))
	ok := make([]bool, len(texts))
	for i, t := range texts {
		results[i], ok[i] = m.answers[t]
	}
	return results, ok
}

func writeSrc(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "msg.php")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTranslateFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, "<?php\n$msg_arr['save'] = 'Save changes';\n// comment\n$msg_arr['greet'] = 'Hello {user}';\n")
	dst := filepath.Join(dir, "out", "msg.php")

	tr := &mapTranslator{answers: map[string]string{
		"Save changes":  "Salvar alterações",
		"Hello __PH0__": "Olá __PH0__",
	}}
	j := New(NewID(), "", dir, 0)

	res, err := TranslateFile(context.Background(), tr, j, src, dst, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Translated)
	assert.False(t, res.Skipped)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "<?php", lines[0])
	assert.Equal(t, "$msg_arr['save'] = 'Salvar alterações';", lines[1])
	assert.Equal(t, "// comment", lines[2])
	assert.Equal(t, "$msg_arr['greet'] = 'Olá {user}';", lines[3])
}

func TestTranslateFile_EscapesSurviveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, `$msg_arr['q'] = 'Don\'t stop';`+"\n")
	dst := filepath.Join(dir, "out.php")

	tr := &mapTranslator{answers: map[string]string{
		"Don't stop": "Não pare a ação",
	}}
	j := New(NewID(), "", dir, 0)

	_, err := TranslateFile(context.Background(), tr, j, src, dst, 100, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "$msg_arr['q'] = 'Não pare a ação';\n", string(data))
}

func TestTranslateFile_FailedLinesKeepOriginal(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, "$msg_arr['a'] = 'Alpha';\n$msg_arr['b'] = 'Beta';\n")
	dst := filepath.Join(dir, "out.php")

	tr := &mapTranslator{answers: map[string]string{"Alpha": "Alfa"}}
	j := New(NewID(), "", dir, 0)

	res, err := TranslateFile(context.Background(), tr, j, src, dst, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Translated)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(data), "$msg_arr['a'] = 'Alfa';")
	assert.Contains(t, string(data), "$msg_arr['b'] = 'Beta';")
}

func TestTranslateFile_ResumeSkipsCompleteOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, "$msg_arr['a'] = 'Alpha';\n$msg_arr['b'] = 'Beta';\n")
	dst := filepath.Join(dir, "out.php")
	require.NoError(t, os.WriteFile(dst, []byte("$msg_arr['a'] = 'Alfa';\n$msg_arr['b'] = 'Beta-br';\n"), 0o644))

	tr := &mapTranslator{}
	j := New(NewID(), "", dir, 0)

	res, err := TranslateFile(context.Background(), tr, j, src, dst, 100, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, tr.batches, "no translation calls on skip")
}

func TestTranslateFile_ShortPartialRestartsFromScratch(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, "$msg_arr['a'] = 'Alpha';\n$msg_arr['b'] = 'Beta';\n")
	dst := filepath.Join(dir, "out.php")
	require.NoError(t, os.WriteFile(dst, []byte("$msg_arr['a'] = 'Stale partial';\n"), 0o644))

	tr := &mapTranslator{answers: map[string]string{"Alpha": "Alfa", "Beta": "Beta-br"}}
	j := New(NewID(), "", dir, 0)

	res, err := TranslateFile(context.Background(), tr, j, src, dst, 100, nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Translated)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Stale partial")
	assert.Contains(t, string(data), "Alfa")
}

func TestTranslateFile_CancelBetweenBatchesLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 4; i++ {
		b.WriteString("$msg_arr['k'] = 'A message to translate';\n")
	}
	src := writeSrc(t, dir, b.String())
	dst := filepath.Join(dir, "out.php")

	j := New(NewID(), "", dir, 0)
	tr := &mapTranslator{answers: map[string]string{
		"A message to translate": "Uma mensagem",
	}}

	// batchSize 2: cancel fires after the first onBatch call, tripping the
	// check before the second batch.
	calls := 0
	_, err := TranslateFile(context.Background(), tr, j, src, dst, 2, func(int) {
		calls++
		j.Cancel()
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, calls)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "cancelled run must not write a partial file")
}

func TestTranslateFile_BatchSizeSplitsWork(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("$msg_arr['k'] = 'Another string here';\n")
	}
	src := writeSrc(t, dir, b.String())
	dst := filepath.Join(dir, "out.php")

	tr := &mapTranslator{answers: map[string]string{
		"Another string here": "Outra string aqui",
	}}
	j := New(NewID(), "", dir, 0)

	processed := 0
	_, err := TranslateFile(context.Background(), tr, j, src, dst, 2, func(n int) { processed += n })
	require.NoError(t, err)
	assert.Equal(t, 5, processed)
	require.Len(t, tr.batches, 3)
	assert.Len(t, tr.batches[0], 2)
	assert.Len(t, tr.batches[2], 1)
}

func TestTranslateFile_NoTrailingNewlinePreserved(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, "$msg_arr['a'] = 'Alpha';")
	dst := filepath.Join(dir, "out.php")

	tr := &mapTranslator{answers: map[string]string{"Alpha": "Alfa"}}
	j := New(NewID(), "", dir, 0)

	_, err := TranslateFile(context.Background(), tr, j, src, dst, 100, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "$msg_arr['a'] = 'Alfa';", string(data))
}
