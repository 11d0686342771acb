package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestRun_CleanTranslation(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"admin/msg.php": "<?php\n$msg_arr['save'] = 'Save changes';\n$msg_arr['del'] = 'Delete the item now';\n",
	})
	writeTree(t, dst, map[string]string{
		"admin/msg.php": "<?php\n$msg_arr['save'] = 'Salvar alterações';\n$msg_arr['del'] = 'Excluir o item agora';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.Success)
	assert.Empty(t, report.Issues)
}

func TestRun_MissingFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"msg.php": "$msg_arr['a'] = 'Alpha';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.MissingFiles)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, domain.IssueMissingFile, report.Issues[0].Type)
	assert.Equal(t, "msg.php", report.Issues[0].File)
}

func TestRun_LineCountMismatch(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"msg.php": "$msg_arr['a'] = 'Alpha one two';\n// comment\n",
	})
	writeTree(t, dst, map[string]string{
		"msg.php": "$msg_arr['a'] = 'Alfa um dois';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.LineMismatch)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, domain.IssueLineCount, report.Issues[0].Type)
	// Lines present in both are still validated.
	assert.Equal(t, 1, report.Stats.Success)
}

func TestRun_KeyChanged(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"msg.php": "$msg_arr['save'] = 'Save changes';\n",
	})
	writeTree(t, dst, map[string]string{
		"msg.php": "$msg_arr['salvar'] = 'Salvar alterações';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, domain.IssueKeyChanged, report.Issues[0].Type)
	assert.Equal(t, 1, report.Issues[0].Line)
	assert.Equal(t, 0, report.Stats.Success)
}

func TestRun_MissingPlaceholder(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"msg.php": "$msg_arr['greet'] = 'Hello {user}, you have {count} items';\n",
	})
	writeTree(t, dst, map[string]string{
		"msg.php": "$msg_arr['greet'] = 'Olá {user}, você tem itens';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.MissingPlaceholders)
	require.Len(t, report.Issues, 1)
	issue := report.Issues[0]
	assert.Equal(t, domain.IssuePlaceholder, issue.Type)
	assert.Equal(t, []string{"{count}"}, issue.Missing)
	assert.Empty(t, issue.Extra)
}

func TestRun_UntranslatedHeuristic(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"msg.php": "$msg_arr['long'] = 'This sentence was never translated';\n$msg_arr['short'] = 'OK';\n$msg_arr['ph'] = '{identifier_only}';\n",
	})
	writeTree(t, dst, map[string]string{
		"msg.php": "$msg_arr['long'] = 'This sentence was never translated';\n$msg_arr['short'] = 'OK';\n$msg_arr['ph'] = '{identifier_only}';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Untranslated, "short and placeholder-only strings are exempt")
	require.Len(t, report.Issues, 1)
	assert.Equal(t, domain.IssueUntranslated, report.Issues[0].Type)
	assert.Equal(t, 2, report.Stats.Success)
}

func TestRun_EscapeLost(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"msg.php": `$msg_arr['q'] = 'Don\'t remove the account';` + "\n",
	})
	writeTree(t, dst, map[string]string{
		"msg.php": "$msg_arr['q'] = 'Nao remova a conta agora';\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.EscapeIssues)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, domain.IssueEscape, report.Issues[0].Type)
}

func TestRun_IssueCapAt20(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	var srcContent, dstContent string
	for i := 0; i < 30; i++ {
		srcContent += "$msg_arr['k'] = 'A very long untranslated sentence';\n"
		dstContent += "$msg_arr['k'] = 'A very long untranslated sentence';\n"
	}
	writeTree(t, src, map[string]string{"msg.php": srcContent})
	writeTree(t, dst, map[string]string{"msg.php": dstContent})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 30, report.Stats.Untranslated, "counters keep counting")
	assert.Len(t, report.Issues, 20, "detail capped")
}

func TestRun_NonPHPFilesIgnored(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"readme.txt": "not php\n",
	})

	report, err := Run(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.MissingFiles)
	assert.Empty(t, report.Issues)
}
