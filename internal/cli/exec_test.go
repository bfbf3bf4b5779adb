package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCode(t *testing.T) {
	code, err := readCode([]string{"print(1)"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", code)

	code, err = readCode([]string{"-"}, strings.NewReader("x = 1\nprint(x)\n"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\nprint(x)\n", code)

	code, err = readCode(nil, strings.NewReader("print(2)"))
	require.NoError(t, err)
	assert.Equal(t, "print(2)", code)
}

func TestExecCommand(t *testing.T) {
	requirePython(t)

	t.Run("prints captured streams", func(t *testing.T) {
		stdout, stderr, err := executeCommand(t, nil, "exec", "import sys\nprint(500*100)\nprint('warn', file=sys.stderr)")
		require.NoError(t, err)
		assert.Equal(t, "50000\n", stdout)
		assert.Contains(t, stderr, "warn\n")
	})

	t.Run("reads code from stdin", func(t *testing.T) {
		stdout, _, err := executeCommand(t, strings.NewReader("total = sum(range(1, 11))\nprint(total)\n"), "exec", "-")
		require.NoError(t, err)
		assert.Equal(t, "55\n", stdout)
	})

	t.Run("reports FINAL", func(t *testing.T) {
		stdout, stderr, err := executeCommand(t, nil, "exec", "FINAL({'answer': 3})")
		require.NoError(t, err)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, `FINAL: {"answer":3}`)
	})

	t.Run("exceptions stay in stderr", func(t *testing.T) {
		stdout, stderr, err := executeCommand(t, nil, "exec", "1/0")
		require.NoError(t, err)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "ZeroDivisionError")
	})

	t.Run("json payload", func(t *testing.T) {
		stdout, _, err := executeCommand(t, nil, "exec", "--json", "print('hi')")
		require.NoError(t, err)
		assert.Equal(t, `{"stdout":"hi\n","stderr":""}`+"\n", stdout)
	})

	t.Run("json payload truncated", func(t *testing.T) {
		stdout, _, err := executeCommand(t, nil, "exec", "--json", "--truncate", "3", "print('abcdef', end='')")
		require.NoError(t, err)
		assert.Equal(t, `{"stdout":"abc\n... [truncated 3 characters]","stderr":""}`+"\n", stdout)
	})

	t.Run("missing interpreter", func(t *testing.T) {
		t.Setenv("RLM_SESSION_PYTHON_PATH", "/nonexistent/python3")
		_, _, err := executeCommand(t, nil, "exec", "print(1)")
		assert.Error(t, err)
	})
}
