package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, opts Options) (*Logger, *bytes.Buffer) {
	t.Helper()
	l, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	var buf bytes.Buffer
	l.out = &buf
	l.errOut = &buf
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, level)

	level, ok = ParseLevel("nonsense")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, level)
}

func TestLevelGating(t *testing.T) {
	l, buf := newBufferedLogger(t, Options{Level: "WARN"})

	l.log(1, LevelInfo, "", "dropped", nil)
	assert.Empty(t, buf.String())

	l.log(1, LevelWarn, "", "kept", nil)
	assert.Contains(t, buf.String(), "kept")
}

func TestTraceGatedPerModule(t *testing.T) {
	l, buf := newBufferedLogger(t, Options{Level: "TRACE", TraceModules: []string{"reliable"}})

	l.log(1, LevelTrace, "snapshot", "dropped", nil)
	assert.Empty(t, buf.String())

	l.log(1, LevelTrace, "reliable", "kept", nil)
	assert.Contains(t, buf.String(), "kept")
	assert.Contains(t, buf.String(), "module=reliable")
}

func TestFileReceivesJSONEntries(t *testing.T) {
	dir := t.TempDir()
	l, _ := newBufferedLogger(t, Options{Level: "INFO", LogDir: dir})

	l.log(1, LevelInfo, "", "hello", map[string]interface{}{"room_id": "r1"})
	require.NoError(t, l.Close())

	f, err := os.Open(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var e entry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "hello", e.Message)
	assert.Equal(t, "r1", e.Data["room_id"])
	assert.NotEmpty(t, e.Caller)
}

func TestRotationShiftsFiles(t *testing.T) {
	dir := t.TempDir()
	l, _ := newBufferedLogger(t, Options{Level: "INFO", LogDir: dir})
	l.maxSize = 1 // every write triggers a rotation

	l.log(1, LevelInfo, "", "first", nil)
	l.log(1, LevelInfo, "", "second", nil)

	_, err := os.Stat(filepath.Join(dir, logFileName+".1"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, logFileName+".2"))
	assert.NoError(t, err)
}
