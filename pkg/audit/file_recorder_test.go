package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecorder_Record(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewFileRecorder(FileRecorderConfig{BasePath: dir})
	require.NoError(t, err)
	defer recorder.Close()

	actor := int64(7)
	entry, err := recorder.Record(context.Background(), Input{
		Event:       EventCreated,
		SubjectType: "role",
		SubjectID:   "3",
		ActorID:     &actor,
		NewValues:   map[string]any{"name": "auditor"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ID)

	second, err := recorder.Record(context.Background(), Input{Event: EventLogin})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)

	file, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var logged Entry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &logged))
	assert.Equal(t, EventCreated, logged.Event)
	assert.Equal(t, "role", logged.SubjectType)
	require.NotNil(t, logged.ActorID)
	assert.Equal(t, int64(7), *logged.ActorID)

	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &logged))
	assert.Equal(t, EventLogin, logged.Event)
	assert.Equal(t, SeverityInfo, logged.Severity)
}

func TestFileRecorder_Validation(t *testing.T) {
	recorder, err := NewFileRecorder(FileRecorderConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	defer recorder.Close()

	_, err = recorder.Record(context.Background(), Input{})
	require.Error(t, err)
}

func TestFileRecorder_Rotation(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewFileRecorder(FileRecorderConfig{BasePath: dir, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer recorder.Close()

	ctx := context.Background()
	_, err = recorder.Record(ctx, Input{Event: EventLogin})
	require.NoError(t, err)
	// Second write exceeds MaxSize and forces a rotation first.
	_, err = recorder.Record(ctx, Input{Event: EventLogout})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "audit.log.1"))
	assert.NoError(t, err, "rotated file exists")
	_, err = os.Stat(filepath.Join(dir, "audit.log"))
	assert.NoError(t, err, "current file reopened")
}
