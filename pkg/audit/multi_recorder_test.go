package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiRecorder_FansOut(t *testing.T) {
	primary := &fakeRecorder{}
	secondary := &fakeRecorder{}
	multi := NewMultiRecorder(primary, secondary)

	entry, err := multi.Record(context.Background(), Input{Event: EventLogin})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Len(t, primary.inputs, 1)
	assert.Len(t, secondary.inputs, 1)
}

func TestMultiRecorder_PrimaryErrorPropagates(t *testing.T) {
	primary := &fakeRecorder{err: errors.New("db down")}
	secondary := &fakeRecorder{}
	multi := NewMultiRecorder(primary, secondary)

	_, err := multi.Record(context.Background(), Input{Event: EventLogin})
	require.Error(t, err)
	assert.Len(t, secondary.inputs, 1, "secondary sinks still receive the entry")
}

func TestMultiRecorder_SecondaryErrorIgnored(t *testing.T) {
	primary := &fakeRecorder{}
	secondary := &fakeRecorder{err: errors.New("disk full")}
	multi := NewMultiRecorder(primary, secondary)

	_, err := multi.Record(context.Background(), Input{Event: EventLogin})
	assert.NoError(t, err)
}

func TestMultiRecorder_Empty(t *testing.T) {
	multi := NewMultiRecorder()

	entry, err := multi.Record(context.Background(), Input{Event: EventLogin})
	assert.NoError(t, err)
	assert.Nil(t, entry)
}
