package common

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"plain", errors.New("boom"), nil},
		{"direct", ErrNotFound, ErrNotFound},
		{"wrapped", fmt.Errorf("get folder: %w", ErrPathConflict), ErrPathConflict},
		{"double wrapped", fmt.Errorf("%w: %w", ErrIO, fs.ErrPermission), ErrIO},
		{"fault beats cause", &ConsistencyFault{Cause: fmt.Errorf("%w: commit", ErrTransaction)}, ErrConsistencyFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
			assert.Equal(t, tt.want != nil, IsKnown(tt.err))
		})
	}
}

func TestConsistencyFault_UnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("%w: insert failed", ErrTransaction)
	f := &ConsistencyFault{
		Op:              "rename_folder",
		NodeID:          "n1",
		OldPath:         "/data/a",
		NewPath:         "/data/b",
		Cause:           cause,
		CompensationErr: errors.New("rename back failed"),
	}

	var err error = fmt.Errorf("rename: %w", f)
	require.ErrorIs(t, err, ErrConsistencyFault)
	require.ErrorIs(t, err, ErrTransaction)

	var got *ConsistencyFault
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "n1", got.NodeID)
	assert.Contains(t, err.Error(), `old="/data/a"`)
	assert.Contains(t, err.Error(), `new="/data/b"`)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "ok", KindName(nil))
	assert.Equal(t, "internal", KindName(errors.New("boom")))
	assert.Equal(t, "not_found", KindName(fmt.Errorf("select folder: %w", ErrNotFound)))
	assert.Equal(t, "consistency_fault", KindName(&ConsistencyFault{Cause: ErrIO}))
	for _, k := range kinds {
		assert.NotEqual(t, "internal", KindName(k), k.Error())
	}
}
