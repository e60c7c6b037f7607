package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "invalid", err: Invalid("trackId %q", "x"), want: ErrInvalidInput},
		{name: "not found", err: NotFound("no chunks"), want: ErrNotFound},
		{name: "io", err: IO("write chunk", errors.New("disk full")), want: ErrIO},
		{name: "external", err: External("upload", errors.New("503")), want: ErrExternal},
		{name: "conflict", err: Conflictf("track %s exists", "t1"), want: ErrConflict},
		{name: "unauthorized", err: Unauthorized("missing token"), want: ErrUnauthorized},
		{name: "double wrapped", err: fmt.Errorf("merge: %w", Invalid("bad")), want: ErrInvalidInput},
		{name: "plain", err: errors.New("boom"), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, IO("op", nil))
	assert.NoError(t, External("op", nil))
}

func TestMessages(t *testing.T) {
	err := Invalid("missing %s", "trackId")
	assert.Equal(t, "invalid input: missing trackId", err.Error())
}
