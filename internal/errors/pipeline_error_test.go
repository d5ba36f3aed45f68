package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/paveg/damagegrade/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestPipelineError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *errors.PipelineError
		expected string
	}{
		{
			name:     "Error with column",
			err:      errors.NewEncodingError("Encode", "roof_type", 3, "k"),
			expected: `Encode encoding error on column 'roof_type': code "k" at row 3 has no codebook entry`,
		},
		{
			name:     "Error without column",
			err:      errors.NewSchemaError("Predict", "expected 10 features, got 38"),
			expected: "Predict schema error: expected 10 features, got 38",
		},
		{
			name:     "Error with hint",
			err:      errors.NewColumnNotFoundError("Load", "damage").WithHint("available: damage_grade"),
			expected: "Load schema error on column 'damage': column does not exist (Hint: available: damage_grade)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := stderrors.New("open train.csv: no such file")
	err := errors.NewInputError("Load", "reading training values", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Contains(t, err.Error(), "no such file")
}

func TestPipelineError_IsByKind(t *testing.T) {
	wrapped := fmt.Errorf("stage encode: %w", errors.NewEncodingError("Encode", "position", 0, "z"))

	assert.ErrorIs(t, wrapped, errors.ErrEncoding)
	assert.NotErrorIs(t, wrapped, errors.ErrSchema)
	assert.NotErrorIs(t, wrapped, errors.ErrInput)

	assert.ErrorIs(t, errors.NewColumnNotFoundError("Select", "age"), errors.ErrSchema)
	assert.ErrorIs(t, errors.NewConfigError("Validate", "bad"), errors.ErrConfig)
}

func TestPipelineError_IsExact(t *testing.T) {
	a := errors.NewColumnNotFoundError("Select", "age")
	b := errors.NewColumnNotFoundError("Select", "age")
	c := errors.NewColumnNotFoundError("Select", "roof_type")

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "input", errors.KindInput.String())
	assert.Equal(t, "encoding", errors.KindEncoding.String())
	assert.Equal(t, "schema", errors.KindSchema.String())
	assert.Equal(t, "config", errors.KindConfig.String())
	assert.Equal(t, "internal", errors.KindInternal.String())
}
