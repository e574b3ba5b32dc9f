package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", Validationf("self dependency"), false},
		{"not found", NotFoundf("task %d", 3), false},
		{"wrapped conflict", fmt.Errorf("save: %w", ErrConflict), false},
		{"workflow logic", fmt.Errorf("%w: boom", ErrWorkflowLogic), false},
		{"transient", Transient(errors.New("database is locked")), true},
		{"plain error", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestFromValidator(t *testing.T) {
	type level struct {
		Approvers []string `validate:"required,min=1"`
	}

	err := validator.New().Struct(level{})
	converted := FromValidator(err)

	assert.ErrorIs(t, converted, ErrValidation)
	assert.Contains(t, converted.Error(), "level.Approvers")
	assert.Nil(t, FromValidator(nil))
	assert.Nil(t, Transient(nil))
}
