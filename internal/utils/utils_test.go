package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Kind  string   `json:"kind" validate:"required,oneof=direct group"`
	Users []string `json:"users" validate:"min=1"`
}

func TestValidationErr(t *testing.T) {
	err := Validate(sample{Kind: "channel"})
	var ve validator.ValidationErrors
	require.True(t, errors.As(err, &ve))

	out := ValidationErr(ve)
	require.Len(t, out, 2)
	assert.Equal(t, "Kind", out[0].Field)
	assert.Equal(t, "oneof", out[0].Tag)
	assert.Equal(t, "Must be one of: direct group.", out[0].Message)
	assert.Equal(t, "min", out[1].Tag)

	assert.Contains(t, Summary(ve), "Kind: Must be one of")
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, Validate(sample{Kind: "group", Users: []string{"a"}}))
}
