package validator_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconpoint/api/pkg/validator"
)

type transitionInput struct {
	Status       string `validate:"required,scan_status"`
	ErrorMessage string `validate:"max=300"`
}

type subscribeInput struct {
	Name   string   `json:"name" validate:"required,min=1,max=100"`
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,event_type"`
}

func TestValidate_ScanStatus(t *testing.T) {
	v := validator.New()

	t.Run("accepts valid statuses", func(t *testing.T) {
		for _, status := range []string{"pending", "running", "completed", "failed", "aborted"} {
			assert.NoError(t, v.Validate(transitionInput{Status: status}), status)
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		err := v.Validate(transitionInput{Status: "paused"})
		require.Error(t, err)

		var verrs validator.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		require.Len(t, verrs, 1)
		assert.Equal(t, "status", verrs[0].Field)
		assert.Contains(t, verrs[0].Message, "must be one of")
	})

	t.Run("rejects missing status", func(t *testing.T) {
		err := v.Validate(transitionInput{})
		require.Error(t, err)

		var verrs validator.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Equal(t, "is required", verrs[0].Message)
	})
}

func TestValidate_EventType(t *testing.T) {
	v := validator.New()

	t.Run("accepts known events", func(t *testing.T) {
		input := subscribeInput{
			Name:   "ci",
			URL:    "https://hooks.example.com/recon",
			Events: []string{"scan.started", "scan.completed", "webhook.test"},
		}
		assert.NoError(t, v.Validate(input))
	})

	t.Run("rejects unknown event", func(t *testing.T) {
		input := subscribeInput{
			Name:   "ci",
			URL:    "https://hooks.example.com/recon",
			Events: []string{"scan.started", "scan.paused"},
		}
		err := v.Validate(input)
		require.Error(t, err)

		var verrs validator.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Contains(t, verrs[0].Message, "must be one of")
	})

	t.Run("rejects empty event list", func(t *testing.T) {
		input := subscribeInput{
			Name: "ci",
			URL:  "https://hooks.example.com/recon",
		}
		require.Error(t, v.Validate(input))
	})

	t.Run("rejects malformed URL", func(t *testing.T) {
		input := subscribeInput{
			Name:   "ci",
			URL:    "not a url",
			Events: []string{"scan.started"},
		}
		err := v.Validate(input)
		require.Error(t, err)

		var verrs validator.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Equal(t, "must be a valid URL", verrs[0].Message)
	})
}

func TestValidate_SnakeCaseFields(t *testing.T) {
	v := validator.New()

	type input struct {
		EngineName  string `validate:"required"`
		InitiatedBy string `validate:"required"`
	}

	err := v.Validate(input{})
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, "engine_name", verrs[0].Field)
	assert.Equal(t, "initiated_by", verrs[1].Field)
}
