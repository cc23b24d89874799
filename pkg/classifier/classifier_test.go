package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/classifier"
	"github.com/guardloop/guardloop/pkg/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name               string
		prompt             string
		wantTaskType       model.TaskType
		wantRequiresGuard  bool
		wantZeroConfidence bool
	}{
		{
			name:               "empty string is unknown and requires guardrails",
			prompt:             "",
			wantTaskType:       model.TaskUnknown,
			wantRequiresGuard:  true,
			wantZeroConfidence: true,
		},
		{
			name:              "code prompt",
			prompt:            "implement an authentication endpoint for the api in golang",
			wantTaskType:      model.TaskCode,
			wantRequiresGuard: true,
		},
		{
			name:              "content prompt",
			prompt:            "write a blog article",
			wantTaskType:      model.TaskContent,
			wantRequiresGuard: false,
		},
		{
			name:              "creative prompt",
			prompt:            "draw a logo and illustration for a poem",
			wantTaskType:      model.TaskCreative,
			wantRequiresGuard: false,
		},
		{
			name:              "mixed code and content signals",
			prompt:            "debug this deploy script and write a readme summary",
			wantTaskType:      model.TaskMixed,
			wantRequiresGuard: true,
		},
		{
			name:               "no recognizable signal is unknown",
			prompt:             "hello, how are you today",
			wantTaskType:       model.TaskUnknown,
			wantRequiresGuard:  true,
			wantZeroConfidence: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifier.Classify(tt.prompt)
			assert.Equal(t, tt.wantTaskType, result.TaskType)
			assert.Equal(t, tt.wantRequiresGuard, result.RequiresGuardrails)
			if tt.wantZeroConfidence {
				assert.Zero(t, result.Confidence)
			}
			assert.NotEmpty(t, result.Reasoning)
		})
	}
}
