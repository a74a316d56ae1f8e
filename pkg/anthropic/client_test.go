package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: `{"candidates":`},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: `[]}`},
		},
	}
	assert.Equal(t, `{"candidates":[]}`, resp.Text())
}

func TestMessageResponseText_Nil(t *testing.T) {
	var resp *MessageResponse
	assert.Equal(t, "", resp.Text())
}

func TestZero(t *testing.T) {
	temp := Zero()
	assert.NotNil(t, temp)
	assert.Equal(t, 0.0, *temp)
}
