package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("What are your hours?", "We open at 9am.", "Welcome to Acme!")

	assert.Contains(t, prompt, "Welcome message: Welcome to Acme!")
	assert.Contains(t, prompt, "We open at 9am.")
	assert.Contains(t, prompt, "User: What are your hours?")
	assert.True(t, strings.HasSuffix(prompt, "Assistant:"))

	// The context block comes before the user's message.
	assert.Less(t, strings.Index(prompt, "We open at 9am."), strings.Index(prompt, "User:"))
}
