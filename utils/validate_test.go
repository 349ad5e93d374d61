package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePhone(t *testing.T) {
	assert.True(t, ValidatePhone("+1 (555) 010-0199"))
	assert.True(t, ValidatePhone("13800138000"))
	assert.False(t, ValidatePhone("call me"))
	assert.False(t, ValidatePhone("12"))
}

func TestValidateMediaURL(t *testing.T) {
	assert.True(t, ValidateMediaURL("https://cdn.example.com/a.jpg"))
	assert.False(t, ValidateMediaURL("file:///etc/passwd"))
	assert.False(t, ValidateMediaURL("not a url"))
	assert.False(t, ValidateMediaURL("https://"))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank("  \t"))
	assert.False(t, IsBlank(" x "))
}
