package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestFormatLevel(t *testing.T) {
	plain := formatLevel(true)
	assert.Equal(t, "| INFO  |", plain(zerolog.LevelInfoValue))
	assert.Equal(t, "| ERROR |", plain(zerolog.LevelErrorValue))
	assert.Equal(t, "| ???   |", plain(nil))

	colored := formatLevel(false)
	assert.Equal(t, "| \x1b[1m\x1b[31mERROR\x1b[0m\x1b[0m |", colored(zerolog.LevelErrorValue))
	assert.Equal(t, "| \x1b[32mINFO \x1b[0m |", colored(zerolog.LevelInfoValue))
}
