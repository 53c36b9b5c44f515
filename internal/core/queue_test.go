package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpNextMessageTiers(t *testing.T) {
	first, ok := upNextMessage(1)
	assert.True(t, ok)
	second, ok := upNextMessage(2)
	assert.True(t, ok)
	third, ok := upNextMessage(3)
	assert.True(t, ok)

	// Тексты трёх ближайших позиций различаются.
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, third)
	assert.NotEqual(t, first, third)

	// Дальше третьей живой позиции уведомления не шлются.
	_, ok = upNextMessage(4)
	assert.False(t, ok)
	_, ok = upNextMessage(0)
	assert.False(t, ok)
}
