package config_test

import (
	"testing"

	"github.com/B83C/rmk/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsSaneProfile(t *testing.T) {
	p := config.BoardProfile{Rows: 4, Cols: 4, Layers: 4}
	assert.NoError(t, p.Validate())
}

func TestValidateRejectsZeroGeometry(t *testing.T) {
	assert.Error(t, config.BoardProfile{Rows: 0, Cols: 4, Layers: 4}.Validate())
	assert.Error(t, config.BoardProfile{Rows: 4, Cols: 0, Layers: 4}.Validate())
	assert.Error(t, config.BoardProfile{Rows: 4, Cols: 4, Layers: 0}.Validate())
}

func TestValidateRejectsBadPeripheral(t *testing.T) {
	p := config.BoardProfile{
		Rows: 4, Cols: 4, Layers: 4,
		Peripherals: []config.PeripheralProfile{{Rows: 0, Cols: 3}},
	}
	assert.Error(t, p.Validate())
}
