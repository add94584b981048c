// Package config defines the board profile rmkctl loads: matrix/layer/
// split geometry, expressed as a plain struct with kong `help`/`default`
// tags so it doubles as both a CLI flag group (embedded into a command)
// and a file-loadable shape via kong.Configuration(kong.JSON/kongyaml/
// kongtoml, ...), the same declarative-struct-plus-tags style
// internal/cmd/server.go's Server and internal/cmd/config.go's
// ConfigInit use.
package config

// BoardProfile describes the matrix/layer/split geometry a board boots
// with, the same information spec §2's KeyMap/Matrix/BondInfo types
// need but expressed as user-editable configuration instead of
// compiled-in constants.
type BoardProfile struct {
	Rows   int `help:"Number of matrix rows." default:"4"`
	Cols   int `help:"Number of matrix columns." default:"4"`
	Layers int `help:"Number of keymap layers." default:"4"`

	Peripherals []PeripheralProfile `help:"Split peripheral geometries, one per paired half (up to 4)."`
}

// PeripheralProfile is one split peripheral's declared local geometry
// and its offset into the central's global matrix, matching
// split.Geometry.
type PeripheralProfile struct {
	Rows      uint8  `help:"Peripheral-local row count."`
	Cols      uint8  `help:"Peripheral-local column count."`
	RowOffset uint8  `help:"Row offset into the global matrix."`
	ColOffset uint8  `help:"Column offset into the global matrix."`
	UARTPath  string `help:"Serial device path for this peripheral's UART link, if not BLE." default:""`
}

// Validate checks the profile's geometry is internally consistent
// before it's handed to keymap.New and the split monitors.
func (p BoardProfile) Validate() error {
	if p.Rows <= 0 || p.Cols <= 0 || p.Layers <= 0 {
		return errInvalidGeometry
	}
	for _, peripheral := range p.Peripherals {
		if peripheral.Rows == 0 || peripheral.Cols == 0 {
			return errInvalidGeometry
		}
	}
	return nil
}

var errInvalidGeometry = configError("config: board profile has non-positive rows, cols, or layers")

type configError string

func (e configError) Error() string { return string(e) }
