package display

import (
	"fmt"
	"io"
)

// OpenLCD speaks the SparkFun OpenLCD / SerLCD protocol. Bytes are written
// to the screen as is, except 0xFE which makes the next byte an HD44780
// command, and '|' which enters the settings mode.
type OpenLCD struct {
	w    io.Writer
	rows int
}

const (
	openLCDCommand  = 0xFE
	openLCDSetting  = '|'
	openLCDBlank    = ' '
	openLCDMaxRows  = 4
	hd44780Clear    = 0x01
	hd44780SetDDRAM = 0x80

	OpenLCDI2CAddr = 0x72
)

var hd44780RowOffsets = [openLCDMaxRows]byte{0x00, 0x40, 0x14, 0x54}

func NewOpenLCD(w io.Writer, rows int) *OpenLCD {
	if rows <= 0 || rows > openLCDMaxRows {
		rows = 2
	}
	return &OpenLCD{w: w, rows: rows}
}

func (d *OpenLCD) Clear() error {
	_, err := d.w.Write([]byte{openLCDCommand, hd44780Clear})
	return err
}

func (d *OpenLCD) Move(line, col int) error {
	if line < 0 || line >= d.rows {
		return fmt.Errorf("openlcd: line %d out of range [0,%d)", line, d.rows)
	}
	if col < 0 || col > 0x3F {
		return fmt.Errorf("openlcd: column %d out of range", col)
	}
	_, err := d.w.Write([]byte{openLCDCommand, hd44780SetDDRAM | (hd44780RowOffsets[line] + byte(col))})
	return err
}

// Write sends printable ASCII; anything else, and the settings prefix, is blanked.
func (d *OpenLCD) Write(text string) error {
	if text == "" {
		return nil
	}
	buf := make([]byte, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c < 0x20 || c > 0x7E || c == openLCDSetting {
			c = openLCDBlank
		}
		buf[i] = c
	}
	_, err := d.w.Write(buf)
	return err
}
