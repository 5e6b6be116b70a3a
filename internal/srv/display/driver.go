package display

import "unicode/utf8"

// Driver is the low level capability of a character display.
type Driver interface {
	Clear() error
	Move(line, col int) error
	Write(text string) error
}

const DefaultColumns = 16

// TextDriver positions the cursor and truncates text to the line width
// before handing it to the Driver. Widths are counted in runes.
type TextDriver struct {
	Driver
	Columns int
}

func NewTextDriver(driver Driver, columns int) *TextDriver {
	if columns <= 0 {
		columns = DefaultColumns
	}
	return &TextDriver{Driver: driver, Columns: columns}
}

func (t *TextDriver) WriteAt(line, col int, text string) error {
	if room := t.Columns - col; utf8.RuneCountInString(text) > room {
		if room < 0 {
			room = 0
		}
		text = string([]rune(text)[:room])
	}
	if err := t.Move(line, col); err != nil {
		return err
	}
	return t.Write(text)
}

func (t *TextDriver) WriteLine(line int, text string) error {
	return t.WriteAt(line, 0, text)
}
