package display

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Console emulates a character display in memory and logs the screen after
// each write. Used in simulation mode.
type Console struct {
	lock   sync.Mutex
	screen [][]byte
	line   int
	col    int
}

func NewConsole(rows, columns int) *Console {
	if rows <= 0 {
		rows = 2
	}
	if columns <= 0 {
		columns = DefaultColumns
	}
	c := &Console{screen: make([][]byte, rows)}
	for i := range c.screen {
		c.screen[i] = make([]byte, columns)
	}
	c.blank()
	return c
}

func (c *Console) blank() {
	for _, row := range c.screen {
		for i := range row {
			row[i] = ' '
		}
	}
}

func (c *Console) Clear() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.blank()
	c.line, c.col = 0, 0
	logrus.Debugf("Display cleared")
	return nil
}

func (c *Console) Move(line, col int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.line, c.col = line, col
	return nil
}

func (c *Console) Write(text string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.line < 0 || c.line >= len(c.screen) {
		return nil
	}
	row := c.screen[c.line]
	for i := 0; i < len(text) && c.col < len(row); i++ {
		row[c.col] = text[i]
		c.col++
	}
	logrus.Infof("Display |%s|", strings.Join(c.lines(), "|"))
	return nil
}

// Lines returns the current screen content.
func (c *Console) Lines() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lines()
}

func (c *Console) lines() []string {
	lines := make([]string, len(c.screen))
	for i, row := range c.screen {
		lines[i] = string(row)
	}
	return lines
}
