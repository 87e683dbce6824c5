package station

import (
	"errors"
	"fmt"
	"io"
)

// ErrUnknownCommand is returned for a byte outside the command table.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a single-byte motion instruction sent to a connected nano over
// an established stream.
type Command uint8

const (
	TiltUp Command = iota
	TiltDown
	TiltOff
	PanRight
	PanLeft
	PanOff
)

var commandNames = map[Command]string{
	TiltUp:   "TiltUp",
	TiltDown: "TiltDown",
	TiltOff:  "TiltOff",
	PanRight: "PanRight",
	PanLeft:  "PanLeft",
	PanOff:   "PanOff",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// ParseCommand converts a wire byte back to a Command.
func ParseCommand(b byte) (Command, error) {
	c := Command(b)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCommand, b)
	}
	return c, nil
}

// WriteCommand writes c as exactly one byte.
func WriteCommand(w io.Writer, c Command) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(c))
	}
	n, err := w.Write([]byte{byte(c)})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", c, err)
	}
	if n != 1 {
		return fmt.Errorf("failed to write %s: %w", c, io.ErrShortWrite)
	}
	return nil
}
