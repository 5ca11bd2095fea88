package tui

import (
	"bufio"
	"io"
	"sync"
	"unicode/utf8"
)

// Key represents a keyboard input.
type Key int

const (
	KeyUnknown Key = iota
	KeyEscape
	KeyEnter
	KeyCtrlC
	KeyCtrlQ
	KeyRune // Regular character
)

// KeyEvent represents a key press event.
type KeyEvent struct {
	Key  Key
	Rune rune // Only valid when Key == KeyRune
}

// KeyReader reads keyboard input from a raw terminal.
type KeyReader struct {
	reader *bufio.Reader
}

// NewKeyReader creates a KeyReader from the given io.Reader.
// The reader should be a raw terminal input (e.g., os.Stdin after term.MakeRaw).
func NewKeyReader(r io.Reader) *KeyReader {
	return &KeyReader{
		reader: bufio.NewReaderSize(r, 64),
	}
}

// ReadKey reads a single key event from the input.
// This method blocks until a key is pressed.
func (k *KeyReader) ReadKey() (KeyEvent, error) {
	b, err := k.reader.ReadByte()
	if err != nil {
		return KeyEvent{}, err
	}

	switch b {
	case 0x03:
		return KeyEvent{Key: KeyCtrlC}, nil
	case 0x11:
		return KeyEvent{Key: KeyCtrlQ}, nil
	case 0x0D, 0x0A:
		return KeyEvent{Key: KeyEnter}, nil
	case 0x1B:
		return k.readEscape()
	default:
		if b >= 0x20 && b < 0x7F {
			return KeyEvent{Key: KeyRune, Rune: rune(b)}, nil
		}
		if b >= 0xC0 {
			return k.readUTF8(b)
		}
		return KeyEvent{Key: KeyUnknown}, nil
	}
}

// readEscape tells a lone ESC from the start of an escape sequence. A
// sequence that arrives in the same read as the ESC is consumed and
// reported as KeyUnknown.
func (k *KeyReader) readEscape() (KeyEvent, error) {
	if k.reader.Buffered() == 0 {
		return KeyEvent{Key: KeyEscape}, nil
	}
	b, _ := k.reader.ReadByte()
	if b != '[' && b != 'O' {
		_ = k.reader.UnreadByte()
		return KeyEvent{Key: KeyEscape}, nil
	}
	for k.reader.Buffered() > 0 {
		next, _ := k.reader.ReadByte()
		if (next >= 'A' && next <= 'Z') || (next >= 'a' && next <= 'z') || next == '~' {
			break
		}
	}
	return KeyEvent{Key: KeyUnknown}, nil
}

// readUTF8 reads a multi-byte UTF-8 character.
func (k *KeyReader) readUTF8(first byte) (KeyEvent, error) {
	var buf [4]byte
	buf[0] = first

	var n int
	switch {
	case first&0xE0 == 0xC0:
		n = 2
	case first&0xF0 == 0xE0:
		n = 3
	case first&0xF8 == 0xF0:
		n = 4
	default:
		return KeyEvent{Key: KeyUnknown}, nil
	}

	for i := 1; i < n; i++ {
		b, err := k.reader.ReadByte()
		if err != nil {
			return KeyEvent{Key: KeyUnknown}, err
		}
		buf[i] = b
	}

	r, _ := utf8.DecodeRune(buf[:n])
	if r == utf8.RuneError {
		return KeyEvent{Key: KeyUnknown}, nil
	}

	return KeyEvent{Key: KeyRune, Rune: r}, nil
}

// Command is what a key press asks the client to do.
type Command int

const (
	CommandNone       Command = iota
	CommandQuit               // esc, q, ctrl+c, ctrl+q
	CommandToggleInfo         // i
	CommandToggleHelp         // h
)

// String returns the string representation of the command.
func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandQuit:
		return "quit"
	case CommandToggleInfo:
		return "toggle_info"
	case CommandToggleHelp:
		return "toggle_help"
	default:
		return "unknown"
	}
}

// ParseCommand converts a KeyEvent to a Command.
func ParseCommand(ev KeyEvent) Command {
	switch ev.Key {
	case KeyEscape, KeyCtrlC, KeyCtrlQ:
		return CommandQuit
	case KeyRune:
		switch ev.Rune {
		case 'q', 'Q':
			return CommandQuit
		case 'i', 'I':
			return CommandToggleInfo
		case 'h', 'H':
			return CommandToggleHelp
		}
	}
	return CommandNone
}

// Toggler is the part of the HUD the keyboard controls.
type Toggler interface {
	ToggleInfo()
	ToggleHelp()
}

// Keyboard is the exit signal source of the control loop. Keys are read on
// a background goroutine and consumed by Poll.
type Keyboard struct {
	keys    chan KeyEvent
	toggler Toggler

	mu   sync.Mutex
	exit bool
}

// NewKeyboard creates a Keyboard reading r. toggler may be nil.
func NewKeyboard(r io.Reader, toggler Toggler) *Keyboard {
	k := &Keyboard{
		keys:    make(chan KeyEvent, 32),
		toggler: toggler,
	}
	go k.read(NewKeyReader(r))
	return k
}

func (k *Keyboard) read(reader *KeyReader) {
	for {
		ev, err := reader.ReadKey()
		if err != nil {
			// Input closed: no further key can request an exit.
			return
		}
		select {
		case k.keys <- ev:
		default:
		}
	}
}

// Poll handles the keys pressed since the last call without blocking and
// reports whether one of them asked to quit. Once true it stays true.
func (k *Keyboard) Poll() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	for {
		select {
		case ev := <-k.keys:
			switch ParseCommand(ev) {
			case CommandQuit:
				k.exit = true
			case CommandToggleInfo:
				if k.toggler != nil {
					k.toggler.ToggleInfo()
				}
			case CommandToggleHelp:
				if k.toggler != nil {
					k.toggler.ToggleHelp()
				}
			}
		default:
			return k.exit
		}
	}
}

// NopInput never asks to quit. It is used in headless mode.
type NopInput struct{}

// Poll always returns false.
func (NopInput) Poll() bool { return false }
