// Package keys defines the raw keyboard event model: stable key names,
// classification, and the printable fragment an event inserts.
package keys

import "fmt"

// Kind distinguishes press and release events.
type Kind uint8

const (
	Press Kind = iota
	Release
)

func (k Kind) String() string {
	if k == Release {
		return "release"
	}
	return "press"
}

// RawKeyEvent is the fixed-size record written by the hook thread. It must
// stay a plain value type; the hook path does not allocate.
type RawKeyEvent struct {
	TS     int64 // unix ms, monotonic per device
	Code   uint16
	Kind   Kind
	Device int32
}

// names maps Linux input event codes to stable key names. Letters render
// lower-case, non-printables get symbolic names.
var names = map[uint16]string{
	1:   "Escape",
	2:   "1",
	3:   "2",
	4:   "3",
	5:   "4",
	6:   "5",
	7:   "6",
	8:   "7",
	9:   "8",
	10:  "9",
	11:  "0",
	12:  "-",
	13:  "=",
	14:  "Backspace",
	15:  "Tab",
	16:  "q",
	17:  "w",
	18:  "e",
	19:  "r",
	20:  "t",
	21:  "y",
	22:  "u",
	23:  "i",
	24:  "o",
	25:  "p",
	26:  "[",
	27:  "]",
	28:  "Return",
	29:  "CtrlLeft",
	30:  "a",
	31:  "s",
	32:  "d",
	33:  "f",
	34:  "g",
	35:  "h",
	36:  "j",
	37:  "k",
	38:  "l",
	39:  ";",
	40:  "'",
	41:  "`",
	42:  "ShiftLeft",
	43:  "\\",
	44:  "z",
	45:  "x",
	46:  "c",
	47:  "v",
	48:  "b",
	49:  "n",
	50:  "m",
	51:  ",",
	52:  ".",
	53:  "/",
	54:  "ShiftRight",
	55:  "Kp*",
	56:  "Alt",
	57:  "Space",
	58:  "CapsLock",
	59:  "F1",
	60:  "F2",
	61:  "F3",
	62:  "F4",
	63:  "F5",
	64:  "F6",
	65:  "F7",
	66:  "F8",
	67:  "F9",
	68:  "F10",
	69:  "NumLock",
	70:  "ScrollLock",
	71:  "Kp7",
	72:  "Kp8",
	73:  "Kp9",
	74:  "Kp-",
	75:  "Kp4",
	76:  "Kp5",
	77:  "Kp6",
	78:  "Kp+",
	79:  "Kp1",
	80:  "Kp2",
	81:  "Kp3",
	82:  "Kp0",
	83:  "KpDelete",
	87:  "F11",
	88:  "F12",
	96:  "KpReturn",
	97:  "CtrlRight",
	98:  "Kp/",
	99:  "PrintScreen",
	100: "AltGr",
	102: "Home",
	103: "UpArrow",
	104: "PageUp",
	105: "LeftArrow",
	106: "RightArrow",
	107: "End",
	108: "DownArrow",
	109: "PageDown",
	110: "Insert",
	111: "Delete",
	119: "Pause",
	125: "MetaLeft",
	126: "MetaRight",
	183: "F13",
	184: "F14",
	185: "F15",
	186: "F16",
	187: "F17",
	188: "F18",
	189: "F19",
	190: "F20",
	191: "F21",
	192: "F22",
	193: "F23",
	194: "F24",
	464: "Function",
}

// Name returns the stable rendering for a key code.
func Name(code uint16) string {
	if n, ok := names[code]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

var modifiers = map[string]bool{
	"ShiftLeft":  true,
	"ShiftRight": true,
	"CtrlLeft":   true,
	"CtrlRight":  true,
	"Alt":        true,
	"AltGr":      true,
	"MetaLeft":   true,
	"MetaRight":  true,
	"CapsLock":   true,
	"NumLock":    true,
	"ScrollLock": true,
	"Function":   true,
}

// IsModifier reports whether the key belongs to the standard modifier set
// (Shift, Ctrl, Alt, Meta, Caps, Num, Scroll, Fn).
func IsModifier(name string) bool {
	return modifiers[name]
}

// IsFunction reports whether the key is one of F1 through F24.
func IsFunction(name string) bool {
	if len(name) < 2 || len(name) > 3 || name[0] != 'F' {
		return false
	}
	n := 0
	for _, c := range name[1:] {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n >= 1 && n <= 24
}

var keypadFragments = map[string]string{
	"Kp0": "0", "Kp1": "1", "Kp2": "2", "Kp3": "3", "Kp4": "4",
	"Kp5": "5", "Kp6": "6", "Kp7": "7", "Kp8": "8", "Kp9": "9",
	"Kp-": "-", "Kp+": "+", "Kp*": "*", "Kp/": "/",
}

// Fragment returns the text a key press inserts and whether it inserts any.
// Only unambiguous insertions count; keys whose output depends on lock or
// layout state produce nothing.
func Fragment(name string) (string, bool) {
	if name == "Space" {
		return " ", true
	}
	if len(name) == 1 {
		return name, true
	}
	if f, ok := keypadFragments[name]; ok {
		return f, true
	}
	return "", false
}

// IsBoundary reports whether the key ends the current text run.
func IsBoundary(name string) bool {
	switch name {
	case "Return", "KpReturn", "Tab", "Escape":
		return true
	}
	return false
}
