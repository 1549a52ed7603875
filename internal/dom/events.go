package dom

import "strings"

// EventKind tags the event interface used when an event is synthesized.
type EventKind int

const (
	GenericEvent EventKind = iota
	MouseEvent
	PointerEvent
	KeyboardEvent
	FocusEvent
	InputEvent
	WheelEvent
	TouchEvent
	DragEvent
	ClipboardEvent
	CompositionEvent
	UIEvent
)

var kindNames = [...]string{
	GenericEvent:     "Event",
	MouseEvent:       "MouseEvent",
	PointerEvent:     "PointerEvent",
	KeyboardEvent:    "KeyboardEvent",
	FocusEvent:       "FocusEvent",
	InputEvent:       "InputEvent",
	WheelEvent:       "WheelEvent",
	TouchEvent:       "TouchEvent",
	DragEvent:        "DragEvent",
	ClipboardEvent:   "ClipboardEvent",
	CompositionEvent: "CompositionEvent",
	UIEvent:          "UIEvent",
}

// Constructor returns the DOM interface name used to build the event.
func (k EventKind) Constructor() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Event"
	}
	return kindNames[k]
}

func (k EventKind) String() string {
	return k.Constructor()
}

var eventKinds = map[string]EventKind{
	"click":       MouseEvent,
	"dblclick":    MouseEvent,
	"mousedown":   MouseEvent,
	"mouseup":     MouseEvent,
	"mouseover":   MouseEvent,
	"mouseout":    MouseEvent,
	"mouseenter":  MouseEvent,
	"mouseleave":  MouseEvent,
	"mousemove":   MouseEvent,
	"contextmenu": MouseEvent,

	"pointerdown":  PointerEvent,
	"pointerup":    PointerEvent,
	"pointerover":  PointerEvent,
	"pointerout":   PointerEvent,
	"pointerenter": PointerEvent,
	"pointerleave": PointerEvent,
	"pointermove":  PointerEvent,

	"keydown":  KeyboardEvent,
	"keyup":    KeyboardEvent,
	"keypress": KeyboardEvent,

	"focus":    FocusEvent,
	"blur":     FocusEvent,
	"focusin":  FocusEvent,
	"focusout": FocusEvent,

	"input":       InputEvent,
	"beforeinput": InputEvent,

	"wheel": WheelEvent,

	"touchstart":  TouchEvent,
	"touchend":    TouchEvent,
	"touchmove":   TouchEvent,
	"touchcancel": TouchEvent,

	"drag":      DragEvent,
	"dragstart": DragEvent,
	"dragend":   DragEvent,
	"dragenter": DragEvent,
	"dragleave": DragEvent,
	"dragover":  DragEvent,
	"drop":      DragEvent,

	"copy":  ClipboardEvent,
	"cut":   ClipboardEvent,
	"paste": ClipboardEvent,

	"compositionstart":  CompositionEvent,
	"compositionupdate": CompositionEvent,
	"compositionend":    CompositionEvent,

	"scroll": UIEvent,
	"resize": UIEvent,
	"select": UIEvent,
}

// KindOf maps an event name to its kind; unknown names are GenericEvent.
func KindOf(name string) EventKind {
	if k, ok := eventKinds[strings.ToLower(name)]; ok {
		return k
	}
	return GenericEvent
}

// lifecycle events are never refired synthetically.
var lifecycle = map[string]struct{}{
	"load":         {},
	"unload":       {},
	"beforeunload": {},
}

// IsLifecycle reports whether name is load, unload or beforeunload.
func IsLifecycle(name string) bool {
	_, ok := lifecycle[strings.ToLower(name)]
	return ok
}

// DefaultWatchedEvents is the watch-list used for on<event> discovery.
func DefaultWatchedEvents() []string {
	return []string{
		"click", "dblclick", "mousedown", "mouseup", "mouseover", "mouseout",
		"mouseenter", "mouseleave", "contextmenu",
		"keydown", "keyup", "keypress",
		"focus", "blur", "change", "input", "submit", "reset", "select",
		"scroll", "wheel", "touchstart", "touchend",
		"drag", "dragstart", "dragend", "drop",
		"load", "unload", "beforeunload",
	}
}
