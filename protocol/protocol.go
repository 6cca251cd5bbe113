// Package protocol implements the textual command grammar exchanged between
// an easel client and its state server.
//
// A command is written as
//
//	<mode> ;-TYPE-; <type> ;-TYPE-; [<payload fields...>]
//
// and a structured batch is a sequence of commands joined by ";-MSEP-;". The
// server may prefix each stored object with "<id> ;-ID-;". A batch that
// contains no type separator is the degenerate frame form: the entire body is
// a single opaque image payload.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Wire separators. They are shared with the server and must not change.
const (
	TypeSep    = ";-TYPE-;"
	MessageSep = ";-MSEP-;"
	IDSep      = ";-ID-;"
)

// Mode selects whether a command paints or erases.
type Mode int

const (
	Draw Mode = iota
	Delete
)

func (m Mode) String() string {
	switch m {
	case Draw:
		return "draw"
	case Delete:
		return "del"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ShapeKind identifies the drawing operation a command performs.
type ShapeKind int

const (
	Unknown ShapeKind = iota
	Circle
	Rect
	Text
	ImagePath
	ImageBlob
	Frame
)

var kindNames = map[ShapeKind]string{
	Circle:    "circle",
	Rect:      "rect",
	Text:      "text",
	ImagePath: "im_path",
	ImageBlob: "im_blob",
	Frame:     "frame",
}

var kindsByName = func() map[string]ShapeKind {
	m := make(map[string]ShapeKind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k ShapeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command is a single parsed canvas mutation.
type Command struct {
	Mode    Mode
	Kind    ShapeKind
	Payload string

	// TypeName is the type string as it appeared on the wire. It is kept so
	// that unknown kinds can be reported.
	TypeName string
}

var (
	// ErrMalformedMessage is returned when a message cannot be split into
	// mode, type and payload, or when its mode is not recognized.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrUnknownMode is returned for a mode string other than "draw" or
	// "del". It matches ErrMalformedMessage under errors.Is.
	ErrUnknownMode = fmt.Errorf("%w: unknown mode", ErrMalformedMessage)
)

// payloadCutset holds the outer bracket and quote characters trimmed from a
// payload.
const payloadCutset = "[]()\"'"

// Parse parses a single command.
func Parse(raw string) (Command, error) {
	parts := strings.SplitN(raw, TypeSep, 3)
	if len(parts) < 3 {
		return Command{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedMessage, len(parts))
	}

	modeStr := strings.TrimSpace(parts[0])
	typeStr := strings.TrimSpace(parts[1])

	var cmd Command
	switch modeStr {
	case "draw":
		cmd.Mode = Draw
	case "del":
		cmd.Mode = Delete
	default:
		return Command{}, fmt.Errorf("%w %q", ErrUnknownMode, modeStr)
	}

	cmd.TypeName = typeStr
	cmd.Kind = kindsByName[typeStr]
	cmd.Payload = trimPayload(parts[2])
	return cmd, nil
}

func trimPayload(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, payloadCutset)
	return strings.TrimSpace(s)
}

// ParseBatch splits a structured batch into commands. Segments that fail to
// parse are reported in errs and skipped; the remaining commands are returned
// in the order they appear.
func ParseBatch(raw string) (cmds []Command, errs []error) {
	for i, seg := range strings.Split(raw, MessageSep) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		_, seg = SplitID(seg)
		cmd, err := Parse(seg)
		if err != nil {
			errs = append(errs, fmt.Errorf("segment %d: %w", i, err))
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, errs
}

// SplitID separates an optional "<id> ;-ID-;" prefix from a stored object.
// If there is no prefix, id is empty and rest is s.
func SplitID(s string) (id, rest string) {
	before, after, ok := strings.Cut(s, IDSep)
	if !ok {
		return "", s
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// IsStructured reports whether a response body uses the structured command
// form rather than the frame form.
func IsStructured(body string) bool {
	return strings.Contains(body, TypeSep)
}

// FrameCommand wraps an entire response body as a full-surface frame.
// Surrounding whitespace is dropped from data URLs and base64 bodies; raw
// image bytes are kept as they are.
func FrameCommand(body string) Command {
	payload := body
	if trimmed := strings.TrimSpace(body); isTextBlob(trimmed) {
		payload = trimmed
	}
	return Command{
		Mode:     Draw,
		Kind:     Frame,
		Payload:  payload,
		TypeName: kindNames[Frame],
	}
}

// isTextBlob reports whether s is a data URL or made only of base64
// characters.
func isTextBlob(s string) bool {
	if s == "" || strings.HasPrefix(s, "data:") {
		return true
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		case c == '+', c == '/', c == '-', c == '_', c == '=':
		case c == '\n', c == '\r':
		default:
			return false
		}
	}
	return true
}

// Fields splits a payload into its whitespace-delimited fields.
func Fields(payload string) []string {
	return strings.Fields(payload)
}

// Format renders cmd in wire form.
func Format(cmd Command) string {
	typeName := cmd.TypeName
	if typeName == "" {
		typeName = cmd.Kind.String()
	}
	return cmd.Mode.String() + " " + TypeSep + " " + typeName + " " + TypeSep + " [ " + cmd.Payload + " ]"
}

// Join joins formatted commands into a structured batch body.
func Join(cmds []Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = Format(c)
	}
	return strings.Join(parts, " "+MessageSep+" ")
}

// ToDelete rewrites a draw descriptor into the matching delete descriptor,
// leaving anything that does not parse untouched.
func ToDelete(descriptor string) (string, error) {
	cmd, err := Parse(descriptor)
	if err != nil {
		return descriptor, err
	}
	cmd.Mode = Delete
	return Format(cmd), nil
}
