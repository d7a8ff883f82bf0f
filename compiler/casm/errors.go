package casm

import (
	"fmt"
)

type (
	ErrorKind uint8

	// CodegenError is returned by the generator. Sentinel errors of the
	// same kind match it with errors.Is.
	CodegenError struct {
		Kind ErrorKind
		Msg  string
	}
)

const (
	_ ErrorKind = iota
	InvalidMIR
	MissingTarget
	UnsupportedInstruction
	LayoutError
	UnresolvedLabel
)

var (
	ErrInvalidMIR             = &CodegenError{Kind: InvalidMIR}
	ErrMissingTarget          = &CodegenError{Kind: MissingTarget}
	ErrUnsupportedInstruction = &CodegenError{Kind: UnsupportedInstruction}
	ErrLayout                 = &CodegenError{Kind: LayoutError}
	ErrUnresolvedLabel        = &CodegenError{Kind: UnresolvedLabel}
)

var kindNames = []string{
	InvalidMIR:             "invalid mir",
	MissingTarget:          "missing target",
	UnsupportedInstruction: "unsupported instruction",
	LayoutError:            "layout error",
	UnresolvedLabel:        "unresolved label",
}

func newError(k ErrorKind, format string, args ...any) *CodegenError {
	return &CodegenError{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func (k ErrorKind) String() string {
	if k != 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "codegen error"
}

func (e *CodegenError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}

	return e.Kind.String() + ": " + e.Msg
}

func (e *CodegenError) Is(target error) bool {
	t, ok := target.(*CodegenError)

	return ok && t.Kind == e.Kind
}
