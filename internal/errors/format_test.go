package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForCLI_RagrepError(t *testing.T) {
	err := New(KindStoreConflict, "index is corrupted", nil)
	assert.Contains(t, FormatForCLI(err), "index is corrupted")
}

func TestFormatForCLI_StandardError(t *testing.T) {
	err := errors.New("boom")
	assert.Contains(t, FormatForCLI(err), "boom")
}

func TestLogAttrs_RagrepError(t *testing.T) {
	err := IO("/a/b.go", errors.New("disk full"))
	attrs := LogAttrs(err)
	assert.Contains(t, attrs, "kind")
	assert.Contains(t, attrs, string(KindIO))
	assert.Contains(t, attrs, "path")
	assert.Contains(t, attrs, "/a/b.go")
}

func TestLogAttrs_Nil(t *testing.T) {
	assert.Nil(t, LogAttrs(nil))
}

func TestToWire(t *testing.T) {
	w := ToWire(ParseError("x.rs", errors.New("unexpected token")))
	assert.Equal(t, string(KindParseError), w.Kind)
	assert.Equal(t, "x.rs", w.Path)
	assert.Contains(t, w.Message, "unexpected token")
}
