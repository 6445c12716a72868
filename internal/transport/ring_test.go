package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferBelowCapacity(t *testing.T) {
	r := newRingBuffer(16)
	r.Write([]byte("hello "))
	r.Write([]byte("world"))

	assert.Equal(t, []byte("hello world"), r.Tail())
}

func TestRingBufferWrap(t *testing.T) {
	r := newRingBuffer(8)
	r.Write([]byte("abcdefgh"))
	r.Write([]byte("ij"))

	assert.Equal(t, []byte("cdefghij"), r.Tail())
}

func TestRingBufferOversizedWrite(t *testing.T) {
	r := newRingBuffer(4)
	r.Write(bytes.Repeat([]byte("x"), 100))
	r.Write([]byte("tail"))

	assert.Equal(t, []byte("tail"), r.Tail())
}

func TestRingBufferExactCapacity(t *testing.T) {
	r := newRingBuffer(4)
	r.Write([]byte("abcd"))
	assert.Equal(t, []byte("abcd"), r.Tail())

	r.Write([]byte("e"))
	assert.Equal(t, []byte("bcde"), r.Tail())
}

func TestRingBufferEmpty(t *testing.T) {
	r := newRingBuffer(4)
	assert.Empty(t, r.Tail())
}
