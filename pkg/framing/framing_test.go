package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := [][]byte{[]byte("hello"), {}, []byte("rendezvous")}
	for _, m := range msgs {
		if err := WriteFrame(&buf, m); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for _, want := range msgs {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestReadFrameOnEmptyReturnsEOF(t *testing.T) {
	var buf bytes.Buffer
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFramePartialPrefixIsUnexpectedEOF(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	if _, err := ReadFrame(buf); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)
	if err := WriteFrame(&buf, oversized); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestReadFrameRejectsOversizedClaim(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	prefix[0] = 0xff // absurd length
	buf.Write(prefix[:])
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected error for oversized declared length")
	}
}
