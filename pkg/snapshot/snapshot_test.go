package snapshot

import (
	"bytes"
	"errors"
	"testing"
)

type memBlobStore struct {
	blobs map[string][]byte
}

func (m *memBlobStore) Put(ref string, payload []byte) error {
	if m.blobs == nil {
		m.blobs = make(map[string][]byte)
	}
	m.blobs[ref] = payload
	return nil
}

func (m *memBlobStore) Get(ref string) ([]byte, error) {
	b, ok := m.blobs[ref]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return b, nil
}

func TestGzipRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("/ip/address add address=10.0.0.1/24\n"), 100)
	compressed, err := gzipCompress(payload)
	if err != nil {
		t.Fatalf("gzipCompress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("repetitive payload did not compress: %d >= %d", len(compressed), len(payload))
	}
	out, err := gzipDecompress(compressed)
	if err != nil {
		t.Fatalf("gzipDecompress: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("round trip mismatch")
	}
}

func TestResolvePayloadInline(t *testing.T) {
	s := &Service{}
	compressed, err := gzipCompress([]byte("config"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.resolvePayload(&Snapshot{Payload: compressed, Compressed: true})
	if err != nil {
		t.Fatalf("resolvePayload: %v", err)
	}
	if string(got) != "config" {
		t.Fatalf("resolvePayload = %q", got)
	}
}

func TestResolvePayloadExternalized(t *testing.T) {
	blobs := &memBlobStore{}
	compressed, err := gzipCompress([]byte("external config"))
	if err != nil {
		t.Fatal(err)
	}
	if err := blobs.Put("snapshots/d/s", compressed); err != nil {
		t.Fatal(err)
	}

	s := &Service{blobs: blobs}
	got, err := s.resolvePayload(&Snapshot{PayloadRef: "snapshots/d/s", Compressed: true})
	if err != nil {
		t.Fatalf("resolvePayload: %v", err)
	}
	if string(got) != "external config" {
		t.Fatalf("resolvePayload = %q", got)
	}

	// Externalized payload with no blob store configured must fail, not
	// silently return nothing.
	s = &Service{}
	if _, err := s.resolvePayload(&Snapshot{PayloadRef: "snapshots/d/s"}); err == nil {
		t.Fatal("resolvePayload without blob store must fail")
	}
}

func TestResolvePayloadUncompressed(t *testing.T) {
	s := &Service{}
	got, err := s.resolvePayload(&Snapshot{Payload: []byte("raw"), Compressed: false})
	if err != nil || string(got) != "raw" {
		t.Fatalf("resolvePayload = %q, %v", got, err)
	}
}
