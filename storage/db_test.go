package storage

import (
	"bytes"
	"testing"
)

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	value, err := db.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != nil {
		t.Fatalf("expected nil value for missing key, got %v", value)
	}
}

func TestMemDBPutGetIsolation(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	original := []byte{0x01, 0x02}
	if err := db.Put([]byte("k"), original); err != nil {
		t.Fatalf("put: %v", err)
	}
	original[0] = 0xFF

	stored, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(stored, []byte{0x01, 0x02}) {
		t.Fatalf("stored value shares memory with caller: %v", stored)
	}

	stored[1] = 0xEE
	again, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(again, []byte{0x01, 0x02}) {
		t.Fatalf("returned value shares memory with store: %v", again)
	}
}
