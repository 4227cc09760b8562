package client

import (
	"errors"
	"testing"
)

func TestMessageAccessors(t *testing.T) {
	m := Message{"ray_id": "1718000000000abcdefghij", "type": []byte("social/search"), "status": "success"}
	if m.RayID() != "1718000000000abcdefghij" || m.Type() != "social/search" || m.Status() != StatusSuccess {
		t.Fatalf("unexpected accessors: %q %q %q", m.RayID(), m.Type(), m.Status())
	}
	if m.Err() != nil {
		t.Fatalf("success response should not be an error: %v", m.Err())
	}
	if (Message{"status": 3}).Status() != "" {
		t.Fatal("non-string status should read as empty")
	}
}

func TestMessageErr(t *testing.T) {
	err := Message{"status": "error", "message": "user not found"}.Err()
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %T", err)
	}
	if re.Message != "user not found" || re.Status != "error" {
		t.Fatalf("unexpected remote error %+v", re)
	}
}

func TestMessageClone(t *testing.T) {
	m := Message{"type": "ping"}
	c := m.clone()
	c["ray_id"] = "x"
	if _, ok := m["ray_id"]; ok {
		t.Fatal("clone shares storage with the original")
	}
}
