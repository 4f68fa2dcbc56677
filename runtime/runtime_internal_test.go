package runtime

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRunID(t *testing.T) {
	id1 := generateRunID()
	id2 := generateRunID()

	if id1 == "" {
		t.Error("generateRunID() returned empty string")
	}
	if id1 == id2 {
		t.Error("generateRunID() should return unique IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("generateRunID() = %q is not a UUID: %v", id1, err)
	}
}
