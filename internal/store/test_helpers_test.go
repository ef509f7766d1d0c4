package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/eventq/internal/ir"
)

// createTestStore opens a fresh file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(batchID, groupID string, events ...ir.EntityUpdate) ir.Batch {
	return ir.Batch{BatchID: batchID, GroupID: groupID, Events: events}
}

func ev(op ir.Operation, listID, instanceID string) ir.EntityUpdate {
	return ir.EntityUpdate{InstanceID: instanceID, InstanceListID: listID, Operation: op}
}
