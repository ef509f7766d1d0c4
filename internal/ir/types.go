package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Operation is the modification an entity update applies to one entity.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ValidOperations lists the recognized operations in declaration order.
var ValidOperations = []Operation{OperationCreate, OperationUpdate, OperationDelete}

// Valid reports whether op is one of the recognized operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ParseOperation accepts an operation name in any letter case
// ("create", "Update", "DELETE").
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q: must be one of %v", s, ValidOperations)
	}
	return op, nil
}

// KeyKind distinguishes global entity ids from list-scoped ones.
type KeyKind uint8

const (
	// KeyGlobal identifies an entity by instance id alone.
	KeyGlobal KeyKind = iota + 1
	// KeyScoped identifies an entity by (list id, instance id).
	KeyScoped
)

// String returns "global" or "scoped".
func (k KeyKind) String() string {
	switch k {
	case KeyGlobal:
		return "global"
	case KeyScoped:
		return "scoped"
	}
	return fmt.Sprintf("KeyKind(%d)", uint8(k))
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k KeyKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// EntityKey is the identity of the entity targeted by an update.
//
// It is a sum type: Global(id) or Scoped(listID, id). Keys of different
// kinds never compare equal, so a global id "a/b" and the scoped pair
// ("a", "b") stay distinct. EntityKey is comparable and used directly as a
// map key.
type EntityKey struct {
	Kind       KeyKind `json:"kind"`
	ListID     string  `json:"list_id,omitempty"`
	InstanceID string  `json:"instance_id"`
}

// GlobalKey returns the key of an entity that lives outside any list.
func GlobalKey(instanceID string) EntityKey {
	return EntityKey{Kind: KeyGlobal, InstanceID: instanceID}
}

// ScopedKey returns the key of an entity that lives in a list.
func ScopedKey(listID, instanceID string) EntityKey {
	return EntityKey{Kind: KeyScoped, ListID: listID, InstanceID: instanceID}
}

// IsScoped reports whether the key carries a list id.
func (k EntityKey) IsScoped() bool {
	return k.Kind == KeyScoped
}

// String renders the key for logs. Not an identity; compare keys directly.
func (k EntityKey) String() string {
	if k.Kind == KeyScoped {
		return "scoped(" + k.ListID + "/" + k.InstanceID + ")"
	}
	return "global(" + k.InstanceID + ")"
}

// EntityUpdate is one change notification for one entity.
type EntityUpdate struct {
	InstanceID     string    `json:"instance_id" yaml:"instance_id"`
	InstanceListID string    `json:"list_id,omitempty" yaml:"list_id,omitempty"`
	Operation      Operation `json:"op" yaml:"op"`
}

// Key derives the entity key: scoped when a list id is present, else global.
func (u EntityUpdate) Key() EntityKey {
	if u.InstanceListID != "" {
		return ScopedKey(u.InstanceListID, u.InstanceID)
	}
	return GlobalKey(u.InstanceID)
}

// Batch is an ordered unit of change delivered by the server.
type Batch struct {
	BatchID string         `json:"batch_id" yaml:"batch_id"`
	GroupID string         `json:"group_id" yaml:"group_id"`
	Events  []EntityUpdate `json:"events" yaml:"events"`
}

// Clone returns a copy of b whose Events slice does not alias b's.
func (b *Batch) Clone() Batch {
	events := make([]EntityUpdate, len(b.Events))
	copy(events, b.Events)
	return Batch{BatchID: b.BatchID, GroupID: b.GroupID, Events: events}
}

// Contains reports whether b holds at least one event for key.
func (b *Batch) Contains(key EntityKey) bool {
	for _, ev := range b.Events {
		if ev.Key() == key {
			return true
		}
	}
	return false
}

// ContainsOp reports whether b holds an event with operation op for the
// given instance id, in any list.
func (b *Batch) ContainsOp(op Operation, instanceID string) bool {
	_, ok := b.EventOf(op, instanceID)
	return ok
}

// EventOf returns the index of the first event with operation op for the
// given instance id, in any list.
func (b *Batch) EventOf(op Operation, instanceID string) (int, bool) {
	for i, ev := range b.Events {
		if ev.Operation == op && ev.InstanceID == instanceID {
			return i, true
		}
	}
	return -1, false
}

// RemoveAt deletes the event at index i, preserving order, and returns it.
func (b *Batch) RemoveAt(i int) EntityUpdate {
	ev := b.Events[i]
	b.Events = slices.Delete(b.Events, i, i+1)
	return ev
}

// RemoveInstance strips every event for instanceID, in any list, and
// returns the removed events in their original order.
func (b *Batch) RemoveInstance(instanceID string) []EntityUpdate {
	var removed []EntityUpdate
	kept := b.Events[:0]
	for _, ev := range b.Events {
		if ev.InstanceID == instanceID {
			removed = append(removed, ev)
			continue
		}
		kept = append(kept, ev)
	}
	// Clear the tail so dropped events are not retained by the backing array.
	for i := len(kept); i < len(b.Events); i++ {
		b.Events[i] = EntityUpdate{}
	}
	b.Events = kept
	return removed
}
