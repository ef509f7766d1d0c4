package ir

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEventForKey is returned by ModificationOf when the scanned
	// events hold nothing for the requested key.
	ErrNoEventForKey = errors.New("no event for entity key")

	// ErrUnknownOperation is returned when an event carries an operation
	// outside ValidOperations.
	ErrUnknownOperation = errors.New("unknown operation")
)

// ModificationOf returns the operation of the first event in events that
// targets key.
//
// The whole sequence is scanned, not a single event: a batch may carry
// several positions for the same entity and the first one decides the
// modification kind of the batch for that entity.
func ModificationOf(events []EntityUpdate, key EntityKey) (Operation, error) {
	for _, ev := range events {
		if ev.Key() != key {
			continue
		}
		if !ev.Operation.Valid() {
			return "", fmt.Errorf("%w: %q for %s", ErrUnknownOperation, ev.Operation, key)
		}
		return ev.Operation, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoEventForKey, key)
}

// ValidateBatch checks the shape of an incoming batch: non-empty ids and
// recognized operations on every event.
func ValidateBatch(b Batch) error {
	if b.BatchID == "" {
		return errors.New("batch_id is required")
	}
	if b.GroupID == "" {
		return fmt.Errorf("batch %s: group_id is required", b.BatchID)
	}
	for i, ev := range b.Events {
		if ev.InstanceID == "" {
			return fmt.Errorf("batch %s: events[%d]: instance_id is required", b.BatchID, i)
		}
		if !ev.Operation.Valid() {
			return fmt.Errorf("batch %s: events[%d]: %w %q", b.BatchID, i, ErrUnknownOperation, ev.Operation)
		}
	}
	return nil
}
