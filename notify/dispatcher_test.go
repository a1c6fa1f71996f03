package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type memStore struct {
	pending []Message
	sent    []int64
	failed  []int64
}

func (m *memStore) ListPending(_ context.Context, limit int) ([]Message, error) {
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *memStore) MarkSent(_ context.Context, id int64) error {
	m.sent = append(m.sent, id)
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id int64, _ int) error {
	m.failed = append(m.failed, id)
	return nil
}

type recordingPublisher struct {
	keys    []string
	payload []any
	failOn  map[string]error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	if err, ok := p.failOn[routingKey]; ok {
		return err
	}
	p.keys = append(p.keys, routingKey)
	p.payload = append(p.payload, payload)
	return nil
}

func TestProcessPendingPublishesAndMarksSent(t *testing.T) {
	actor := "actor-1"
	store := &memStore{pending: []Message{
		{ID: 1, Type: TypeDelivery, RecipientID: "u1", ActorID: &actor, Payload: json.RawMessage(`{"work_order_id":"wo1"}`)},
		{ID: 2, Type: TypeEscrowUpdate, RecipientID: "u2", Payload: json.RawMessage(`{}`)},
	}}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, nil)

	d.processPending(context.Background())

	if len(pub.keys) != 2 {
		t.Fatalf("published = %d, want 2", len(pub.keys))
	}
	if pub.keys[0] != "notification.delivery" || pub.keys[1] != "notification.escrow_update" {
		t.Fatalf("routing keys = %v", pub.keys)
	}
	if len(store.sent) != 2 || store.sent[0] != 1 || store.sent[1] != 2 {
		t.Fatalf("sent = %v, want [1 2]", store.sent)
	}
	if len(store.failed) != 0 {
		t.Fatalf("failed = %v, want none", store.failed)
	}

	body, ok := pub.payload[0].(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", pub.payload[0])
	}
	if body["actor_id"] != actor {
		t.Fatalf("actor_id = %v, want %s", body["actor_id"], actor)
	}
}

func TestProcessPendingMarksFailedAndKeepsGoing(t *testing.T) {
	store := &memStore{pending: []Message{
		{ID: 10, Type: TypeApplication, RecipientID: "u1", Payload: json.RawMessage(`{}`)},
		{ID: 11, Type: TypeWorkOrderUpdate, RecipientID: "u2", Payload: json.RawMessage(`{}`)},
	}}
	pub := &recordingPublisher{failOn: map[string]error{
		"notification.application": errors.New("broker down"),
	}}
	d := NewDispatcher(store, pub, nil).WithMaxRetries(3)

	d.processPending(context.Background())

	if len(store.failed) != 1 || store.failed[0] != 10 {
		t.Fatalf("failed = %v, want [10]", store.failed)
	}
	if len(store.sent) != 1 || store.sent[0] != 11 {
		t.Fatalf("sent = %v, want [11]", store.sent)
	}
}

func TestProcessPendingHonorsBatchSize(t *testing.T) {
	store := &memStore{pending: []Message{
		{ID: 1, Type: TypeDelivery, RecipientID: "u1", Payload: json.RawMessage(`{}`)},
		{ID: 2, Type: TypeDelivery, RecipientID: "u1", Payload: json.RawMessage(`{}`)},
		{ID: 3, Type: TypeDelivery, RecipientID: "u1", Payload: json.RawMessage(`{}`)},
	}}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, nil).WithBatchSize(2)

	d.processPending(context.Background())

	if len(pub.keys) != 2 {
		t.Fatalf("published = %d, want 2", len(pub.keys))
	}
}
