package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func TestBus_Dispatch(t *testing.T) {
	stream := &fakeStream{}
	bus := New(stream, "", 0)

	err := bus.Dispatch(context.Background(), "cover", "open_cover", map[string]any{"entity_id": "cover.garage"}, false)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(stream.args) != 1 {
		t.Fatalf("XAdd called %d times, want 1", len(stream.args))
	}
	a := stream.args[0]
	if a.Stream != DefaultStream || a.MaxLen != DefaultMaxLen || !a.Approx {
		t.Errorf("XAddArgs = %+v", a)
	}
	values, ok := a.Values.(map[string]any)
	if !ok {
		t.Fatalf("Values has type %T", a.Values)
	}
	if values["domain"] != "cover" || values["service"] != "open_cover" || values["blocking"] != false {
		t.Errorf("values = %v", values)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(values["service_data"].(string)), &data); err != nil {
		t.Fatalf("decode service_data: %v", err)
	}
	if data["entity_id"] != "cover.garage" {
		t.Errorf("service_data = %v", data)
	}
}

func TestBus_DispatchError(t *testing.T) {
	bus := New(&fakeStream{err: errors.New("READONLY")}, "calls", 10)
	if err := bus.Dispatch(context.Background(), "light", "turn_on", map[string]any{}, false); err == nil {
		t.Fatal("Dispatch() error = nil, want READONLY")
	}
}
