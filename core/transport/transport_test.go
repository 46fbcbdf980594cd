package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/kilianp07/shiprelay/core/model"
)

func TestDeferred(t *testing.T) {
	var d Deferred
	if err := d.Send(context.Background(), "c1", model.Disconnect{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("unbound deferred sender: got %v", err)
	}
	var got model.ConnID
	d.Set(SenderFunc(func(_ context.Context, conn model.ConnID, _ model.Message) error {
		got = conn
		return nil
	}))
	if err := d.Send(context.Background(), "c2", model.Disconnect{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != "c2" {
		t.Fatalf("forwarded to %q", got)
	}
}
