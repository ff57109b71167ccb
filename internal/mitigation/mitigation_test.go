package mitigation

import (
	"context"
	"testing"
	"time"
)

type fakePublisher struct {
	subject string
	payload any
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, payload any) error {
	f.subject = subject
	f.payload = payload
	return nil
}

func TestDispatchBlockPublishesCommand(t *testing.T) {
	fp := &fakePublisher{}
	d := NewDispatcher(fp, "sentryd.commands.block")

	now := time.Now()
	if err := d.DispatchBlock(context.Background(), "10.0.0.9", "auto: port_scan", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fp.subject != "sentryd.commands.block" {
		t.Fatalf("unexpected subject: %s", fp.subject)
	}
	cmd, ok := fp.payload.(BlockCommand)
	if !ok {
		t.Fatalf("expected BlockCommand payload, got %T", fp.payload)
	}
	if cmd.Action != "block_ip" || cmd.Addr != "10.0.0.9" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}
