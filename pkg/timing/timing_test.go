package timing

import (
	"errors"
	"testing"
	"time"
)

func TestStartDialRecordsDuration(t *testing.T) {
	tm := StartDial("1.2.3.4:80")
	time.Sleep(time.Millisecond)
	d := tm.End(nil)

	if d.Peer != "1.2.3.4:80" {
		t.Fatalf("got peer %q", d.Peer)
	}
	if d.Duration <= 0 {
		t.Fatalf("expected a positive duration")
	}
	if d.Err != nil {
		t.Fatalf("expected no error, got %v", d.Err)
	}
}

func TestStartDialRecordsFailure(t *testing.T) {
	tm := StartDial("1.2.3.4:80")
	cause := errors.New("refused")
	d := tm.End(cause)

	if d.Err != cause {
		t.Fatalf("expected the cause to be recorded")
	}
	if d.String() == "" {
		t.Fatalf("expected a non-empty summary")
	}
}
