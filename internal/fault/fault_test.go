package fault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := fault.New(fault.KindService, "tts.synthesize", "text too long")
	wrapped := fmt.Errorf("query failed: %w", base)

	if got := fault.KindOf(wrapped); got != fault.KindService {
		t.Errorf("KindOf = %v, want %v", got, fault.KindService)
	}
}

func TestKindOf_ContextDeadline(t *testing.T) {
	err := fmt.Errorf("call: %w", context.DeadlineExceeded)
	if got := fault.KindOf(err); got != fault.KindTimeout {
		t.Errorf("KindOf = %v, want %v", got, fault.KindTimeout)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind fault.Kind
		want bool
	}{
		{fault.KindNetwork, true},
		{fault.KindTimeout, true},
		{fault.KindService, false},
		{fault.KindDeviceUnavailable, false},
		{fault.KindFormat, false},
		{fault.KindEmptyCapture, false},
		{fault.KindState, false},
		{fault.KindUnknown, false},
	}
	for _, c := range cases {
		err := fault.New(c.kind, "op", "msg")
		if got := fault.Retryable(err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := fault.Wrap(fault.KindNetwork, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestUserMessage(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:443: i/o timeout")
	err := fault.WrapMsg(fault.KindNetwork, "whisper.transcribe",
		"speech service unavailable, check connection", cause)

	got := fault.UserMessage(err, "something went wrong")
	if got != "speech service unavailable, check connection" {
		t.Errorf("UserMessage = %q", got)
	}
	// The raw cause must never leak into the user-facing message.
	if got == cause.Error() {
		t.Error("UserMessage leaked the underlying cause")
	}

	if got := fault.UserMessage(errors.New("plain"), "fallback"); got != "fallback" {
		t.Errorf("UserMessage fallback = %q", got)
	}
}

func TestErrorString(t *testing.T) {
	err := fault.WrapMsg(fault.KindTimeout, "llm.complete", "model timed out", errors.New("deadline"))
	want := "llm.complete: model timed out: deadline"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
