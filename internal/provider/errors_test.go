package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"credential", fmt.Errorf("chat: %w", ErrMissingCredential), KindConfiguration},
		{"transport", fmt.Errorf("chat: %w: 502", ErrTransport), KindTransport},
		{"protocol", fmt.Errorf("chat: %w: no choices", ErrProtocol), KindProtocol},
		{"unsupported", ErrUnsupportedCapability, KindUnsupported},
		{"canceled", fmt.Errorf("speech: %w", context.Canceled), KindCanceled},
		{"deadline", context.DeadlineExceeded, KindTransport},
		{"other", errors.New("boom"), KindTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v)=%s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestKindRecoverable(t *testing.T) {
	for _, k := range []Kind{KindTransport, KindProtocol} {
		if !k.Recoverable() {
			t.Fatalf("%s recoverable=false, want true", k)
		}
	}
	for _, k := range []Kind{KindNone, KindConfiguration, KindUnsupported, KindCanceled} {
		if k.Recoverable() {
			t.Fatalf("%s recoverable=true, want false", k)
		}
	}
}
