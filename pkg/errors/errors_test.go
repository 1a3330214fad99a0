// errors_test.go: 验证 AppError / Wrap / WithCode 的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrNotConnected, "Client.SendMessage", "transport down")

	if !errors.Is(wrapped, ErrNotConnected) {
		t.Errorf("errors.Is(wrapped, ErrNotConnected) = false, want true")
	}
	if errors.Is(wrapped, ErrNoSession) {
		t.Errorf("errors.Is(wrapped, ErrNoSession) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Client.SendMessage" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Client.SendMessage")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	wrapped := Wrap(io.ErrUnexpectedEOF, "Conn.readLoop", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Conn.readLoop", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestWrapfFormat(t *testing.T) {
	wrapped := Wrapf(ErrInvalidInput, "Client.Connect", "bad session %q", " ")

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, `bad session " "`) {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestNewWithoutCause(t *testing.T) {
	err := New("Init", "failed to start")
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}

// TestWithCode 验证 WithCode 不修改原错误, 且 CodeOf 能穿透外层包装读到错误码。
func TestWithCode(t *testing.T) {
	base := New("Conn.Open", "dial failed")
	coded := WithCode(base, CodeTransport)

	if CodeOf(base) != "" {
		t.Errorf("original mutated: code = %q", CodeOf(base))
	}
	if got := CodeOf(coded); got != CodeTransport {
		t.Errorf("CodeOf(coded) = %q, want %q", got, CodeTransport)
	}

	plain := WithCode(io.EOF, CodeBackend)
	if !errors.Is(plain, io.EOF) {
		t.Error("WithCode on plain error should keep cause")
	}
	if CodeOf(plain) != CodeBackend {
		t.Errorf("CodeOf(plain) = %q", CodeOf(plain))
	}
	if WithCode(nil, CodeState) != nil {
		t.Error("WithCode(nil) should be nil")
	}
}

func TestDoubleWrap(t *testing.T) {
	inner := Wrap(ErrNoSession, "Subscriptions.Send", "no session")
	outer := Wrap(inner, "Client.SendMessage", "send failed")

	if !errors.Is(outer, ErrNoSession) {
		t.Error("errors.Is(outer, ErrNoSession) = false after double wrap")
	}
}
