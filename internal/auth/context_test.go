// ABOUTME: Tests for auth context propagation
// ABOUTME: Covers round trip, missing context and MustFromContext panics

package auth

import (
	"context"
	"testing"
)

func TestWithAuth_RoundTrip(t *testing.T) {
	want := &AuthContext{AgentID: "agent-1", Username: "bob"}
	ctx := WithAuth(context.Background(), want)

	if got := FromContext(ctx); got != want {
		t.Errorf("FromContext() = %+v, want %+v", got, want)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}
