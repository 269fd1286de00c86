// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextWithSessionID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		sessionID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			sessionID: "sess-123",
			want:      "sess-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			sessionID: "sess-456",
			want:      "sess-456",
		},
		{
			name:      "empty session ID",
			ctx:       context.Background(),
			sessionID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithSessionID(tt.ctx, tt.sessionID)
			assert.Equal(t, tt.want, SessionIDFromContext(ctx))
		})
	}
}

func TestSessionIDFromContext_Missing(t *testing.T) {
	assert.Equal(t, "", SessionIDFromContext(nil))
	assert.Equal(t, "", SessionIDFromContext(context.Background()))
}
