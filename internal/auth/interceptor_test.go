package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUserID(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		expectedErr bool
		errContains string
		wantUID     string
	}{
		{
			name:        "empty header",
			header:      "",
			expectedErr: true,
			errContains: "X-User-Id header is required",
		},
		{
			name:        "whitespace only",
			header:      "   ",
			expectedErr: true,
			errContains: "X-User-Id header is required",
		},
		{
			name:        "too long",
			header:      strings.Repeat("a", 129),
			expectedErr: true,
			errContains: "too long",
		},
		{
			name:        "contains slash",
			header:      "users/abc",
			expectedErr: true,
			errContains: "invalid characters",
		},
		{
			name:    "valid id",
			header:  "user-123",
			wantUID: "user-123",
		},
		{
			name:    "trimmed",
			header:  "  user-456 ",
			wantUID: "user-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := ExtractUserID(tt.header)

			if tt.expectedErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Empty(t, uid)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantUID, uid)
			}
		})
	}
}

func TestContextUserClaims(t *testing.T) {
	t.Run("WithUserClaims adds claims to context", func(t *testing.T) {
		ctx := WithUserClaims(context.Background(), &UserClaims{UID: "test-uid"})

		retrievedClaims, ok := GetUserClaims(ctx)
		require.True(t, ok)
		assert.Equal(t, "test-uid", retrievedClaims.UID)
	})

	t.Run("GetUserClaims returns false for empty context", func(t *testing.T) {
		claims, ok := GetUserClaims(context.Background())
		assert.False(t, ok)
		assert.Nil(t, claims)
	})

	t.Run("GetUserID returns UID when claims exist", func(t *testing.T) {
		ctx := WithUserClaims(context.Background(), &UserClaims{UID: "user-123"})

		uid, ok := GetUserID(ctx)
		assert.True(t, ok)
		assert.Equal(t, "user-123", uid)
	})

	t.Run("GetUserID returns empty for empty context", func(t *testing.T) {
		uid, ok := GetUserID(context.Background())
		assert.False(t, ok)
		assert.Empty(t, uid)
	})
}

func TestIsPublicEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		procedure string
		expected  bool
	}{
		{"health endpoint", "/health", true},
		{"ping endpoint", "/ping", true},
		{"insights service endpoint", "/pfinsights.v1.InsightsService/GetAlerts", false},
		{"empty endpoint", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPublicEndpoint(tt.procedure))
		})
	}
}
