package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "p1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestExpired(t *testing.T) {
	now := time.Now()
	require.True(t, Expired(signed(t, now.Add(-time.Minute)), now))
	require.False(t, Expired(signed(t, now.Add(time.Hour)), now))
	require.False(t, Expired("opaque-session-token", now))
}

func TestStaticSetEmitsLatest(t *testing.T) {
	s := NewStatic("a")
	s.Set("a")
	select {
	case v := <-s.Changes():
		t.Fatalf("unchanged token emitted %q", v)
	default:
	}
	for i := 0; i < 20; i++ {
		s.Set(string(rune('b' + i%20)))
	}
	s.Set("final")
	var last string
	for {
		select {
		case v := <-s.Changes():
			last = v
			continue
		default:
		}
		break
	}
	require.Equal(t, "final", last)
	require.Equal(t, "final", s.CurrentToken())
}
