package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "classtrack", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "secret", "classtrack")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "stu-1" || claims.Role != RoleStudent {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	pair, _ := Issue("stu-1", RoleStudent, "classtrack", "secret", time.Minute, time.Hour)

	t.Run("wrong key", func(t *testing.T) {
		if _, err := Parse(pair.AccessToken, "other-secret", "classtrack"); err == nil {
			t.Error("accepted a token signed with another key")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		if _, err := Parse(pair.AccessToken, "secret", "someone-else"); err == nil {
			t.Error("accepted a token from another issuer")
		}
	})

	t.Run("expired", func(t *testing.T) {
		old, _ := Issue("stu-1", RoleStudent, "classtrack", "secret", -time.Minute, time.Hour)
		if _, err := Parse(old.AccessToken, "secret", "classtrack"); err == nil {
			t.Error("accepted an expired token")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := Parse("not-a-token", "secret", "classtrack"); err == nil {
			t.Error("accepted garbage")
		}
	})
}
