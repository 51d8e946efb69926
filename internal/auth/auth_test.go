package auth

import "testing"

func TestStubValidatorTrustsToken(t *testing.T) {
	t.Parallel()

	v := NewStubValidator()
	userID, err := v.Validate("user-42")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want %q", userID, "user-42")
	}
}

func TestStubValidatorRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	v := NewStubValidator()
	if _, err := v.Validate(""); err != ErrMissingToken {
		t.Errorf("Validate(\"\") error = %v, want ErrMissingToken", err)
	}
}
