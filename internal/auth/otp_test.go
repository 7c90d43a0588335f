package auth

import "testing"

func TestGenerateOTPIsSixDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateOTP()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !ValidOTPFormat(code) {
			t.Fatalf("generated code %q is not six digits", code)
		}
	}
}

func TestValidOTPFormat(t *testing.T) {
	valid := []string{"000000", "123456", "999999", "004213"}
	for _, code := range valid {
		if !ValidOTPFormat(code) {
			t.Fatalf("%q should be valid", code)
		}
	}
	invalid := []string{"", "12345", "1234567", "12345a", " 123456", "123456 ", "12 456", "12345６"}
	for _, code := range invalid {
		if ValidOTPFormat(code) {
			t.Fatalf("%q should be invalid", code)
		}
	}
}

func TestOTPEqual(t *testing.T) {
	if !OTPEqual("004213", "004213") {
		t.Fatalf("equal codes reported unequal")
	}
	if OTPEqual("004213", "004214") {
		t.Fatalf("unequal codes reported equal")
	}
	if OTPEqual("004213", "04213") {
		t.Fatalf("length mismatch reported equal")
	}
}
