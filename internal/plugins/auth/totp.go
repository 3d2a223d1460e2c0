package auth

import (
	"encoding/base32"
	"fmt"
	"regexp"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP parameters understood by every mainstream authenticator app.
const (
	totpPeriod     = 30
	totpSecretSize = 20 // 160 bits
)

var totpCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

// validCodeFormat reports whether code is exactly six ASCII digits.
func validCodeFormat(code string) bool {
	return totpCodePattern.MatchString(code)
}

// generateTOTPSecret draws a new random base32 secret.
func generateTOTPSecret(issuer, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generating totp key: %w", err)
	}
	return key.Secret(), nil
}

// provisioningURL builds the otpauth:// URI for an existing secret.
func provisioningURL(issuer, account, secret string) (string, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decoding totp secret: %w", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("building totp url: %w", err)
	}
	return key.URL(), nil
}

func totpOpts(skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// validateTOTP checks code against secret at t, accepting skew steps on
// either side.
func validateTOTP(code, secret string, t time.Time, skew uint) (bool, error) {
	return totp.ValidateCustom(code, secret, t.UTC(), totpOpts(skew))
}

// generateTOTPCode returns the code for secret at t.
func generateTOTPCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totpOpts(0))
}
