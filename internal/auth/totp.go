package auth

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	// totpSkew accepts the two adjacent 30-second steps on each side of the
	// current one, tolerating up to 60 seconds of client clock drift. The
	// window is exactly T-2..T+2; nothing outside it validates.
	totpSkew = 2
)

type TOTPVerifier interface {
	Verify(secret, code string) bool
	Generate(email string) (secret string, otpauthURL string, qrDataURL string, err error)
}

type TOTPService struct {
	Issuer string
	Now    func() time.Time
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{Issuer: issuer, Now: time.Now}
}

func (t *TOTPService) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *TOTPService) Verify(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (t *TOTPService) Generate(email string) (string, string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", "", err
	}

	secret := key.Secret()
	otpauth := key.URL()

	img, err := key.Image(200, 200)
	if err != nil {
		return secret, otpauth, "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return secret, otpauth, "", err
	}
	qr := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	return secret, otpauth, qr, nil
}
