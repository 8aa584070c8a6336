package util

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedProfileToken = errors.New("malformed profile token")
	ErrInvalidProfileToken   = errors.New("invalid profile token signature")
	ErrExpiredProfileToken   = errors.New("profile token expired")
)

// SignProfileToken issues the credential an Experience host hands to the
// user's browser so it can open that user's card:
//
//	base64url(profileID) "." unix(expiresAt) "." hex(hmac-sha256)
func SignProfileToken(secret, profileID string, expiresAt time.Time) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(profileID)) + "." + strconv.FormatInt(expiresAt.Unix(), 10)
	return payload + "." + HmacSHA256(secret, payload)
}

// VerifyProfileToken returns the profile a token was issued for and when it expires.
func VerifyProfileToken(secret, token string, now time.Time) (string, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, ErrMalformedProfileToken
	}

	payload := parts[0] + "." + parts[1]
	if !ConstantTimeEqual(HmacSHA256(secret, payload), parts[2]) {
		return "", time.Time{}, ErrInvalidProfileToken
	}

	rawProfile, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(rawProfile) == 0 {
		return "", time.Time{}, ErrMalformedProfileToken
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, ErrMalformedProfileToken
	}

	expiresAt := time.Unix(unix, 0)
	if !now.Before(expiresAt) {
		return "", time.Time{}, ErrExpiredProfileToken
	}
	return string(rawProfile), expiresAt, nil
}
