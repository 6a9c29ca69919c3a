package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims are the JWT claims carried by a device token. A new device
// provisioned under this token always joins the token's organization.
type DeviceClaims struct {
	OrganizationID string `json:"organization_id"`
	DeviceID       string `json:"device_id"`
	jwt.RegisteredClaims
}

// ParseDeviceToken validates a device token and returns its claims.
func ParseDeviceToken(tokenString string, secret []byte) (*DeviceClaims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &DeviceClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.OrganizationID == "" {
		return nil, errors.New("auth: missing organization_id")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("auth: token expired")
	}
	return claims, nil
}

// IssueDeviceToken signs a device token for tooling and tests.
func IssueDeviceToken(organizationID, deviceID string, secret []byte, ttl time.Duration) (string, error) {
	if organizationID == "" {
		return "", errors.New("auth: empty organization id")
	}
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now().UTC()
	claims := DeviceClaims{
		OrganizationID: organizationID,
		DeviceID:       deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   deviceID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
