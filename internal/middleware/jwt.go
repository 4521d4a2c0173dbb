package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/croptalk-api/internal/utils"
)

const bearerPrefix = "bearer "

var errInvalidSubject = errors.New("invalid subject")

// JWTProtected returns a middleware that validates JWT bearer tokens.
// Browsers cannot attach headers to websocket upgrades or EventSource
// requests, so the token is also accepted from the access_token query
// parameter.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := extractToken(c)
		if err != nil {
			return utils.FailWithCode(c, fiber.StatusUnauthorized, "unauthorized", err.Error(), nil)
		}

		userID, err := ParseUserToken(secret, tokenString)
		if err != nil {
			return utils.FailWithCode(c, fiber.StatusUnauthorized, "unauthorized", "invalid token", nil)
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

// ParseUserToken validates an HMAC-signed token and returns its subject.
func ParseUserToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}

	return extractUserIDFromClaims(claims)
}

func extractToken(c *fiber.Ctx) (string, error) {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		if token := strings.TrimSpace(c.Query("access_token")); token != "" {
			return token, nil
		}
		return "", errors.New("authorization header missing")
	}

	if !strings.HasPrefix(strings.ToLower(authorization), bearerPrefix) {
		return "", errors.New("invalid authorization header")
	}

	token := strings.TrimSpace(authorization[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) (string, error) {
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if normalized, err := normalizeUserID(value); err == nil {
				return normalized, nil
			}
		}
	}
	return "", errInvalidSubject
}

func normalizeUserID(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed, nil
		}
	case float64:
		if v >= 0 && v == float64(uint64(v)) {
			return strconv.FormatUint(uint64(v), 10), nil
		}
	}
	return "", errInvalidSubject
}
