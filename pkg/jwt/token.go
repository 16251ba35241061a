package jwtPkg

import (
	"errors"
	"fmt"
	"optifocus/internal/entity"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	AccessTokenSecret = "JWT_ACCESS_TOKEN_SECRET"
	OperatorLocalsKey = "operator"
)

var ErrMissingClaims = errors.New("token claims are missing required fields")

func Sign(data map[string]interface{}, expiredIn time.Duration) (string, int64, error) {
	expiredAt := time.Now().Add(expiredIn).Unix()

	secret := os.Getenv(AccessTokenSecret)
	if secret == "" {
		return "", 0, fmt.Errorf("%s not set", AccessTokenSecret)
	}

	claims := jwt.MapClaims{}
	claims["exp"] = expiredAt
	claims["authorization"] = true

	for k, v := range data {
		claims[k] = v
	}

	logrus.WithField("claims", claims).Debug("Creating token with claims")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString([]byte(secret))
	if err != nil {
		logrus.WithError(err).Error("Failed to sign token")
		return "", 0, err
	}

	return accessToken, expiredAt, nil
}

func VerifyTokenHeader(c *fiber.Ctx, secretEnvKey string) (*jwt.Token, error) {
	log := logrus.WithField("func", "VerifyTokenHeader")

	header := c.Get("Authorization")
	if header == "" {
		return nil, errors.New("empty Authorization header")
	}

	accessToken, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, errors.New("invalid Authorization format")
	}

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("empty token")
	}

	secret := os.Getenv(secretEnvKey)
	if secret == "" {
		log.Errorf("%s environment variable not set", secretEnvKey)
		return nil, errors.New("JWT secret not configured")
	}

	token, err := jwt.Parse(accessToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		log.WithError(err).Debug("Failed to parse JWT token")
		return nil, err
	}

	return token, nil
}

// OperatorFromToken extracts the operator identity carried by a verified token.
func OperatorFromToken(token *jwt.Token) (entity.OperatorLoginData, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return entity.OperatorLoginData{}, errors.New("invalid token claims")
	}

	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	if id == "" || username == "" {
		return entity.OperatorLoginData{}, ErrMissingClaims
	}

	return entity.OperatorLoginData{ID: id, Username: username}, nil
}

func GetOperatorLoginData(c *fiber.Ctx) (entity.OperatorLoginData, error) {
	operator, ok := c.Locals(OperatorLocalsKey).(entity.OperatorLoginData)
	if !ok {
		return entity.OperatorLoginData{}, fiber.ErrUnauthorized
	}

	return operator, nil
}
