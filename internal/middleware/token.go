package middleware

import (
	"optifocus/pkg/handlerUtil"
	jwtPkg "optifocus/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const unauthorizedMessage = "Unauthorized, access token invalid or expired"

// NewTokenMiddleware admits requests bearing a valid operator token and
// stores the operator under jwtPkg.OperatorLocalsKey.
func (m *middleware) NewTokenMiddleware(ctx *fiber.Ctx) error {
	requestID := m.GetRequestID(ctx)
	errHandler := handlerUtil.New(m.log)

	token, err := jwtPkg.VerifyTokenHeader(ctx, jwtPkg.AccessTokenSecret)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"client_ip":  ctx.IP(),
			"error":      err.Error(),
		}).Warn("Token verification failed")
		return errHandler.HandleUnauthorized(ctx, requestID, unauthorizedMessage)
	}

	operator, err := jwtPkg.OperatorFromToken(token)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Token claims check")
		return errHandler.HandleUnauthorized(ctx, requestID, unauthorizedMessage)
	}

	ctx.Locals(jwtPkg.OperatorLocalsKey, operator)

	m.log.WithFields(logrus.Fields{
		"request_id":  requestID,
		"operator_id": operator.ID,
	}).Debug("Authentication successful")

	return ctx.Next()
}
