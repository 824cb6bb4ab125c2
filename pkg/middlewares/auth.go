// pkg/middlewares/auth.go
package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"image-optimizer/config"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

type AuthMiddleware struct {
	config *config.Config
	log    *utils.Logger
}

func NewAuthMiddleware(config *config.Config, log *utils.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: config,
		log:    log,
	}
}

// Enabled is false when no users are configured: admin routes are then open
func (m *AuthMiddleware) Enabled() bool {
	return len(m.config.Auth.Users) > 0
}

// Authenticate protects mutating admin routes. Reads stay anonymous.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			return c.Next()
		}

		method := c.Method()
		if method == fiber.MethodGet || method == fiber.MethodHead {
			m.log.Debug("Anonymous read access allowed")
			return c.Next()
		}

		// Récupérer le header d'authentification
		auth := c.Get(fiber.HeaderAuthorization)
		if auth == "" {
			m.log.WithField("path", c.Path()).Warn("No authorization header")
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="Image Optimizer"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}

		// Vérifier le format "Basic base64(username:password)"
		if !strings.HasPrefix(auth, "Basic ") {
			m.log.Warn("Invalid auth format")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authentication format"})
		}

		credentials, err := base64.StdEncoding.DecodeString(auth[6:])
		if err != nil {
			m.log.WithError(err).Warn("Failed to decode credentials")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials format"})
		}

		parts := strings.SplitN(string(credentials), ":", 2)
		if len(parts) != 2 {
			m.log.Warn("Invalid credentials format")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials format"})
		}
		username, password := parts[0], parts[1]

		for _, user := range m.config.Auth.Users {
			if subtle.ConstantTimeCompare([]byte(user.Username), []byte(username)) == 1 &&
				subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) == 1 {
				m.log.WithField("username", username).Debug("User authenticated successfully")
				c.Locals("username", username)
				return c.Next()
			}
		}

		m.log.WithField("username", username).Warn("Authentication failed")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
		})
	}
}
