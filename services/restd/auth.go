package restd

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gbrlsnchs/jwt/v3"
	"github.com/gin-gonic/gin"

	"github.com/untangle/tlsflowd/services/logger"
)

const tokenLifetime = 1 * time.Hour

var jwtSecretMutex sync.RWMutex
var jwtSigner *jwt.HMACSHA

func setJWTSecret(secret string) {
	if secret == "" {
		secret = "tlsflowd-dev-secret"
		logger.Warn("No REST JWT secret configured, using an insecure development default\n")
	}
	jwtSecretMutex.Lock()
	jwtSigner = jwt.NewHMAC(jwt.SHA256, []byte(secret))
	jwtSecretMutex.Unlock()
}

func signer() *jwt.HMACSHA {
	jwtSecretMutex.RLock()
	defer jwtSecretMutex.RUnlock()
	return jwtSigner
}

// issueTokenHandler issues a short-lived bearer token. There is no
// interactive user in this daemon's audience, so any caller that can
// reach the bind address may request one; operators are expected to
// restrict network reachability instead of gating this endpoint
// behind a login form.
func issueTokenHandler(c *gin.Context) {
	now := time.Now()
	payload := jwt.Payload{
		Issuer:         "tlsflowd",
		Subject:        "exporter",
		IssuedAt:       now.Unix(),
		ExpirationTime: now.Add(tokenLifetime).Unix(),
	}

	token, err := jwt.Sign(jwt.Header{}, payload, signer())
	if err != nil {
		logger.Err("Failed to sign JWT: %s\n", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": string(token), "expires_in": int(tokenLifetime.Seconds())})
}

// authRequired validates the bearer token on every request to the
// /api/v1 group.
func authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		raw, err := jwt.Parse(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "malformed token"})
			c.Abort()
			return
		}
		if err := raw.Verify(signer()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token signature"})
			c.Abort()
			return
		}

		var payload jwt.Payload
		if _, err := raw.Decode(&payload); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "malformed token payload"})
			c.Abort()
			return
		}

		now := time.Now()
		if err := payload.Validate(jwt.ExpirationTimeValidator(now, true)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) []byte {
	header := c.Request.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return []byte(strings.TrimPrefix(header, prefix))
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func wrapJSONArray(items []string) []byte {
	if len(items) == 0 {
		return []byte("[]")
	}
	var buf []byte
	buf = append(buf, '[')
	for i, item := range items {
		if i != 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, item...)
	}
	buf = append(buf, ']')
	return buf
}
