package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/Tassadaritze/tassad-site-remix/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	SessionCookie = "__session"
	sessionKey    = "session"
)

var ErrInvalidSession = errors.New("invalid session")

// Claims 是 cookie 会话中保存的内容：聊天显示名和一次性提示信息。
type Claims struct {
	Username string `json:"username,omitempty"`
	Flash    string `json:"flash,omitempty"`
	jwt.RegisteredClaims
}

// Sessions 用 HS256 签名的 JWT 作为 cookie 会话。
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewSessions(cfg config.Config) *Sessions {
	return &Sessions{
		secret: []byte(cfg.SessionSecret),
		ttl:    time.Duration(cfg.SessionTTLHours) * time.Hour,
		secure: cfg.Env == "prod",
	}
}

func (s *Sessions) Encode(claims Claims) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Sessions) Decode(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidSession
}

// Middleware 解析会话 cookie；无效或缺失的会话按空会话处理，不中断请求。
func (s *Sessions) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := &Claims{}
		if raw, err := c.Cookie(SessionCookie); err == nil && raw != "" {
			if parsed, err := s.Decode(raw); err == nil {
				claims = parsed
			} else {
				log.Debug().Err(err).Msg("discard session cookie")
			}
		}
		c.Set(sessionKey, claims)
		c.Next()
	}
}

func current(c *gin.Context) *Claims {
	if v, ok := c.Get(sessionKey); ok {
		if claims, ok2 := v.(*Claims); ok2 {
			return claims
		}
	}
	return &Claims{}
}

// GetUsername 返回当前会话的显示名，未设置时为空字符串。
func GetUsername(c *gin.Context) string {
	return current(c).Username
}

func (s *Sessions) SetUsername(c *gin.Context, username string) error {
	claims := current(c)
	claims.Username = username
	claims.Flash = ""
	return s.commit(c, claims)
}

func (s *Sessions) SetFlash(c *gin.Context, msg string) error {
	claims := current(c)
	claims.Flash = msg
	return s.commit(c, claims)
}

// PopFlash 读取并清除一次性提示信息。
func (s *Sessions) PopFlash(c *gin.Context) (string, error) {
	claims := current(c)
	msg := claims.Flash
	if msg == "" {
		return "", nil
	}
	claims.Flash = ""
	return msg, s.commit(c, claims)
}

func (s *Sessions) commit(c *gin.Context, claims *Claims) error {
	value, err := s.Encode(*claims)
	if err != nil {
		return err
	}
	c.Set(sessionKey, claims)
	c.SetSameSite(http.SameSiteLaxMode)
	// maxAge 为 0 即浏览器会话 cookie，过期时间由 JWT 自身控制
	c.SetCookie(SessionCookie, value, 0, "/", "", s.secure, true)
	return nil
}
