package httpapi

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/KOMKZ/go-yogan-mesh/errcode"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsKey = "jwt_claims"

var (
	// ErrTokenMissing 请求未携带 Bearer Token
	ErrTokenMissing = errors.New("httpapi: token missing")

	// ErrTokenInvalid 签名、算法或声明校验失败
	ErrTokenInvalid = errors.New("httpapi: token invalid")

	// ErrTokenExpired token 已过期
	ErrTokenExpired = errors.New("httpapi: token expired")
)

// Claims 注册 API 接受的声明
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// HasRole 是否拥有角色
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Verifier HMAC Token 校验器
type Verifier struct {
	method jwt.SigningMethod
	key    []byte
	parser *jwt.Parser
}

// NewVerifier 按配置创建校验器
func NewVerifier(cfg JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("httpapi: jwt secret is empty")
	}
	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case AlgorithmHS256, "":
		method = jwt.SigningMethodHS256
	case AlgorithmHS384:
		method = jwt.SigningMethodHS384
	case AlgorithmHS512:
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("httpapi: unsupported jwt algorithm %q", cfg.Algorithm)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Verifier{method: method, key: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify 校验并解析 token
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// Sign 签发 token（运维脚本与测试使用）
func (v *Verifier) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(v.method, claims).SignedString(v.key)
}

// authenticate Bearer Token 中间件
func (s *Server) authenticate() gin.HandlerFunc {
	skip := make(map[string]bool, len(s.cfg.JWT.SkipPaths))
	for _, p := range s.cfg.JWT.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.HandleError(c, errcode.ErrUnauthorized.Wrap(ErrTokenMissing))
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			s.HandleError(c, errcode.ErrUnauthorized.Wrap(err))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetClaims 取出已认证的声明
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
