package token

import (
	stderrors "errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"

	"verifyflow/config"
	"verifyflow/pkg/errors"
)

const (
	IdentityKey = "uid"
	// RoleKey 审核接口要求 role=reviewer
	RoleKey      = "role"
	RoleProvider = "provider"
	RoleReviewer = "reviewer"
)

var errGeneratorNotInitialized = stderrors.New("token generator not initialized, call token.Init() first")

var (
	// 这个实例会被 middleware 和 token 包共同使用
	sharedGenerator *jwt.HertzJWTMiddleware
)

func Init() error {
	var err error
	sharedGenerator, err = jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(config.Cfg.JWTSecret),
		Timeout:     time.Duration(config.Cfg.JWTExpireMinutes) * time.Minute,
		MaxRefresh:  time.Duration(config.Cfg.JWTRefreshDays) * 24 * time.Hour,
		IdentityKey: IdentityKey,
		TimeFunc:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token generator: %w", err)
	}
	return nil
}

// GetGenerator 获取共享的 token 生成器（供 middleware 使用）
func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// GenerateAccessToken 为服务商或审核人员签发 access token
func GenerateAccessToken(subjectID, role string) (accessToken string, expiresIn int, err error) {
	if sharedGenerator == nil {
		return "", 0, errGeneratorNotInitialized
	}

	now := sharedGenerator.TimeFunc()
	expiresAt := now.Add(sharedGenerator.Timeout)

	claims := jwtv5.MapClaims{
		IdentityKey: subjectID,
		RoleKey:     role,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
	}

	accessToken, err = jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(sharedGenerator.Key)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	expiresIn = int(expiresAt.Sub(now).Seconds())
	return accessToken, expiresIn, nil
}

// Parse 校验 token 并返回 uid 与 role
func Parse(tokenString string) (subjectID, role string, err error) {
	if sharedGenerator == nil {
		return "", "", errGeneratorNotInitialized
	}

	tok, err := jwtv5.ParseWithClaims(tokenString, jwtv5.MapClaims{}, func(t *jwtv5.Token) (interface{}, error) {
		if t.Method != jwtv5.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v, expected HS256", t.Header["alg"])
		}
		return sharedGenerator.Key, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errors.InvalidToken, err)
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok || !tok.Valid {
		return "", "", errors.InvalidToken
	}

	subjectID = ClaimString(claims[IdentityKey])
	if subjectID == "" {
		return "", "", errors.InvalidToken
	}
	role = ClaimString(claims[RoleKey])
	return subjectID, role, nil
}

// ClaimString 数字形式的 uid 按整数格式化
func ClaimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return ""
	}
}
