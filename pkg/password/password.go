package password

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 6
	// bcrypt 只使用前 72 字节
	MaxLength = 72
)

var ErrPolicy = errors.New("password must be 6 to 72 bytes")

// Check 密码长度校验
func Check(plain string) error {
	if utf8.RuneCountInString(plain) < MinLength || len(plain) > MaxLength {
		return ErrPolicy
	}
	return nil
}

// Hash 生成密码哈希
func Hash(plain string) (string, error) {
	if err := Check(plain); err != nil {
		return "", err
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify 校验密码
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
