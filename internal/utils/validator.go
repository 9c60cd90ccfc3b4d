package utils

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// 去掉了 0/O、1/I 等容易混淆的字符
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// HashPassword 使用 bcrypt 对密码进行哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword 验证密码
func CheckPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// ValidateUsername 3-20 个字符，字母数字下划线
func ValidateUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidatePassword 至少 8 个字符
func ValidatePassword(password string) bool {
	return len(password) >= 8
}

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// GenerateGroupCode 生成 length 位随机群组码
func GenerateGroupCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
