package access

import (
	"fmt"

	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 6
	// bcrypt only reads the first 72 bytes
	maxPasswordLen = 72
)

func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return "", fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrValidation, maxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
