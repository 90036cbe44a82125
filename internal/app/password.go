package app

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/cbrcs/studysession/internal/domain"
)

const MinPasswordLen = 4

func HashPassword(plain string, cost int) (string, error) {
	if len(plain) < MinPasswordLen {
		return "", domain.ErrPasswordTooShort
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ComparePassword(hash, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return domain.ErrBadPassword
	}
	return nil
}
