package model

import (
	"errors"
	"net/mail"
	"strings"
	"unicode"
)

// MinPasswordLength 是密码的最小长度。
const MinPasswordLength = 8

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordNoUpper  = errors.New("password must include at least 1 uppercase letter")
	ErrPasswordNoDigit  = errors.New("password must include at least 1 number")
	ErrInvalidEmail     = errors.New("invalid email format")
)

// ValidatePassword 校验注册、修改与重置密码时统一使用的密码强度策略。
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	var hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		return ErrPasswordNoUpper
	}
	if !hasDigit {
		return ErrPasswordNoDigit
	}
	return nil
}

// NormalizeEmail 去除首尾空白并转为小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail 校验邮箱格式，只接受裸地址（不带显示名）。
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}
