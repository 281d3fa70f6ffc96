package user

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User 用户记录
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateInput 创建用户的请求数据
type CreateInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Normalize 去除首尾空白，姓名转为 NFC 形式，邮箱转小写
func (in CreateInput) Normalize() CreateInput {
	return CreateInput{
		Name:  norm.NFC.String(strings.TrimSpace(in.Name)),
		Email: cases.Lower(language.Und).String(strings.TrimSpace(in.Email)),
	}
}

// Validate 校验必填字段和邮箱格式
func (in CreateInput) Validate() error {
	if in.Name == "" || in.Email == "" {
		return apperror.BadRequest("Name and email are required")
	}
	if !emailPattern.MatchString(in.Email) {
		return apperror.BadRequest("Invalid email format")
	}
	return nil
}
