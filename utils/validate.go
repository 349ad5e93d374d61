package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{6,19}$`)

// ValidatePhone 宽松的国际号码格式校验，只挡明显的脏数据
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(strings.TrimSpace(phone))
}

// ValidateMediaURL 上传后的文件地址必须是 http(s) 绝对地址
func ValidateMediaURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// IsBlank 去掉首尾空白后是否为空
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
