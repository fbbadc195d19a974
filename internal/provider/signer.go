package provider

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
)

const (
	// AuthHeader — заголовок авторизации провайдера.
	AuthHeader = "X-DW-Authorization"
	authScheme = "HM1"
)

// Sign считает base64(HMAC-SHA1) от десятичной строки таймстемпа в миллисекундах.
// Чистая функция: одинаковые secret и timestamp всегда дают одну подпись.
func Sign(secret string, timestampMillis int64) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMillis, 10)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthorizationValue собирает значение заголовка: "HM1 apiKey:signature:timestamp".
// Таймстемп уходит провайдеру ровно тот, которым подписывали.
func AuthorizationValue(apiKey, secret string, timestampMillis int64) string {
	return fmt.Sprintf("%s %s:%s:%d", authScheme, apiKey, Sign(secret, timestampMillis), timestampMillis)
}
