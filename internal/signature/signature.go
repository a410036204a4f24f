// Package signature 实现出站负载的 HMAC-SHA256 签名与校验
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// SecretLength 自动生成密钥的字节长度（编码为 64 位十六进制字符串）
const SecretLength = 32

// Sign 对负载字节计算 HMAC-SHA256 签名，返回小写十六进制编码
//
// 签名针对实际传输的请求体字节计算，接收方以同样的字节校验。
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 以常量时间比较校验签名
func Verify(secret string, payload []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// GenerateSecret 生成随机 Webhook 密钥
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
