package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
)

func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func SHA512(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func HMACSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
