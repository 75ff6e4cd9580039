package mimecast

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// 认证请求头
const (
	HeaderDate      = "x-mc-date"
	HeaderRequestID = "x-mc-req-id"
	HeaderAppID     = "x-mc-app-id"
)

// Credentials Mimecast API 凭据
type Credentials struct {
	AppID     string
	AppKey    string
	AccessKey string
	SecretKey string // Base64 编码
}

// Signer 为每个请求生成 HMAC-SHA1 签名
//
// 日期与请求 ID 在每次 Sign 时重新生成，不做缓存。
type Signer struct {
	creds  Credentials
	secret []byte
	now    func() time.Time
	newID  func() string
}

// NewSigner 创建签名器，SecretKey 必须是合法的 Base64
func NewSigner(creds Credentials) (*Signer, error) {
	secret, err := base64.StdEncoding.DecodeString(creds.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decode mimecast secret key: %w", err)
	}

	return &Signer{
		creds:  creds,
		secret: secret,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Sign 为请求写入认证头，path 为不含主机的请求路径
func (s *Signer) Sign(req *http.Request, path string) {
	date := s.now().UTC().Format(http.TimeFormat)
	requestID := s.newID()

	req.Header.Set(HeaderDate, date)
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set(HeaderAppID, s.creds.AppID)
	req.Header.Set("Authorization", fmt.Sprintf("MC %s:%s", s.creds.AccessKey, s.Signature(date, requestID, path)))
}

// Signature 计算 base64(HMAC-SHA1(secret, "date:requestID:path:appKey"))
func (s *Signer) Signature(date, requestID, path string) string {
	mac := hmac.New(sha1.New, s.secret)
	mac.Write([]byte(date + ":" + requestID + ":" + path + ":" + s.creds.AppKey))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
