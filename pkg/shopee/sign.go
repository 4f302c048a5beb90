package shopee

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Signer Shopee v2 接口签名器
// 所有带鉴权的请求都必须携带由它计算的 sign 参数
type Signer struct {
	PartnerID  int64
	PartnerKey string
}

// Sign 计算 v2 签名
// 基串 = partner_id + path + timestamp + access_token + shop_id
// 可选字段缺省时不参与拼接（不是字面量 "null"）
// path 必须是包含 /api/v2 前缀的服务器相对路径
func (s *Signer) Sign(path string, timestamp int64, accessToken string, shopID int64) string {
	base := strconv.FormatInt(s.PartnerID, 10) + path + strconv.FormatInt(timestamp, 10)
	if accessToken != "" {
		base += accessToken
	}
	if shopID > 0 {
		base += strconv.FormatInt(shopID, 10)
	}

	mac := hmac.New(sha256.New, []byte(s.PartnerKey))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}
