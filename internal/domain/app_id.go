package domain

import (
	"strconv"
	"strings"
)

// AppID 是商店商品页的唯一主键（正整数）。
//
// 约束：同一 AppID 在 valid/trash 两个分区中至多存在一条记录。
type AppID int

// ParseAppID 校验并解析十进制 app_id。
// 只接受正整数；前后空白会被忽略。
func ParseAppID(s string) (AppID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return AppID(n), true
}

func (id AppID) String() string { return strconv.Itoa(int(id)) }

// StoreURL 返回 app_id 对应的商品页 URL（形如 https://store.steampowered.com/app/730/）。
func StoreURL(baseURL string, id AppID) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return baseURL + "/app/" + id.String() + "/"
}

// DefaultBaseURL 是商店站点的默认根地址。
const DefaultBaseURL = "https://store.steampowered.com"
