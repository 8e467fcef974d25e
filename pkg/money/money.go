// Package money 在网关金额（主币单位，如 "5000.50" 奈拉）和账本金额（最小单位 kobo）之间转换
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MinorUnits 每主币单位对应的最小单位数
const MinorUnits = 100

var (
	ErrInvalidAmount   = errors.New("金额格式错误")
	ErrFractionalMinor = errors.New("金额精度超过最小货币单位")
)

var hundred = decimal.NewFromInt(MinorUnits)

// ParseMajor 解析主币单位金额字符串，返回最小单位整数
func ParseMajor(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := d.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrFractionalMinor
	}
	if !minor.IsPositive() {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// FormatMajor 最小单位金额格式化为两位小数的主币字符串
func FormatMajor(minor int64) string {
	return decimal.NewFromInt(minor).Div(hundred).StringFixed(2)
}
