// Package dateutil 处理业务日期（YYYY-MM-DD 字符串，按业务时区切日）
package dateutil

import (
	"errors"
	"time"
)

const Layout = "2006-01-02"

var ErrInvalidDate = errors.New("日期格式错误，应为 YYYY-MM-DD")

// Parse 解析业务日期
func Parse(date string) (time.Time, error) {
	t, err := time.Parse(Layout, date)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// Validate 校验日期格式，并要求是规范写法（2024-1-2 这类写法无法按字符串比较）
func Validate(date string) error {
	t, err := Parse(date)
	if err != nil {
		return err
	}
	if t.Format(Layout) != date {
		return ErrInvalidDate
	}
	return nil
}

// AddDays 日期加减天数
func AddDays(date string, days int) (string, error) {
	t, err := Parse(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, days).Format(Layout), nil
}

// EndOf 返回 date 在 loc 时区的次日零点
func EndOf(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if err := Validate(date); err != nil {
		return time.Time{}, err
	}
	t, _ := time.ParseInLocation(Layout, date, loc)
	return t.AddDate(0, 0, 1), nil
}

// Today 返回指定时区下的当天日期
func Today(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format(Layout)
}
