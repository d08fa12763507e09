package utils

import (
	"fmt"
	"math/rand"
	"time"

	"coda/data"
)

var (
	randStr = rand.New(rand.NewSource(time.Now().Unix()))
	letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
)

// GetTestKey 获取测试使用的 key
func GetTestKey(i int) []byte {
	return []byte(fmt.Sprintf("coda-key-%09d", i))
}

// RandomValue 生成随机 value, 用于测试
func RandomValue(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[randStr.Intn(len(letters))]
	}
	return []byte("coda-value-" + string(b))
}

// TestRecords 生成 n 条测试记录, key 为 <prefix>-key-<i>
func TestRecords(prefix string, n int) []data.Record {
	records := make([]data.Record, n)
	for i := range records {
		records[i] = data.Record{
			Key:       []byte(fmt.Sprintf("%s-key-%d", prefix, i)),
			Value:     []byte(fmt.Sprintf("%s-value-%d", prefix, i)),
			Timestamp: time.Now().UnixMilli(),
		}
	}
	return records
}
