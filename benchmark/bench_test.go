package benchmark

import (
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"coda"
	"coda/utils"

	"github.com/stretchr/testify/assert"
)

var broker *coda.Broker

func init() {
	// 初始化用于基准测试的 broker
	var err error
	options := coda.DefaultOptions
	dir, _ := os.MkdirTemp("", "coda-benchmark")
	options.DirPath = dir
	broker, err = coda.Open(options)
	if err != nil {
		panic(fmt.Sprintf("failed to open broker: %v", err))
	}
}

func Benchmark_Append(b *testing.B) {
	records := utils.TestRecords("bench", 10)
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := broker.Append("bench-append", 0, records...)
		assert.Nil(b, err)
	}
}

func Benchmark_AppendParallel(b *testing.B) {
	records := utils.TestRecords("bench", 10)
	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, err := broker.Append("bench-parallel", 0, records...)
			assert.Nil(b, err)
		}
	})
}

func Benchmark_Fetch(b *testing.B) {
	for i := 0; i < 10000; i++ {
		_, err := broker.Append("bench-fetch", 0, utils.TestRecords("bench", 10)...)
		assert.Nil(b, err)
	}

	rand.Seed(time.Now().Unix())
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := broker.Fetch("bench-fetch", 0, int64(rand.Intn(100000)), 64*1024)
		assert.Nil(b, err)
	}
}
