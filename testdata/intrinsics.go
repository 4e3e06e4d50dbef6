package main

import (
	"math"
	"math/bits"
	"sync/atomic"
)

var hits int64

func main() {
	println(math.Sqrt(2), math.Floor(-1.5), math.Float64bits(1.0))
	println(bits.OnesCount32(0xf0f0), bits.LeadingZeros64(1), bits.Len(255))
	println(bits.RotateLeft32(1, -1), bits.ReverseBytes16(0x1234))

	atomic.AddInt64(&hits, 5)
	swapped := atomic.CompareAndSwapInt64(&hits, 5, 7)
	println(atomic.LoadInt64(&hits), swapped)
}
