package scgid

// Provides a pool of allocated but unused byte buffers for frame
// encoding and response spooling.
var bufPool chan []byte

func init() {
	bufPool = make(chan []byte, 0x100)
}

// bufAlloc returns an empty buffer with some capacity pre-allocated.
func bufAlloc() []byte {
	select {
	case b := <-bufPool:
		return b[:0]
	default:
		return make([]byte, 0, 4096)
	}
}

// bufFree releases a buffer back to the pool.
func bufFree(b []byte) {
	if b != nil {
		select {
		case bufPool <- b:
		default:
		}
	}
}
