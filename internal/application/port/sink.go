package port

import "time"

// Sink 人类可读的状态输出（例如终端）
type Sink interface {
	WriteLine(ts time.Time, line string) error
}
