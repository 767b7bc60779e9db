package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"xoracle/internal/application/port"
)

// Sink 将状态行写到终端，每行带本地时间戳
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSink() *Sink { return NewSinkTo(os.Stdout) }

func NewSinkTo(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) WriteLine(ts time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s %s\n", ts.Format("2006-01-02 15:04:05"), line)
	return err
}

var _ port.Sink = (*Sink)(nil)
