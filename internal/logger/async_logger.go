// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AsyncLogger buffers writes onto a channel and drains them from a
// single goroutine onto the underlying lumberjack.Logger, so a slow
// disk or rotation pause never blocks the kernel-request goroutines
// that end up calling Infof/Warnf/... under load.
type AsyncLogger struct {
	out     *lumberjack.Logger
	entries chan []byte
	done    chan struct{}
	closeOnce sync.Once
}

// NewAsyncLogger starts the drain goroutine and returns a ready-to-use
// AsyncLogger. bufferSize bounds how many pending writes may queue
// before new writes are dropped rather than blocking the caller.
func NewAsyncLogger(lj *lumberjack.Logger, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		out:     lj,
		entries: make(chan []byte, bufferSize),
		done:    make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *AsyncLogger) drain() {
	defer close(a.done)
	for b := range a.entries {
		if _, err := a.out.Write(b); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
}

// Write implements io.Writer. A full buffer drops the message rather
// than blocking the caller, reporting the drop to stderr so it's not
// silent.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)
	select {
	case a.entries <- b:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains remaining buffered entries and closes the underlying
// lumberjack.Logger.
func (a *AsyncLogger) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.entries)
		<-a.done
		err = a.out.Close()
	})
	return err
}
