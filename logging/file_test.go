package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileLogger(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("creates new file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test1.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("log file was not created")
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test2.log")
		if err := os.WriteFile(path, []byte("existing content\n"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log("new entry")
		logger.Close()

		content := readLog(t, path)
		if !strings.Contains(content, "existing content") {
			t.Error("existing content lost")
		}
		if !strings.Contains(content, "new entry") {
			t.Error("new entry missing")
		}
	})

	t.Run("formats messages with timestamp", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test3.log")
		logger, _ := NewFileLogger(path)
		logger.Log("value of %s is %d", "setpoint", 42)
		logger.Close()

		content := readLog(t, path)
		if !strings.Contains(content, "value of setpoint is 42") {
			t.Errorf("content = %q", content)
		}
		// Lines start with a timestamp, not the message.
		if strings.HasPrefix(content, "value of") {
			t.Error("missing timestamp prefix")
		}
	})

	t.Run("writes after close are dropped", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test4.log")
		logger, _ := NewFileLogger(path)
		logger.Log("before close")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		logger.Log("after close")
		if err := logger.Close(); err != nil {
			t.Errorf("second Close = %v, want nil", err)
		}

		content := readLog(t, path)
		if strings.Contains(content, "after close") {
			t.Error("write after close reached the file")
		}
	})

	t.Run("concurrent writes are safe", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test5.log")
		logger, _ := NewFileLogger(path)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					logger.Log("goroutine %d line %d", n, j)
				}
			}(i)
		}
		wg.Wait()
		logger.Close()

		lines := strings.Count(readLog(t, path), "\n")
		if lines != 200 {
			t.Errorf("lines = %d, want 200", lines)
		}
	})
}
