package scheduler

import (
	"io"
	"log"
	"os"
)

func writeFileForTest(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
