package log

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncFileWriterHourly(t *testing.T) {
	w := NewAsyncFileWriter("./hello.log", 100, 1, 1)
	require := assert.New(t)
	require.NoError(w.Start())
	w.Write([]byte("hello\n"))
	w.Write([]byte("world\n"))
	w.Stop()
	files, _ := os.ReadDir(".")
	for _, f := range files {
		fn := f.Name()
		if strings.HasPrefix(fn, "hello") {
			os.Remove(fn)
		}
	}
}

func TestGetNextRotationHour(t *testing.T) {
	tcs := []struct {
		now          time.Time
		delta        uint
		expectedHour int
	}{
		{time.Date(1980, 1, 6, 15, 34, 0, 0, time.UTC), 3, 18},
		{time.Date(1980, 1, 6, 23, 59, 0, 0, time.UTC), 1, 0},
		{time.Date(1980, 1, 6, 22, 15, 0, 0, time.UTC), 2, 0},
		{time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC), 1, 1},
	}

	for i, tc := range tcs {
		tc := tc
		t.Run("case_"+strconv.Itoa(i), func(t *testing.T) {
			got := getNextRotationHour(tc.now, tc.delta)
			assert.Equal(t, tc.expectedHour, got)
		})
	}
}

func TestAsyncFileWriterClearBackups(t *testing.T) {
	dir := "./test"
	os.Mkdir(dir, 0o700)
	defer os.RemoveAll(dir)

	w := NewAsyncFileWriter(dir+"/core.log", 100, 1, 1)
	fakeCurrentTime := time.Now()
	data := []byte("data")
	var oldest string
	for i := 0; i < 5; i++ {
		name := w.filePath + "." + fakeCurrentTime.Format(backupTimeFormat)
		if i == 4 {
			oldest = name
		}
		_ = os.WriteFile(name, data, 0o700)
		fakeCurrentTime = fakeCurrentTime.Add(-time.Hour)
	}

	w.removeExpiredFile()
	_, err := os.Stat(oldest)
	assert.True(t, os.IsNotExist(err))
}
