package file

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labgate/astm"
	"github.com/c360/labgate/message"
)

func newMsg(sender string) *message.Message {
	header := `H|\^&|||` + sender
	return message.New(&astm.Message{Records: [][]byte{
		[]byte(header),
		[]byte("R|1|^^^GLU|105|mg/dL"),
		[]byte("L|1|N"),
	}}, "test")
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg = Config{Directory: filepath.Join(t.TempDir(), "missing")}
	assert.Error(t, cfg.Validate())

	f, err := os.CreateTemp(t.TempDir(), "notadir")
	require.NoError(t, err)
	f.Close()
	cfg = Config{Directory: f.Name()}
	assert.Error(t, cfg.Validate())

	cfg = Config{Directory: t.TempDir()}
	assert.NoError(t, cfg.Validate())
}

func TestDeliverWritesOneFilePerMessage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(Config{Directory: dir}, nil)
	require.NoError(t, err)

	msg := newMsg("cobas")
	require.NoError(t, s.Deliver(context.Background(), msg))
	require.NoError(t, s.Deliver(context.Background(), newMsg("cobas")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	namePattern := regexp.MustCompile(`^cobas-\d+-\d+\.txt$`)
	for _, e := range entries {
		assert.True(t, namePattern.MatchString(e.Name()), e.Name())
		// No temp files may survive.
		assert.False(t, strings.HasPrefix(e.Name(), ".labgate"))
	}

	files, bytes, errCount := s.Stats()
	assert.Equal(t, int64(2), files)
	assert.Positive(t, bytes)
	assert.Zero(t, errCount)
}

func TestDeliverContent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(Config{Directory: dir}, nil)
	require.NoError(t, err)

	msg := newMsg("inst")
	require.NoError(t, s.Deliver(context.Background(), msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, msg.Text(), string(data))
	// Records are CR-joined, no framing bytes.
	assert.Equal(t, 2, strings.Count(string(data), "\r"))
	assert.NotContains(t, string(data), "\x02")
}

func TestDeliverWithoutSenderName(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(Config{Directory: dir}, nil)
	require.NoError(t, err)

	msg := message.New(&astm.Message{Records: [][]byte{
		[]byte(`H|\^&`),
		[]byte("L|1|N"),
	}}, "test")
	require.NoError(t, s.Deliver(context.Background(), msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^\d+-\d+\.txt$`, entries[0].Name())
}

func TestUniqueNamesUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(Config{Directory: dir}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				_ = s.Deliver(context.Background(), newMsg("x"))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 40)
}
