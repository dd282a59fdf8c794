package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	var buf bytes.Buffer
	require.NoError(t, Setup("warn", "json", &buf))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	logrus.Info("表示されない")
	logrus.WithField("seq", 7).Warn("表示される")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "表示される", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, float64(7), entry["seq"])
}

func TestSetup_Errors(t *testing.T) {
	assert.Error(t, Setup("loud", "text", nil))
	assert.Error(t, Setup("info", "xml", nil))
}
