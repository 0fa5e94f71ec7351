package tasks

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestEnrichPayload(t *testing.T) {
	stored := `{"ruleId":"mrule_1","messageUid":7}`

	merged := enrichPayload(getLogger(), stored, map[string]interface{}{
		"failedMembers": 2,
		"memberError":   "parse failed",
	})

	var got map[string]interface{}
	assert.NoError(t, json.Unmarshal(merged, &got))
	assert.Equal(t, "mrule_1", got["ruleId"])
	assert.Equal(t, float64(7), got["messageUid"])
	assert.Equal(t, float64(2), got["failedMembers"])
	assert.Equal(t, "parse failed", got["memberError"])
}

func TestEnrichPayload_EmptyStored(t *testing.T) {
	merged := enrichPayload(getLogger(), "", map[string]interface{}{
		"error": "boom",
	})

	var got map[string]interface{}
	assert.NoError(t, json.Unmarshal(merged, &got))
	assert.Equal(t, "boom", got["error"])
}

func TestEnrichPayload_NonObjectStored(t *testing.T) {
	// A payload that is not a JSON object is passed through untouched rather
	// than destroyed.
	merged := enrichPayload(getLogger(), `[1,2,3]`, map[string]interface{}{
		"error": "boom",
	})

	assert.Equal(t, json.RawMessage(`[1,2,3]`), merged)
}

func TestEnrichPayload_ExtraOverridesStored(t *testing.T) {
	stored := `{"failedMembers":0}`

	merged := enrichPayload(getLogger(), stored, map[string]interface{}{
		"failedMembers": 3,
	})

	var got map[string]interface{}
	assert.NoError(t, json.Unmarshal(merged, &got))
	assert.Equal(t, float64(3), got["failedMembers"])
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "", errorText(nil))
	assert.Equal(t, "boom", errorText(errors.New("boom")))
}

func TestShouldRequeue(t *testing.T) {
	transient := errors.New("connection refused")
	content := errors.Wrapf(docerrors.ErrDuplicateDocument, "matches %q", "older scan")

	// One retry for transient trouble, none once redelivered.
	assert.True(t, shouldRequeue(transient, false))
	assert.False(t, shouldRequeue(transient, true))

	// Content errors are terminal on the first attempt.
	assert.False(t, shouldRequeue(content, false))
	assert.False(t, shouldRequeue(errors.Wrapf(docerrors.ErrUnsupportedType, "image/bmp"), false))
	assert.False(t, shouldRequeue(docerrors.ErrNotFound, false))
}
