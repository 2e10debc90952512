package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-labs/spifmark/pkg/audit"
	"github.com/arclight-labs/spifmark/pkg/identity"
	"github.com/arclight-labs/spifmark/pkg/label"
)

func TestLogger_Record_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventDecision, "evaluate", "document:42", nil)
	require.NoError(t, err)

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	// Parse the JSON part
	jsonPart := strings.TrimPrefix(output, "AUDIT: ")
	jsonPart = strings.TrimSpace(jsonPart)

	var event audit.Event
	err = json.Unmarshal([]byte(jsonPart), &event)
	require.NoError(t, err)

	assert.Equal(t, audit.EventDecision, event.Type)
	assert.Equal(t, "evaluate", event.Action)
	assert.Equal(t, "document:42", event.Resource)
	assert.Equal(t, "system", event.ActorID)
	assert.NotEmpty(t, event.ID)
	// UUID format: 8-4-4-4-12
	assert.Len(t, event.ID, 36)
}

func TestLogger_Record_ActorFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	ctx := identity.WithSubject(context.Background(), &identity.Subject{
		ID:        "analyst-17",
		Country:   label.CountryCode("DEU"),
		Clearance: "GEHEIM",
	})
	require.NoError(t, logger.Record(ctx, audit.EventDecision, "evaluate", "document:42", nil))

	jsonPart := strings.TrimPrefix(buf.String(), "AUDIT: ")
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(jsonPart)), &event))

	assert.Equal(t, "analyst-17", event.ActorID)
	assert.Equal(t, "DEU", event.Country)
}

func TestLogger_Record_WithMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	meta := map[string]interface{}{"reason_code": "REASON_NOT_RELEASABLE", "classification": "NS"}
	err := logger.Record(context.Background(), audit.EventDecision, "deny", "document:42", meta)
	require.NoError(t, err)

	jsonPart := strings.TrimPrefix(buf.String(), "AUDIT: ")
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(jsonPart)), &event))

	assert.Equal(t, "REASON_NOT_RELEASABLE", event.Metadata["reason_code"])
}

func TestLogger_Record_OneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	require.NoError(t, logger.Record(context.Background(), audit.EventPolicy, "swap", "policy", nil))
	require.NoError(t, logger.Record(context.Background(), audit.EventSweep, "run", "store", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "AUDIT: "), "line: %s", line)
	}
}

func TestDiscard(t *testing.T) {
	require.NoError(t, audit.Discard.Record(context.Background(), audit.EventSystem, "noop", "", nil))
}
