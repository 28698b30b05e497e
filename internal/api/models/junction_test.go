package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/api/models"
)

func TestOverrideRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		lane    string
		wantErr bool
	}{
		{"lane given", "North", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := models.OverrideRequest{Lane: tt.lane}
			errs := req.Validate()
			if tt.wantErr {
				require.Len(t, errs, 1)
				assert.Equal(t, "lane", errs[0].Field)
				return
			}
			assert.Empty(t, errs)
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	data, err := json.Marshal(models.Timestamp(at))
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-10-19T08:00:00Z"`, string(data))

	var parsed models.Timestamp
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.True(t, at.Equal(parsed.Time()))
}

func TestTimestampPtr(t *testing.T) {
	assert.Nil(t, models.TimestampPtr(time.Time{}))

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	ts := models.TimestampPtr(at)
	require.NotNil(t, ts)
	assert.True(t, at.Equal(ts.Time()))
}
