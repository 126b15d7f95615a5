package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestExtractFeatures(t *testing.T) {
	events := []Event{
		{User: "alice", EventTime: mustTime(t, "2026-08-24T10:00:00Z"), EventSource: "iam"},
		{User: "alice", EventTime: mustTime(t, "2026-08-24T14:00:00Z"), EventSource: "storage"},
		{User: "bob", EventTime: mustTime(t, "2026-08-24T03:00:00Z"), EventSource: "iam"},
		{User: "", EventTime: mustTime(t, "2026-08-24T03:00:00Z"), EventSource: "iam"},
	}

	features := ExtractFeatures(events)
	require.Len(t, features, 2)

	// Sorted by user.
	assert.Equal(t, "alice", features[0].User)
	assert.Equal(t, "bob", features[1].User)

	alice := features[0].Vector
	assert.InDelta(t, 12.0, alice.Hour, 1e-9) // mean of 10 and 14
	assert.InDelta(t, 2.0, alice.ActivityVolume, 1e-9)
	assert.InDelta(t, 2.0, alice.ServiceDiversity, 1e-9)
	assert.InDelta(t, float64(time.Monday), alice.DayOfWeek, 1e-9)

	bob := features[1].Vector
	assert.InDelta(t, 3.0, bob.Hour, 1e-9)
	assert.InDelta(t, 1.0, bob.ActivityVolume, 1e-9)
	assert.InDelta(t, 1.0, bob.ServiceDiversity, 1e-9)
}

type fixedScorer struct {
	scores []float64
}

func (s fixedScorer) Name() string { return "fixed" }
func (s fixedScorer) Score(vectors []FeatureVector) ([]float64, error) {
	return s.scores[:len(vectors)], nil
}

func TestComputeRisks_Normalization(t *testing.T) {
	events := []Event{
		{User: "alice", EventTime: mustTime(t, "2026-08-24T10:00:00Z"), EventSource: "iam"},
		{User: "bob", EventTime: mustTime(t, "2026-08-24T11:00:00Z"), EventSource: "iam"},
		{User: "carol", EventTime: mustTime(t, "2026-08-24T12:00:00Z"), EventSource: "iam"},
	}

	risks, err := ComputeRisks(events, fixedScorer{scores: []float64{2.0, 6.0, 4.0}})
	require.NoError(t, err)
	require.Len(t, risks, 3)
	assert.InDelta(t, 0.0, risks["alice"], 1e-9)
	assert.InDelta(t, 1.0, risks["bob"], 1e-9)
	assert.InDelta(t, 0.5, risks["carol"], 1e-9)
}

func TestComputeRisks_DegenerateBatch(t *testing.T) {
	events := []Event{
		{User: "alice", EventTime: mustTime(t, "2026-08-24T10:00:00Z")},
		{User: "bob", EventTime: mustTime(t, "2026-08-24T10:00:00Z")},
	}

	risks, err := ComputeRisks(events, fixedScorer{scores: []float64{3.3, 3.3}})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, risks["alice"], 1e-9)
	assert.InDelta(t, 0.1, risks["bob"], 1e-9)
}

func TestComputeRisks_NoEvents(t *testing.T) {
	risks, err := ComputeRisks(nil, BaselineScorer{})
	require.NoError(t, err)
	assert.Empty(t, risks)
}

func TestBaselineScorer_OutlierScoresHighest(t *testing.T) {
	vectors := []FeatureVector{
		{Hour: 10, DayOfWeek: 1, ActivityVolume: 20, ServiceDiversity: 3},
		{Hour: 11, DayOfWeek: 1, ActivityVolume: 22, ServiceDiversity: 3},
		{Hour: 3, DayOfWeek: 6, ActivityVolume: 500, ServiceDiversity: 12},
	}

	scores, err := BaselineScorer{}.Score(vectors)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[2], scores[0])
	assert.Greater(t, scores[2], scores[1])
}

func TestParseRecords(t *testing.T) {
	data := []byte(`{
		"Records": [
			{
				"userIdentity": {"type": "IAMUser", "userName": "alice"},
				"sourceIPAddress": "203.0.113.9",
				"eventTime": "2026-08-24T10:15:00Z",
				"eventSource": "iam",
				"eventName": "CreateAccessKey"
			},
			{
				"userIdentity": {"type": "AssumedRole", "arn": "arn:role/deploy"},
				"sourceIPAddress": "203.0.113.10",
				"eventTime": "2026-08-24T10:16:00Z",
				"eventSource": "storage",
				"eventName": "GetObject"
			},
			{
				"userIdentity": {"type": "Service"},
				"eventTime": "2026-08-24T10:17:00Z",
				"eventSource": "storage",
				"eventName": "PutObject"
			},
			{
				"userIdentity": {"type": "IAMUser", "userName": "mallory"},
				"eventTime": "not-a-timestamp",
				"eventSource": "iam",
				"eventName": "DeleteUser"
			}
		]
	}`)

	events, err := ParseRecords(data)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "alice", events[0].User)
	assert.Equal(t, "IAMUser", events[0].UserType)
	assert.Equal(t, "203.0.113.9", events[0].SourceIP)
	assert.Equal(t, "CreateAccessKey", events[0].EventName)

	// ARN fallback when userName is absent.
	assert.Equal(t, "arn:role/deploy", events[1].User)
}

func TestParseRecords_BadDocument(t *testing.T) {
	_, err := ParseRecords([]byte(`not json`))
	assert.Error(t, err)
}
