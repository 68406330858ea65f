package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/ytmediabot/internal/flow"
	"github.com/you/ytmediabot/internal/media"
)

func TestParseCallback(t *testing.T) {
	cases := []struct {
		data string
		want flow.Callback
	}{
		{"act:video", flow.Callback{Action: flow.Action{Kind: flow.ActionVideo}}},
		{"act:audio", flow.Callback{Action: flow.Action{Kind: flow.ActionAudio}}},
		{"act:transcript", flow.Callback{Action: flow.Action{Kind: flow.ActionTranscript}}},
		{"act:summary", flow.Callback{Action: flow.Action{Kind: flow.ActionSummary}}},
		{"scope:full", flow.Callback{Scope: flow.ScopeFull}},
		{"scope:partial", flow.Callback{Scope: flow.ScopePartial}},
		{"split", flow.Callback{Action: flow.Action{Kind: flow.ActionSplit}}},
		{"tier:low", flow.Callback{Action: flow.Action{Kind: flow.ActionConvertVideo, Tier: media.TierLow}}},
		{"tier:high", flow.Callback{Action: flow.Action{Kind: flow.ActionConvertVideo, Tier: media.TierHigh}}},
		{" act:video ", flow.Callback{Action: flow.Action{Kind: flow.ActionVideo}}},
	}
	for _, tc := range cases {
		got, err := flow.ParseCallback(tc.data)
		require.NoError(t, err, tc.data)
		assert.Equal(t, tc.want, got, tc.data)
	}
}

func TestParseCallbackRejectsUnknownTokens(t *testing.T) {
	for _, data := range []string{"", "act:gif", "tier:ultra", "scope:", "video"} {
		_, err := flow.ParseCallback(data)
		assert.Error(t, err, "token %q must be rejected", data)
	}
}
