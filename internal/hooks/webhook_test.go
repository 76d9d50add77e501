package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDashboardForwarderPostsEventAsJSON(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewDashboardForwarder(srv.URL)
	err := f.HandleEvent(context.Background(), StateChanged{TaskID: "t1", From: "PLANNING", To: "CURMUDGEONING"})
	require.NoError(t, err)

	select {
	case body := <-received:
		require.Equal(t, "state:changed", body["type"])
		data, ok := body["data"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "t1", data["TaskID"])
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never posted the event")
	}
}

func TestDashboardForwarderNeverReturnsErrorOnUnreachableEndpoint(t *testing.T) {
	f := NewDashboardForwarder("http://127.0.0.1:0/unreachable")
	err := f.HandleEvent(context.Background(), ActivityUpdated{TaskID: "t1", Activity: "thinking"})
	require.NoError(t, err)
}

func TestEventTypeNameCoversEveryEventVariant(t *testing.T) {
	cases := []struct {
		event Event
		want  string
	}{
		{StateChanged{}, "state:changed"},
		{PhaseChanged{}, "phase:changed"},
		{PlanReady{}, "plan:ready"},
		{RefinementReady{}, "refinement:ready"},
		{CurmudgeonFeedback{}, "curmudgeon:feedback"},
		{SuperReviewComplete{}, "superreview:complete"},
		{GardenerComplete{}, "gardener:complete"},
		{QuestionAsked{}, "question:asked"},
		{ToolStatus{}, "tool:status"},
		{ActivityUpdated{}, "activity:updated"},
		{PlanAwaitingApproval{}, "plan:awaiting_approval"},
		{RefinementAwaitingApproval{}, "refinement:awaiting_approval"},
		{SuperReviewAwaitingApproval{}, "superreview:awaiting_approval"},
		{InjectionPauseRequested{}, "injection:pause:requested"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, eventTypeName(c.event))
	}
}
