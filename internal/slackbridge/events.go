package slackbridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const maxEventBody = 1 << 20

// EventsHandler serves the Slack Events API endpoint. Requests are verified
// with the signing secret and answered only after the relay handled the
// event, so a failure yields a 5xx and Slack redelivers.
type EventsHandler struct {
	secret string
	intake *Intake
}

func NewEventsHandler(signingSecret string, intake *Intake) *EventsHandler {
	return &EventsHandler{secret: strings.TrimSpace(signingSecret), intake: intake}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if err := h.verify(r.Header, body); err != nil {
		slog.Warn("Slack event rejected", "error", err)
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		uv, ok := ev.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			http.Error(w, "invalid challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(uv.Challenge))
		return
	case slackevents.CallbackEvent:
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	var eventID string
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}
	me, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	msg, ok := normalizeMessageEvent(eventID, me)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	done := make(chan error, 1)
	if err := h.intake.Submit(r.Context(), msg, func(err error) { done <- err }); err != nil {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}
	select {
	case err := <-done:
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ErrInFlight):
			http.Error(w, "event in flight", http.StatusServiceUnavailable)
		default:
			http.Error(w, "event not processed", http.StatusInternalServerError)
		}
	case <-r.Context().Done():
	}
}

func (h *EventsHandler) verify(header http.Header, body []byte) error {
	if h.secret == "" {
		return errors.New("signing secret not configured")
	}
	sv, err := slack.NewSecretsVerifier(header, h.secret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}
