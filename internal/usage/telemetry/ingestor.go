package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	usagedomain "github.com/smallbiznis/voicemeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ack statuses returned to the voice platform. Every payload is acknowledged
// so the platform never retries an unusable event.
const (
	AckRecorded      = "recorded"
	AckMalformed     = "malformed"
	AckNoAssistant   = "no_assistant"
	AckUnknownClient = "unknown_client"
	AckNoCall        = "no_call"
)

type Ack struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id,omitempty"`
	Outcome bool   `json:"successful_outcome,omitempty"`
}

// CallEvent is the normalized view of a call webhook.
type CallEvent struct {
	AssistantID string
	Request     usagedomain.RecordRequest
	DetectedBy  string
	HasCall     bool
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	UsageSvc   usagedomain.Service
	ClientRepo clientdomain.Repository
}

type Ingestor struct {
	db         *gorm.DB
	log        *zap.Logger
	usageSvc   usagedomain.Service
	clientRepo clientdomain.Repository
	extractors []OutcomeExtractor
}

func NewIngestor(p Params) *Ingestor {
	return &Ingestor{
		db:         p.DB,
		log:        p.Log.Named("usage.telemetry"),
		usageSvc:   p.UsageSvc,
		clientRepo: p.ClientRepo,
		extractors: DefaultExtractors(),
	}
}

var errMalformed = errors.New("malformed_payload")

// Parse normalizes a raw call webhook. ClientID is left empty.
func Parse(payload []byte, extractors []OutcomeExtractor) (CallEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return CallEvent{}, errMalformed
	}
	msg := env.Message
	if msg == nil {
		msg = &message{}
		if err := json.Unmarshal(payload, msg); err != nil {
			return CallEvent{}, errMalformed
		}
	}

	call := msg.Call
	if call == nil && msg.Artifact != nil {
		call = msg.Artifact.Call
	}

	event := CallEvent{}
	assistantID := ""
	if msg.Assistant != nil {
		assistantID = msg.Assistant.ID
	}
	if call != nil {
		assistantID = firstString(assistantID, call.AssistantID)
	}
	if msg.Artifact != nil && msg.Artifact.Call != nil {
		assistantID = firstString(assistantID, msg.Artifact.Call.AssistantID)
	}
	event.AssistantID = assistantID

	if call == nil {
		return event, nil
	}
	callID := firstString(call.ID, msg.CallID)
	if callID == "" {
		return event, nil
	}
	event.HasCall = true

	for _, extractor := range extractors {
		if extractor.Detect(msg) {
			event.DetectedBy = extractor.Name()
			break
		}
	}

	event.Request = usagedomain.RecordRequest{
		ExternalCallID:    callID,
		AssistantID:       assistantID,
		DurationSeconds:   int64(call.DurationSeconds),
		DurationMillis:    int64(call.DurationMs),
		StartTime:         firstTime(call.StartedAt, call.StartTime, call.CreatedAt, call.CreatedAtSnake),
		EndTime:           firstTime(call.EndedAt, call.EndTime, call.CompletedAt, call.CompletedAtSnake),
		SuccessfulOutcome: event.DetectedBy != "",
		Source:            usagedomain.SourceCalls,
	}
	return event, nil
}

// IngestCall maps a call webhook onto the usage ledger. Only storage
// failures are returned as errors.
func (i *Ingestor) IngestCall(ctx context.Context, payload []byte) (Ack, error) {
	event, err := Parse(payload, i.extractors)
	if err != nil {
		i.log.Warn("malformed call payload", zap.Int("bytes", len(payload)))
		return Ack{Status: AckMalformed}, nil
	}
	if strings.TrimSpace(event.AssistantID) == "" {
		return Ack{Status: AckNoAssistant}, nil
	}

	client, err := i.clientRepo.FindByVoiceAgentID(ctx, i.db, event.AssistantID)
	if err != nil {
		return Ack{}, err
	}
	if client == nil {
		i.log.Warn("call for unknown assistant", zap.String("assistant_id", event.AssistantID))
		return Ack{Status: AckUnknownClient}, nil
	}
	if !event.HasCall {
		return Ack{Status: AckNoCall}, nil
	}

	event.Request.ClientID = client.ID
	entry, err := i.usageSvc.RecordUsage(ctx, event.Request)
	if isValidationErr(err) {
		i.log.Warn("call rejected", zap.String("call_id", event.Request.ExternalCallID), zap.Error(err))
		return Ack{Status: AckMalformed, CallID: event.Request.ExternalCallID}, nil
	}
	if err != nil {
		return Ack{}, err
	}

	return Ack{
		Status:  AckRecorded,
		CallID:  entry.ExternalCallID,
		Outcome: entry.SuccessfulOutcome,
	}, nil
}

func isValidationErr(err error) bool {
	return errors.Is(err, usagedomain.ErrInvalidDuration) ||
		errors.Is(err, usagedomain.ErrInvalidCallID) ||
		errors.Is(err, usagedomain.ErrInvalidClient)
}
