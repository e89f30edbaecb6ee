package handler

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-worker/dto"
	"recording-worker/pkg/apperror"
	"recording-worker/service"
)

type ServiceDependencies struct {
	Orchestrator *service.Orchestrator
}

// ControlHandler applies a broker-delivered start/stop command to the
// orchestrator. Validation, not-found and concurrency rejections are
// terminal for the message (no point retrying them); everything else is
// returned so the consumer's retry/DLQ policy applies.
func ControlHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var control dto.ControlMessage
	if err := json.Unmarshal(msg.Body, &control); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal control message")
		return nil
	}

	zerolog.Ctx(ctx).Info().
		Str("action", control.Action).
		Str("call_id", control.CallID).
		Msg("received recording control message")

	var result dto.OperationResult
	switch control.Action {
	case "start":
		result = deps.Orchestrator.StartRecording(ctx, dto.StartRecordingRequest{
			CallID:       control.CallID,
			Participants: control.Participants,
			CulturalTag:  control.CulturalTag,
			Priority:     control.Priority,
		})
	case "stop":
		result = deps.Orchestrator.StopRecordingWithPriority(ctx, control.SessionID, control.Priority)
	default:
		zerolog.Ctx(ctx).Error().Str("action", control.Action).Msg("unknown control action")
		return nil
	}

	if result.Success {
		return nil
	}

	switch apperror.Code(result.ErrorCode) {
	case apperror.CodeValidation, apperror.CodeNotFound, apperror.CodeConcurrency:
		zerolog.Ctx(ctx).Warn().
			Str("action", control.Action).
			Str("error_code", result.ErrorCode).
			Str("error", result.Error).
			Msg("control message rejected")
		return nil
	default:
		return fmt.Errorf("%s control failed: %s", control.Action, result.Error)
	}
}
