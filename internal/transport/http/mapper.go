package http

import (
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/proto"
	"github.com/tg11/boundless/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Action {
	case "", proto.ActionSend:
		return &core.Command{Kind: core.CommandSendMessage, Text: inbound.Message}, nil
	case proto.ActionEdit:
		if inbound.ID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "id is required"}
		}
		return &core.Command{Kind: core.CommandEditMessage, MessageID: inbound.ID, Text: inbound.Message}, nil
	case proto.ActionDelete:
		if inbound.ID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "id is required"}
		}
		return &core.Command{Kind: core.CommandDeleteMessage, MessageID: inbound.ID}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown action"}
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessage:
		return messageOutbound(proto.EventMessage, event.Message)
	case core.EventMessageEdited:
		return messageOutbound(proto.EventEdited, event.Message)
	case core.EventMessageDeleted:
		return messageOutbound(proto.EventDeleted, event.Message)
	case core.EventHistory:
		return historyOutbound(event.Channel, event.Messages)
	case core.EventError:
		out := proto.Outbound{Event: proto.EventError, Channel: event.Channel}
		if event.Error != nil {
			out.Error = &proto.Error{Code: event.Error.Code, Msg: event.Error.Message}
		}
		return out
	default:
		return proto.Outbound{Event: proto.EventError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown event"}}
	}
}

func messageOutbound(kind string, m core.Message) proto.Outbound {
	return proto.Outbound{
		Event:    kind,
		Message:  m.Text,
		User:     m.From,
		ID:       m.ID,
		Channel:  m.Channel,
		TS:       m.CreatedAt.UnixMilli(),
		EditedTS: unixMilli(m.EditedAt),
		Deleted:  m.Deleted,
	}
}

func historyOutbound(channelID string, messages []core.Message) proto.Outbound {
	out := proto.Outbound{Event: proto.EventHistory, Channel: channelID, Messages: make([]proto.Message, 0, len(messages))}
	for _, m := range messages {
		out.Messages = append(out.Messages, protoMessage(m))
	}
	return out
}

func protoMessage(m core.Message) proto.Message {
	return proto.Message{
		ID:       m.ID,
		Channel:  m.Channel,
		Message:  m.Text,
		User:     m.From,
		TS:       m.CreatedAt.UnixMilli(),
		EditedTS: unixMilli(m.EditedAt),
		Deleted:  m.Deleted,
	}
}

func unixMilli(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

// statusFor maps a hub error to an HTTP status.
func statusFor(err error) int {
	var denied *core.DeniedError
	switch {
	case errors.As(err, &denied):
		return stdhttp.StatusForbidden
	case errors.Is(err, store.ErrChannelNotFound), errors.Is(err, store.ErrMessageNotFound):
		return stdhttp.StatusNotFound
	case errors.Is(err, store.ErrNotOwner):
		return stdhttp.StatusForbidden
	case errors.Is(err, store.ErrAlreadyDeleted):
		return stdhttp.StatusConflict
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrMessageTooLong):
		return stdhttp.StatusBadRequest
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, core.ErrShuttingDown):
		return stdhttp.StatusServiceUnavailable
	default:
		return stdhttp.StatusInternalServerError
	}
}
