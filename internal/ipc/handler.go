package ipc

import (
	"context"
	"fmt"
	"strings"

	"openqr/internal/service"
)

// ServiceHandler answers requests by calling into a service.Service.
type ServiceHandler struct {
	svc *service.Service
}

// NewServiceHandler creates a handler bound to svc.
func NewServiceHandler(svc *service.Service) *ServiceHandler {
	return &ServiceHandler{svc: svc}
}

// HandleMessage dispatches msg by type. Operation failures become MsgError
// frames; only encoding failures are returned as errors.
func (h *ServiceHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgStatus:
		return NewResponse(MsgStatusResp, id, h.svc.Status())

	case MsgMetrics:
		reg := h.svc.Metrics().Registry
		var b strings.Builder
		if err := reg.WritePrometheus(&b); err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgMetricsResp, id, &MetricsResponse{Text: b.String(), Values: reg.Snapshot()})

	case MsgStartListener:
		if err := h.svc.StartListener(); err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgListenerResp, id, &ListenerResponse{Active: h.svc.ListenerActive()})

	case MsgStopListener:
		h.svc.StopListener()
		return NewResponse(MsgListenerResp, id, &ListenerResponse{Active: h.svc.ListenerActive()})

	case MsgProcessScan:
		var req ProcessScanRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return invalidRequest(id, err), nil
		}
		res, err := h.svc.ProcessScan(ctx, req.Raw)
		if err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgProcessScanResp, id, res)

	case MsgCheckURL:
		var req CheckURLRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return invalidRequest(id, err), nil
		}
		host, err := h.svc.CheckURL(req.URL)
		if err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgCheckURLResp, id, &CheckURLResponse{Host: host})

	case MsgGetHistory:
		records, err := h.svc.History(ctx)
		if err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgGetHistoryResp, id, &GetHistoryResponse{Records: records})

	case MsgAddScan:
		var req AddScanRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return invalidRequest(id, err), nil
		}
		if err := h.svc.AddScan(ctx, req.Record); err != nil {
			return errorMessage(id, err), nil
		}
		return NewMessage(MsgHistoryAck, id, nil), nil

	case MsgClearHistory:
		if err := h.svc.ClearHistory(ctx); err != nil {
			return errorMessage(id, err), nil
		}
		return NewMessage(MsgHistoryAck, id, nil), nil

	case MsgMigrateHistory:
		var req MigrateHistoryRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return invalidRequest(id, err), nil
		}
		n, err := h.svc.MigrateHistory(ctx, req.From, req.To)
		if err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgMigrateResp, id, &MigrateHistoryResponse{Migrated: n})

	case MsgGetConfig:
		return NewResponse(MsgGetConfigResp, id, &ConfigPayload{Config: h.svc.Config()})

	case MsgSetConfig:
		var req ConfigPayload
		if err := Decode(msg.Payload, &req); err != nil {
			return invalidRequest(id, err), nil
		}
		if req.Config == nil {
			return NewErrorMessage(id, CodeInvalidRequest, "missing config"), nil
		}
		if err := h.svc.SaveConfig(ctx, req.Config); err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgSetConfigResp, id, &ConfigPayload{Config: h.svc.Config()})
	}

	return NewErrorMessage(id, CodeInvalidRequest, fmt.Sprintf("unknown message type: 0x%04x", uint16(msg.Header.Type))), nil
}

func errorMessage(id uint32, err error) *Message {
	return NewErrorMessage(id, errorCode(err), err.Error())
}

func invalidRequest(id uint32, err error) *Message {
	return NewErrorMessage(id, CodeInvalidRequest, "decode request: "+err.Error())
}

var _ Handler = (*ServiceHandler)(nil)
