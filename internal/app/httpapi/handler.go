package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	app "github.com/R3E-Network/service_layer/internal/app"
	"github.com/R3E-Network/service_layer/internal/app/collaborators"
	core "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/metrics"
	"github.com/R3E-Network/service_layer/internal/app/services/negotiation"
	"github.com/R3E-Network/service_layer/internal/app/services/transfer"
)

// handler serves the DSP surface (§6): Contract Negotiation, Transfer
// Process, the data plane proxy, health, and the local RPC mirror used to
// originate protocol exchanges from this connector's own operator.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler builds the full DSP HTTP surface over application.
func NewHandler(application *app.Application, audit *auditLog) http.Handler {
	h := &handler{app: application, audit: audit}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /negotiations/request", h.negotiationRequest)
	mux.HandleFunc("POST /negotiations/{pid}/offer", h.negotiationOffer)
	mux.HandleFunc("POST /negotiations/{pid}/events", h.negotiationEvents)
	mux.HandleFunc("POST /negotiations/{pid}/agreement", h.negotiationAgreement)
	mux.HandleFunc("POST /negotiations/{pid}/agreement/verification", h.negotiationVerification)
	mux.HandleFunc("POST /negotiations/{pid}/termination", h.negotiationTermination)

	mux.HandleFunc("POST /transfers/request", h.transferRequest)
	mux.HandleFunc("POST /transfers/{pid}/start", h.transferStart)
	mux.HandleFunc("POST /transfers/{pid}/suspension", h.transferSuspension)
	mux.HandleFunc("POST /transfers/{pid}/completion", h.transferCompletion)
	mux.HandleFunc("POST /transfers/{pid}/termination", h.transferTermination)

	mux.HandleFunc("POST /rpc/negotiations/request", h.rpcNegotiationRequest)
	mux.HandleFunc("POST /rpc/negotiations/{pid}/offer", h.rpcNegotiationOffer)
	mux.HandleFunc("POST /rpc/negotiations/{pid}/events", h.rpcNegotiationEvents)
	mux.HandleFunc("POST /rpc/negotiations/{pid}/agreement", h.rpcNegotiationAgreement)
	mux.HandleFunc("POST /rpc/negotiations/{pid}/agreement/verification", h.rpcNegotiationVerification)
	mux.HandleFunc("POST /rpc/negotiations/{pid}/termination", h.rpcNegotiationTermination)
	mux.HandleFunc("POST /rpc/transfers/request", h.rpcTransferRequest)
	mux.HandleFunc("POST /rpc/transfers/{pid}/start", h.rpcTransferStart)
	mux.HandleFunc("POST /rpc/transfers/{pid}/suspension", h.rpcTransferSuspension)
	mux.HandleFunc("POST /rpc/transfers/{pid}/completion", h.rpcTransferCompletion)
	mux.HandleFunc("POST /rpc/transfers/{pid}/termination", h.rpcTransferTermination)

	mux.Handle("/data/pull/", application.Proxy)
	mux.Handle("/data/push/", application.Proxy)

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /admin/audit", h.adminAudit)

	return mux
}

// negotiationBody covers every CN message shape; fields unused by a given
// message type are simply left zero.
type negotiationBody struct {
	ProviderAddress       string         `json:"providerAddress,omitempty"`
	ProviderPid           string         `json:"providerPid,omitempty"`
	ConsumerPid           string         `json:"consumerPid,omitempty"`
	ReceiverRole          string         `json:"receiverRole,omitempty"`
	Protocol              string         `json:"protocol,omitempty"`
	AssociatedPeer        string         `json:"associatedPeer,omitempty"`
	CallbackAddress       string         `json:"callbackAddress,omitempty"`
	Offer                 map[string]any `json:"offer,omitempty"`
	OfferID               string         `json:"offerId,omitempty"`
	Agreement             map[string]any `json:"agreement,omitempty"`
	ConsumerParticipantID string         `json:"consumerParticipantId,omitempty"`
	ProviderParticipantID string         `json:"providerParticipantId,omitempty"`
	Target                string         `json:"target,omitempty"`
	Code                  string         `json:"code,omitempty"`
	Reason                string         `json:"reason,omitempty"`
}

func (b negotiationBody) toMessage(msgType dsp.NegotiationMessageType, pid string) negotiation.Message {
	providerPid, consumerPid := b.ProviderPid, b.ConsumerPid
	if pid != "" {
		if providerPid == "" {
			providerPid = pid
		}
		if consumerPid == "" {
			consumerPid = pid
		}
	}
	return negotiation.Message{
		Type:                  msgType,
		ProviderPid:           providerPid,
		ConsumerPid:           consumerPid,
		ReceiverRole:          dsp.Role(b.ReceiverRole),
		OfferContent:          b.Offer,
		OfferID:               b.OfferID,
		AgreementContent:      b.Agreement,
		ConsumerParticipantID: b.ConsumerParticipantID,
		ProviderParticipantID: b.ProviderParticipantID,
		Target:                b.Target,
		TerminationCode:       b.Code,
		TerminationReason:     b.Reason,
		AssociatedPeer:        b.AssociatedPeer,
		CallbackAddress:       b.CallbackAddress,
		Protocol:              b.Protocol,
	}
}

func (h *handler) negotiationRequest(w http.ResponseWriter, r *http.Request) {
	var body negotiationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	body.ReceiverRole = string(dsp.RoleProvider)
	h.handleNegotiation(w, r, body.toMessage(dsp.MsgContractRequest, ""))
}

func (h *handler) negotiationOffer(w http.ResponseWriter, r *http.Request) {
	h.negotiationEvent(w, r, dsp.MsgContractOffer, dsp.RoleConsumer)
}

func (h *handler) negotiationEvents(w http.ResponseWriter, r *http.Request) {
	var body negotiationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	pid := r.PathValue("pid")
	msgType := dsp.NegotiationMessageType(r.URL.Query().Get("eventType"))
	if msgType == "" {
		msgType = dsp.MsgContractEventAccepted
	}
	if body.ReceiverRole == "" {
		body.ReceiverRole = string(dsp.RoleProvider)
	}
	h.handleNegotiation(w, r, body.toMessage(msgType, pid))
}

func (h *handler) negotiationAgreement(w http.ResponseWriter, r *http.Request) {
	h.negotiationEvent(w, r, dsp.MsgContractAgreement, dsp.RoleConsumer)
}

func (h *handler) negotiationVerification(w http.ResponseWriter, r *http.Request) {
	h.negotiationEvent(w, r, dsp.MsgContractAgreementVerification, dsp.RoleProvider)
}

func (h *handler) negotiationTermination(w http.ResponseWriter, r *http.Request) {
	var body negotiationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	pid := r.PathValue("pid")
	if body.ReceiverRole == "" {
		body.ReceiverRole = string(dsp.RoleProvider)
	}
	h.handleNegotiation(w, r, body.toMessage(dsp.MsgContractTermination, pid))
}

func (h *handler) negotiationEvent(w http.ResponseWriter, r *http.Request, msgType dsp.NegotiationMessageType, defaultReceiver dsp.Role) {
	var body negotiationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	pid := r.PathValue("pid")
	if body.ReceiverRole == "" {
		body.ReceiverRole = string(defaultReceiver)
	}
	h.handleNegotiation(w, r, body.toMessage(msgType, pid))
}

func (h *handler) handleNegotiation(w http.ResponseWriter, r *http.Request, msg negotiation.Message) {
	proc, err := h.app.Negotiation.Handle(r.Context(), msg)
	metrics.RecordNegotiationTransition(string(msg.Type), err)
	if err != nil {
		writeError(w, dsperr.As(err))
		return
	}
	h.deliverNegotiation(r.Context(), proc.AssociatedPeer, proc, msg.Type)
	writeJSON(w, http.StatusOK, negotiationProcessDTO(proc))
}

// deliverNegotiation hands step 6's outbound echo to peerKey over the
// engine's configured transport. A delivery failure does not affect the
// response: the transition already persisted, and the peer is expected to
// retry or drive the negotiation to TERMINATED.
func (h *handler) deliverNegotiation(ctx context.Context, peerKey string, proc dsp.NegotiationProcess, msgType dsp.NegotiationMessageType) {
	if peerKey == "" {
		return
	}
	outbound := dsp.NegotiationMessage{ProcessID: proc.ID, MessageType: msgType, Protocol: proc.Protocol}
	_ = h.app.Negotiation.Deliver(ctx, peerKey, outbound)
}

// registerPeerAddress makes address reachable under participantID in the
// mate directory, falling back to address itself as the key when the RPC
// caller named no participant. It is how the local RPC surface's
// explicitly-addressed peers feed the same Deliver path the native ingress
// handlers use.
func (h *handler) registerPeerAddress(participantID, address string) string {
	if address == "" {
		return ""
	}
	if participantID == "" {
		participantID = address
	}
	if dir, ok := h.app.Mates.(*collaborators.StaticMateDirectory); ok {
		dir.Put(participantID, collaborators.Peer{BaseURL: address})
	}
	return participantID
}

func negotiationProcessDTO(p dsp.NegotiationProcess) map[string]any {
	return map[string]any{
		"@type":           "NegotiationProcess",
		"processId":       p.ID,
		"state":           p.State,
		"role":            p.Role,
		"associatedPeer":  p.AssociatedPeer,
		"callbackAddress": p.CallbackAddress,
		"createdAt":       p.CreatedAt,
		"updatedAt":       p.UpdatedAt,
	}
}

// transferBody covers every TP message shape.
type transferBody struct {
	ProviderAddress     string `json:"providerAddress,omitempty"`
	ReceiverRole        string `json:"receiverRole,omitempty"`
	AgreementID         string `json:"agreementId,omitempty"`
	Direction           string `json:"direction,omitempty"`
	ConsumerDataAddress string `json:"consumerDataAddress,omitempty"`
	AssociatedPeer      string `json:"associatedPeer,omitempty"`
	CallbackAddress     string `json:"callbackAddress,omitempty"`
	Protocol            string `json:"protocol,omitempty"`
}

func (b transferBody) toMessage(msgType dsp.TransferMessageType, pid string) transfer.Message {
	return transfer.Message{
		Type:                msgType,
		ProcessID:           pid,
		ReceiverRole:        dsp.Role(b.ReceiverRole),
		AgreementID:         b.AgreementID,
		Direction:           dsp.TransferDirection(b.Direction),
		ConsumerDataAddress: b.ConsumerDataAddress,
		AssociatedPeer:      b.AssociatedPeer,
		CallbackAddress:     b.CallbackAddress,
		Protocol:            b.Protocol,
	}
}

func (h *handler) transferRequest(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if !decodeJSON(w, r, &body) {
		return
	}
	body.ReceiverRole = string(dsp.RoleProvider)
	h.handleTransfer(w, r, body.toMessage(dsp.MsgTransferRequest, ""))
}

func (h *handler) transferStart(w http.ResponseWriter, r *http.Request) {
	h.transferEvent(w, r, dsp.MsgTransferStart)
}

func (h *handler) transferSuspension(w http.ResponseWriter, r *http.Request) {
	h.transferEvent(w, r, dsp.MsgTransferSuspension)
}

func (h *handler) transferCompletion(w http.ResponseWriter, r *http.Request) {
	h.transferEvent(w, r, dsp.MsgTransferCompletion)
}

func (h *handler) transferTermination(w http.ResponseWriter, r *http.Request) {
	h.transferEvent(w, r, dsp.MsgTransferTermination)
}

func (h *handler) transferEvent(w http.ResponseWriter, r *http.Request, msgType dsp.TransferMessageType) {
	var body transferBody
	if !decodeJSON(w, r, &body) {
		return
	}
	pid := r.PathValue("pid")
	if body.ReceiverRole == "" {
		body.ReceiverRole = string(dsp.RoleProvider)
	}
	h.handleTransfer(w, r, body.toMessage(msgType, pid))
}

func (h *handler) handleTransfer(w http.ResponseWriter, r *http.Request, msg transfer.Message) {
	proc, err := h.app.Transfer.Handle(r.Context(), msg)
	metrics.RecordTransferTransition(string(msg.Type), err)
	if err != nil {
		writeError(w, dsperr.As(err))
		return
	}
	h.deliverTransfer(r.Context(), proc.AssociatedPeer, proc, msg.Type)
	writeJSON(w, http.StatusOK, transferProcessDTO(proc))
}

// deliverTransfer mirrors deliverNegotiation for the TP engine.
func (h *handler) deliverTransfer(ctx context.Context, peerKey string, proc dsp.TransferProcess, msgType dsp.TransferMessageType) {
	if peerKey == "" {
		return
	}
	outbound := dsp.TransferMessage{ProcessID: proc.ID, MessageType: msgType, Protocol: proc.Protocol}
	_ = h.app.Transfer.Deliver(ctx, peerKey, outbound)
}

func transferProcessDTO(p dsp.TransferProcess) map[string]any {
	return map[string]any{
		"@type":              "TransferProcess",
		"processId":          p.ID,
		"state":              p.State,
		"role":               p.Role,
		"dataPlaneSessionId": p.DataPlaneSessionID,
		"createdAt":          p.CreatedAt,
		"updatedAt":          p.UpdatedAt,
	}
}

// Local RPC surface: these originate a step from this connector's own
// operator and push the result to body.ProviderAddress rather than relying
// on an already-registered MateDirectory entry.

func (h *handler) rpcNegotiationRequest(w http.ResponseWriter, r *http.Request) {
	var body negotiationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ProviderAddress == "" {
		writeError(w, dsperr.BadPayload("providerAddress is required"))
		return
	}
	body.ReceiverRole = string(dsp.RoleProvider)
	msg := body.toMessage(dsp.MsgContractRequest, "")
	proc, err := h.app.Negotiation.Handle(r.Context(), msg)
	metrics.RecordNegotiationTransition(string(msg.Type), err)
	if err != nil {
		writeError(w, dsperr.As(err))
		return
	}
	peerKey := h.registerPeerAddress(proc.AssociatedPeer, body.ProviderAddress)
	h.deliverNegotiation(r.Context(), peerKey, proc, dsp.MsgContractRequest)
	writeJSON(w, http.StatusOK, negotiationProcessDTO(proc))
}

func (h *handler) rpcNegotiationOffer(w http.ResponseWriter, r *http.Request) {
	h.rpcNegotiationEvent(w, r, dsp.MsgContractOffer)
}

func (h *handler) rpcNegotiationEvents(w http.ResponseWriter, r *http.Request) {
	h.rpcNegotiationEvent(w, r, dsp.MsgContractEventAccepted)
}

func (h *handler) rpcNegotiationAgreement(w http.ResponseWriter, r *http.Request) {
	h.rpcNegotiationEvent(w, r, dsp.MsgContractAgreement)
}

func (h *handler) rpcNegotiationVerification(w http.ResponseWriter, r *http.Request) {
	h.rpcNegotiationEvent(w, r, dsp.MsgContractAgreementVerification)
}

func (h *handler) rpcNegotiationTermination(w http.ResponseWriter, r *http.Request) {
	h.rpcNegotiationEvent(w, r, dsp.MsgContractTermination)
}

func (h *handler) rpcNegotiationEvent(w http.ResponseWriter, r *http.Request, msgType dsp.NegotiationMessageType) {
	var body negotiationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	pid := r.PathValue("pid")
	if body.ReceiverRole == "" {
		body.ReceiverRole = string(dsp.RoleConsumer)
	}
	msg := body.toMessage(msgType, pid)
	proc, err := h.app.Negotiation.Handle(r.Context(), msg)
	metrics.RecordNegotiationTransition(string(msg.Type), err)
	if err != nil {
		writeError(w, dsperr.As(err))
		return
	}
	peerKey := h.registerPeerAddress(proc.AssociatedPeer, body.ProviderAddress)
	h.deliverNegotiation(r.Context(), peerKey, proc, msgType)
	writeJSON(w, http.StatusOK, negotiationProcessDTO(proc))
}

func (h *handler) rpcTransferRequest(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ProviderAddress == "" {
		writeError(w, dsperr.BadPayload("providerAddress is required"))
		return
	}
	body.ReceiverRole = string(dsp.RoleProvider)
	msg := body.toMessage(dsp.MsgTransferRequest, "")
	proc, err := h.app.Transfer.Handle(r.Context(), msg)
	metrics.RecordTransferTransition(string(msg.Type), err)
	if err != nil {
		writeError(w, dsperr.As(err))
		return
	}
	peerKey := h.registerPeerAddress(proc.AssociatedPeer, body.ProviderAddress)
	h.deliverTransfer(r.Context(), peerKey, proc, dsp.MsgTransferRequest)
	writeJSON(w, http.StatusOK, transferProcessDTO(proc))
}

func (h *handler) rpcTransferStart(w http.ResponseWriter, r *http.Request) {
	h.rpcTransferEvent(w, r, dsp.MsgTransferStart)
}

func (h *handler) rpcTransferSuspension(w http.ResponseWriter, r *http.Request) {
	h.rpcTransferEvent(w, r, dsp.MsgTransferSuspension)
}

func (h *handler) rpcTransferCompletion(w http.ResponseWriter, r *http.Request) {
	h.rpcTransferEvent(w, r, dsp.MsgTransferCompletion)
}

func (h *handler) rpcTransferTermination(w http.ResponseWriter, r *http.Request) {
	h.rpcTransferEvent(w, r, dsp.MsgTransferTermination)
}

func (h *handler) rpcTransferEvent(w http.ResponseWriter, r *http.Request, msgType dsp.TransferMessageType) {
	var body transferBody
	if !decodeJSON(w, r, &body) {
		return
	}
	pid := r.PathValue("pid")
	if body.ReceiverRole == "" {
		body.ReceiverRole = string(dsp.RoleConsumer)
	}
	msg := body.toMessage(msgType, pid)
	proc, err := h.app.Transfer.Handle(r.Context(), msg)
	metrics.RecordTransferTransition(string(msg.Type), err)
	if err != nil {
		writeError(w, dsperr.As(err))
		return
	}
	peerKey := h.registerPeerAddress(proc.AssociatedPeer, body.ProviderAddress)
	h.deliverTransfer(r.Context(), peerKey, proc, msgType)
	writeJSON(w, http.StatusOK, transferProcessDTO(proc))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []auditEntry{})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	limit = core.ClampLimit(limit, core.DefaultListLimit, core.MaxListLimit)
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, dsperr.BadPayload("malformed request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, e *dsperr.Error) {
	e = dsperr.As(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"@type":  "Error",
		"code":   e.Kind,
		"reason": e.Message,
	})
}
